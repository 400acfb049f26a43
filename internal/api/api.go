// Package api contains the control API server.
package api

import (
	"net/http"
	_ "net/http/pprof" // registers the pprof handlers on the default mux
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
	"github.com/zhengqiangwang/live-server-sub002/internal/protocols/httpp"
	"github.com/zhengqiangwang/live-server-sub002/internal/stats"
)

func paramUUID(ctx *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.AbortWithStatus(http.StatusBadRequest)
		return uuid.UUID{}, false
	}
	return id, true
}

// API is the control API server.
type API struct {
	Address        string
	AllowOrigin    string
	TrustedProxies conf.IPNetworks
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PPROF          bool
	Stats          *stats.Stats
	Parent         logger.Writer

	httpServer *httpp.Server
}

// Initialize initializes the API server.
func (a *API) Initialize() error {
	router := gin.New()
	router.SetTrustedProxies(a.TrustedProxies.ToTrustedProxies()) //nolint:errcheck

	router.Use(a.middlewareOrigin)
	router.Use(httpp.MethodOverride)

	group := router.Group("/v1")

	group.GET("/summaries", a.onSummaries)
	group.GET("/vhosts", a.onVhostsList)
	group.GET("/streams", a.onStreamsList)
	group.GET("/clients", a.onClientsList)
	group.GET("/clients/:id", a.onClientsGet)
	group.DELETE("/clients/:id", a.onClientsKick)

	if a.PPROF {
		router.Any("/debug/pprof/*any", gin.WrapH(http.DefaultServeMux))
	}

	a.httpServer = &httpp.Server{
		Address:      a.Address,
		ReadTimeout:  a.ReadTimeout,
		WriteTimeout: a.WriteTimeout,
		Handler:      router,
		Parent:       a,
	}
	err := a.httpServer.Initialize()
	if err != nil {
		return err
	}

	a.Log(logger.Info, "listener opened on %s", a.Address)

	return nil
}

// Close closes the API server.
func (a *API) Close() {
	a.Log(logger.Info, "listener is closing")
	a.httpServer.Close()
}

// Log implements logger.Writer.
func (a *API) Log(level logger.Level, format string, args ...interface{}) {
	a.Parent.Log(level, "[API] "+format, args...)
}

func (a *API) middlewareOrigin(ctx *gin.Context) {
	ctx.Header("Access-Control-Allow-Origin", a.AllowOrigin)
	ctx.Header("Access-Control-Allow-Credentials", "true")

	// preflight requests
	if ctx.Request.Method == http.MethodOptions &&
		ctx.Request.Header.Get("Access-Control-Request-Method") != "" {
		ctx.Header("Access-Control-Allow-Methods", "OPTIONS, GET, DELETE")
		ctx.Header("Access-Control-Allow-Headers", "Authorization")
		ctx.AbortWithStatus(http.StatusNoContent)
		return
	}
}

func (a *API) onSummaries(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, a.Stats.APISummary())
}

func (a *API) onVhostsList(ctx *gin.Context) {
	data := a.Stats.APIVhostsList()
	data.ItemCount = len(data.Items)

	pageCount, err := paginate(&data.Items, ctx.Query("itemsPerPage"), ctx.Query("page"))
	if err != nil {
		ctx.AbortWithStatus(http.StatusBadRequest)
		return
	}
	data.PageCount = pageCount

	ctx.JSON(http.StatusOK, data)
}

func (a *API) onStreamsList(ctx *gin.Context) {
	data := a.Stats.APIStreamsList()
	data.ItemCount = len(data.Items)

	pageCount, err := paginate(&data.Items, ctx.Query("itemsPerPage"), ctx.Query("page"))
	if err != nil {
		ctx.AbortWithStatus(http.StatusBadRequest)
		return
	}
	data.PageCount = pageCount

	ctx.JSON(http.StatusOK, data)
}

func (a *API) onClientsList(ctx *gin.Context) {
	data := a.Stats.APIClientsList()
	data.ItemCount = len(data.Items)

	pageCount, err := paginate(&data.Items, ctx.Query("itemsPerPage"), ctx.Query("page"))
	if err != nil {
		ctx.AbortWithStatus(http.StatusBadRequest)
		return
	}
	data.PageCount = pageCount

	ctx.JSON(http.StatusOK, data)
}

func (a *API) onClientsGet(ctx *gin.Context) {
	id, ok := paramUUID(ctx)
	if !ok {
		return
	}

	data, ok := a.Stats.APIClientsGet(id)
	if !ok {
		ctx.AbortWithStatus(http.StatusNotFound)
		return
	}

	ctx.JSON(http.StatusOK, data)
}

func (a *API) onClientsKick(ctx *gin.Context) {
	id, ok := paramUUID(ctx)
	if !ok {
		return
	}

	err := a.Stats.KickClient(id)
	if err != nil {
		ctx.AbortWithStatus(http.StatusNotFound)
		return
	}

	ctx.Status(http.StatusOK)
}
