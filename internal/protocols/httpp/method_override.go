package httpp

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MethodOverride is a gin middleware that supports JSONP-style clients:
// when the request carries a "callback" query parameter, the "method"
// query parameter overrides the HTTP method.
func MethodOverride(ctx *gin.Context) {
	if ctx.Query("callback") == "" {
		return
	}

	if m := ctx.Query("method"); m != "" {
		switch m {
		case http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodPut:
			ctx.Request.Method = m
		}
	}
}
