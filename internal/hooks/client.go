// Package hooks contains the HTTP event callback client.
package hooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
)

const (
	requestTimeout = 5 * time.Second
	tokenValidity  = 2 * time.Minute
)

// Action identifies the event of a callback.
type Action string

// actions.
const (
	ActionOnConnect   Action = "on_connect"
	ActionOnClose     Action = "on_close"
	ActionOnPublish   Action = "on_publish"
	ActionOnUnpublish Action = "on_unpublish"
	ActionOnPlay      Action = "on_play"
	ActionOnStop      Action = "on_stop"
)

// Event is the payload of a callback.
type Event struct {
	Action   Action  `json:"action"`
	ClientID string  `json:"client_id"`
	IP       string  `json:"ip"`
	Vhost    string  `json:"vhost"`
	App      string  `json:"app"`
	Stream   string  `json:"stream,omitempty"`
	Param    string  `json:"param,omitempty"`
	TcURL    string  `json:"tcUrl,omitempty"`
	PageURL  string  `json:"pageUrl,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Client posts JSON events to the hook endpoints of a vhost.
// Endpoints are called in order; the first failure aborts the rest, so
// gated actions (connect, publish, play) are admitted only when every
// endpoint accepted.
type Client struct {
	Parent logger.Writer

	httpClient *http.Client
}

// Initialize initializes the client.
func (c *Client) Initialize() {
	c.httpClient = &http.Client{Timeout: requestTimeout}
}

// OnConnect fires the on_connect hooks. An error rejects the connection.
func (c *Client) OnConnect(cnf *conf.Vhost, ev Event) error {
	ev.Action = ActionOnConnect
	return c.fire(cnf, cnf.OnConnect, ev)
}

// OnClose fires the on_close hooks.
func (c *Client) OnClose(cnf *conf.Vhost, ev Event) error {
	ev.Action = ActionOnClose
	return c.fire(cnf, cnf.OnClose, ev)
}

// OnPublish fires the on_publish hooks. An error rejects the publish.
func (c *Client) OnPublish(cnf *conf.Vhost, ev Event) error {
	ev.Action = ActionOnPublish
	return c.fire(cnf, cnf.OnPublish, ev)
}

// OnUnpublish fires the on_unpublish hooks.
func (c *Client) OnUnpublish(cnf *conf.Vhost, ev Event) error {
	ev.Action = ActionOnUnpublish
	return c.fire(cnf, cnf.OnUnpublish, ev)
}

// OnPlay fires the on_play hooks. An error rejects the play.
func (c *Client) OnPlay(cnf *conf.Vhost, ev Event) error {
	ev.Action = ActionOnPlay
	return c.fire(cnf, cnf.OnPlay, ev)
}

// OnStop fires the on_stop hooks.
func (c *Client) OnStop(cnf *conf.Vhost, ev Event) error {
	ev.Action = ActionOnStop
	return c.fire(cnf, cnf.OnStop, ev)
}

func (c *Client) fire(cnf *conf.Vhost, urls []string, ev Event) error {
	if !cnf.HooksEnabled || len(urls) == 0 {
		return nil
	}

	// the vhost config may be swapped by a reload while requests are
	// in flight.
	urls = append([]string(nil), urls...)

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	for _, u := range urls {
		c.Parent.Log(logger.Debug, "%s hook: POST %s", ev.Action, u)

		if err := c.post(u, cnf.HooksSecret, ev.Action, body); err != nil {
			return fmt.Errorf("hook %s: %w", u, err)
		}
	}

	return nil
}

func (c *Client) post(u string, secret string, action Action, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if secret != "" {
		token, err2 := eventToken(secret, action)
		if err2 != nil {
			return err2
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("server replied with code %d", res.StatusCode)
	}

	return nil
}

// eventToken signs a short-lived token that lets the endpoint verify
// the event really comes from this server.
func eventToken(secret string, action Action) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    "live-server",
		"action": string(action),
		"iat":    now.Unix(),
		"exp":    now.Add(tokenValidity).Unix(),
	})
	return token.SignedString([]byte(secret))
}
