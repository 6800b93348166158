package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/user/lumos/internal/entity"
)

// Handler answers relay requests. usecase.Relay implements it.
type Handler interface {
	Handle(ctx context.Context, req entity.Request) entity.Response
}

// LocalChannel calls a Handler in-process.
type LocalChannel struct {
	handler Handler
}

// NewLocalChannel wraps h.
func NewLocalChannel(h Handler) *LocalChannel {
	return &LocalChannel{handler: h}
}

func (c *LocalChannel) Send(ctx context.Context, req entity.Request) (entity.Response, error) {
	if err := ctx.Err(); err != nil {
		return entity.Response{}, err
	}
	return c.handler.Handle(ctx, req), nil
}

// RelayPath is where the HTTP relay listens.
const RelayPath = "/api/relay"

// HTTPChannel posts envelopes to a relay server.
type HTTPChannel struct {
	http *resty.Client
}

// NewHTTPChannel creates a channel to the relay at baseURL. A nil hc uses
// resty's default client.
func NewHTTPChannel(baseURL string, hc *http.Client) *HTTPChannel {
	var c *resty.Client
	if hc != nil {
		c = resty.NewWithClient(hc)
	} else {
		c = resty.New()
	}
	c.SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)
	return &HTTPChannel{http: c}
}

func (c *HTTPChannel) Send(ctx context.Context, req entity.Request) (entity.Response, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(RelayPath)
	if err != nil {
		return entity.Response{}, err
	}
	var out entity.Response
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return entity.Response{}, fmt.Errorf("decode relay response (http %d): %w", res.StatusCode(), err)
	}
	return out, nil
}
