// Package gateway is the HTTP face of the requester: each route turns an
// HTTP call into one interaction over the shared connection.
//
//	POST /items/request-response  → request-response, 201 + stored item
//	GET  /items/request-stream    → request-stream, NDJSON, paced
//	POST /items/fire-and-forget   → fire-and-forget, 201, empty body
//	GET  /items                   → subscribe, server-sent events
//	GET  /metrics                 → Prometheus
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"item-rsocket/items"
	"item-rsocket/model"
	"item-rsocket/rpcerr"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	LocationRequestResponse = "/items/request-response"
	LocationFireAndForget   = "/items/fire-and-forget"

	contentTypeNDJSON = "application/x-ndjson"

	DefaultMaxBodyBytes = 1 << 20
)

type Options struct {
	Logger *zap.Logger
	// RequestTimeout bounds request-response and fire-and-forget calls.
	// Zero leaves them bounded only by the HTTP request.
	RequestTimeout time.Duration
	// Registry receives the HTTP metrics and is served on /metrics.
	// Nil disables both.
	Registry *prometheus.Registry
	// MaxBodyBytes caps request bodies. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

type Gateway struct {
	requester *items.Requester
	logger    *zap.Logger
	timeout   time.Duration
	maxBody   int64
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
}

func New(requester *items.Requester, opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	g := &Gateway{
		requester: requester,
		logger:    opts.Logger,
		timeout:   opts.RequestTimeout,
		maxBody:   opts.MaxBodyBytes,
		registry:  opts.Registry,
	}
	if opts.Registry != nil {
		g.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "itemrsocket",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "path", "status"})
		opts.Registry.MustRegister(g.requests)
	}
	return g
}

// Handler builds the gin engine.
func (g *Gateway) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(g.logger), g.countRequests())

	r.POST(LocationRequestResponse, g.requestResponse)
	r.GET("/items/request-stream", g.requestStream)
	r.POST(LocationFireAndForget, g.fireAndForget)
	r.GET("/items", g.liveUpdates)
	if g.registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{})))
	}
	return r
}

func (g *Gateway) callContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(c.Request.Context(), g.timeout)
	}
	return context.WithCancel(c.Request.Context())
}

// bindItem decodes the body, answering 413 past the size cap and 400 for
// anything else it cannot read.
func (g *Gateway) bindItem(c *gin.Context) (model.Item, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, g.maxBody)

	var item model.Item
	if err := c.ShouldBindJSON(&item); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return model.Item{}, false
	}
	return item, true
}

func (g *Gateway) requestResponse(c *gin.Context) {
	item, ok := g.bindItem(c)
	if !ok {
		return
	}

	ctx, cancel := g.callContext(c)
	defer cancel()
	saved, err := g.requester.Create(ctx, item)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.Header("Location", LocationRequestResponse)
	c.JSON(http.StatusCreated, saved)
}

func (g *Gateway) fireAndForget(c *gin.Context) {
	item, ok := g.bindItem(c)
	if !ok {
		return
	}

	ctx, cancel := g.callContext(c)
	defer cancel()
	if err := g.requester.Submit(ctx, item); err != nil {
		g.fail(c, err)
		return
	}
	c.Header("Location", LocationFireAndForget)
	c.Status(http.StatusCreated)
}

// requestStream writes one JSON item per line as items arrive.
func (g *Gateway) requestStream(c *gin.Context) {
	feed, err := g.requester.Stream(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	defer feed.Close()

	c.Header("Content-Type", contentTypeNDJSON)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	enc := json.NewEncoder(c.Writer)
	c.Stream(func(w io.Writer) bool {
		item, ok := <-feed.Items
		if !ok {
			return false
		}
		if err := enc.Encode(item); err != nil {
			return false
		}
		return true
	})
	if err := feed.Err(); err != nil {
		g.logger.Warn("item stream ended with error", zap.Error(err))
	}
}

// liveUpdates relays the monitor subscription as server-sent events until
// the HTTP client goes away.
func (g *Gateway) liveUpdates(c *gin.Context) {
	feed, err := g.requester.Watch(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	defer feed.Close()

	// Headers go out before the first event, which may be a long time coming.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		item, ok := <-feed.Items
		if !ok {
			return false
		}
		c.SSEvent("message", item)
		return true
	})
	if err := feed.Err(); err != nil {
		g.logger.Warn("live updates ended with error", zap.Error(err))
	}
}

func (g *Gateway) fail(c *gin.Context, err error) {
	status := statusFor(err)
	c.Error(err)
	c.JSON(status, gin.H{"error": err.Error(), "kind": rpcerr.Classify(err).String()})
}

// statusFor maps the failure taxonomy onto HTTP.
func statusFor(err error) int {
	switch rpcerr.Classify(err) {
	case rpcerr.ClassInvalid:
		return http.StatusBadRequest
	case rpcerr.ClassTooLarge:
		return http.StatusRequestEntityTooLarge
	case rpcerr.ClassConnection:
		return http.StatusServiceUnavailable
	case rpcerr.ClassConnectionLost, rpcerr.ClassSend, rpcerr.ClassRemote:
		return http.StatusBadGateway
	case rpcerr.ClassTimeout:
		return http.StatusGatewayTimeout
	case rpcerr.ClassCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
