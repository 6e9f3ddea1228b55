package server

import (
	"context"
	"fmt"
	"item-rsocket/middleware"
	"sort"
	"strings"
)

type route struct {
	name      string
	namespace string
	handler   middleware.HandlerFunc
}

// namespaceOf returns the part of a route before the first '.',
// "newItems.request-response" → "newItems". Namespaces are what gets
// registered for discovery.
func namespaceOf(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

// Handle binds a route to a handler. Routes are fixed before Serve; one route
// per interaction purpose.
func (svr *Server) Handle(name string, h middleware.HandlerFunc) error {
	if name == "" || len(name) > 255 {
		return fmt.Errorf("rpc: route %q must be 1..255 bytes", name)
	}
	if h == nil {
		return fmt.Errorf("rpc: nil handler for route %q", name)
	}

	svr.routesMu.Lock()
	defer svr.routesMu.Unlock()
	if _, dup := svr.routes[name]; dup {
		return fmt.Errorf("rpc: route %q already registered", name)
	}
	svr.routes[name] = &route{name: name, namespace: namespaceOf(name), handler: h}
	return nil
}

func (svr *Server) namespaces() []string {
	svr.routesMu.RLock()
	defer svr.routesMu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, r := range svr.routes {
		if _, ok := seen[r.namespace]; ok {
			continue
		}
		seen[r.namespace] = struct{}{}
		out = append(out, r.namespace)
	}
	sort.Strings(out)
	return out
}

// businessHandler dispatches to the route's handler. The middleware chain
// wraps it.
func (svr *Server) businessHandler(ctx context.Context, req *middleware.Request, sink middleware.Sink) error {
	svr.routesMu.RLock()
	r, ok := svr.routes[req.Route]
	svr.routesMu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler for route %q", req.Route)
	}
	return r.handler(ctx, req, sink)
}
