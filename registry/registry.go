// Package registry lets responders announce themselves and requesters find them.
package registry

import "context"

// Endpoint is one responder instance serving a route namespace
// (the part of a route before the first '.', e.g. "newItems").
type Endpoint struct {
	Addr    string
	Weight  int // Weight for load balancing
	Version string
}

type Registry interface {
	Register(ctx context.Context, namespace string, endpoint Endpoint, ttl int64) error
	Deregister(ctx context.Context, namespace string, addr string) error
	Discover(ctx context.Context, namespace string) ([]Endpoint, error)
	Watch(ctx context.Context, namespace string) <-chan []Endpoint
}
