package connection

import (
	"context"
	"fmt"
	"item-rsocket/loadbalance"
	"item-rsocket/registry"
	"sync"

	"go.uber.org/zap"
)

// DefaultAddr is where the responder listens unless configured otherwise.
const DefaultAddr = "localhost:7000"

// Resolver yields the address to dial for one connection attempt. It is
// consulted on every attempt, so a resolver backed by discovery can move a
// retry to another responder.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// StaticResolver always returns the same host:port.
type StaticResolver string

func (r StaticResolver) Resolve(context.Context) (string, error) {
	if r == "" {
		return DefaultAddr, nil
	}
	return string(r), nil
}

// RegistryResolver discovers responders of a route namespace and lets a
// balancer choose among them. A watch keeps the endpoint list current
// between attempts; without a snapshot it falls back to Discover.
type RegistryResolver struct {
	reg       registry.Registry
	namespace string
	balancer  loadbalance.Balancer
	logger    *zap.Logger

	mu        sync.RWMutex
	endpoints []registry.Endpoint
	watching  bool
	cancel    context.CancelFunc
}

func NewRegistryResolver(reg registry.Registry, namespace string, balancer loadbalance.Balancer, logger *zap.Logger) *RegistryResolver {
	if balancer == nil {
		balancer = &loadbalance.RoundRobinBalancer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryResolver{reg: reg, namespace: namespace, balancer: balancer, logger: logger}
}

func (r *RegistryResolver) Resolve(ctx context.Context) (string, error) {
	r.startWatch()

	r.mu.RLock()
	endpoints := r.endpoints
	r.mu.RUnlock()

	if len(endpoints) == 0 {
		found, err := r.reg.Discover(ctx, r.namespace)
		if err != nil {
			return "", fmt.Errorf("discover %s: %w", r.namespace, err)
		}
		endpoints = found
	}

	e, err := r.balancer.Pick(endpoints)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", r.namespace, err)
	}
	return e.Addr, nil
}

func (r *RegistryResolver) startWatch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watching {
		return
	}
	r.watching = true

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	updates := r.reg.Watch(ctx, r.namespace)
	go func() {
		for endpoints := range updates {
			r.mu.Lock()
			r.endpoints = endpoints
			r.mu.Unlock()
			r.logger.Debug("endpoints changed", zap.String("namespace", r.namespace), zap.Int("count", len(endpoints)))
		}
	}()
}

// Close stops the watch.
func (r *RegistryResolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}
