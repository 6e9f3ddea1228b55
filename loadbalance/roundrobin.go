package loadbalance

import (
	"item-rsocket/registry"
	"sync/atomic"
)

// RoundRobinBalancer walks the endpoint list in order, so a reconnect after
// a failure moves on to the next responder.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	index := (b.counter.Add(1) - 1) % uint64(len(endpoints))
	return &endpoints[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "round_robin"
}
