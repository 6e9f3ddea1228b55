// Package loadbalance chooses which discovered responder a requester connects
// to. The requester keeps a single shared connection, so a Balancer is
// consulted once per connection attempt rather than per interaction.
//
// Three strategies are implemented:
//   - RoundRobin:      Successive attempts walk the endpoint list
//   - WeightedRandom:  Heterogeneous responders (different CPU/memory)
//   - ConsistentHash:  A requester sticks to the same responder across reconnects
package loadbalance

import (
	"errors"
	"fmt"
	"item-rsocket/registry"
)

var ErrNoEndpoints = errors.New("no endpoints available")

// Balancer selects one endpoint. Pick must be goroutine-safe.
type Balancer interface {
	Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error)

	// Name returns the strategy name (for logging/config).
	Name() string
}

// New returns the balancer named by a config value. key feeds ConsistentHash
// and is ignored by the other strategies.
func New(name, key string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(key), nil
	default:
		return nil, fmt.Errorf("unknown balancer %q", name)
	}
}
