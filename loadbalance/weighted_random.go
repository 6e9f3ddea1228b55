package loadbalance

import (
	"item-rsocket/registry"
	"math/rand/v2"
)

// WeightedRandomBalancer picks endpoints with probability proportional to
// their weight. Endpoints without a positive weight count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	total := 0
	for _, e := range endpoints {
		total += weightOf(e)
	}

	r := rand.IntN(total)
	for i := range endpoints {
		r -= weightOf(endpoints[i])
		if r < 0 {
			return &endpoints[i], nil
		}
	}
	return &endpoints[len(endpoints)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "weighted_random"
}

func weightOf(e registry.Endpoint) int {
	if e.Weight <= 0 {
		return 1
	}
	return e.Weight
}
