package loadbalance

import (
	"fmt"
	"hash/crc32"
	"item-rsocket/registry"
	"slices"
	"sort"
	"strings"
	"sync"
)

const virtualNodes = 100

// ConsistentHashBalancer maps a fixed requester key onto a hash ring of
// endpoints. The same requester lands on the same responder until the
// endpoint set changes, and a change only moves the requesters whose arc
// was affected.
//
// Each endpoint occupies virtualNodes points on the ring, which keeps the
// arcs of a handful of endpoints roughly even.
type ConsistentHashBalancer struct {
	key string

	mu    sync.Mutex
	sig   string // Sorted addresses the ring was built from
	ring  []uint32
	nodes map[uint32]string
}

func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{key: key}
}

// Pick rebuilds the ring when the endpoint set changed, then returns the
// first endpoint clockwise from the hash of the requester key.
func (b *ConsistentHashBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	b.mu.Lock()
	b.rebuild(endpoints)
	hash := crc32.ChecksumIEEE([]byte(b.key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	addr := b.nodes[b.ring[idx]]
	b.mu.Unlock()

	for i := range endpoints {
		if endpoints[i].Addr == addr {
			return &endpoints[i], nil
		}
	}
	return nil, fmt.Errorf("ring out of sync: %s not in endpoint list", addr)
}

func (b *ConsistentHashBalancer) rebuild(endpoints []registry.Endpoint) {
	addrs := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		addrs = append(addrs, e.Addr)
	}
	slices.Sort(addrs)
	sig := strings.Join(addrs, ",")
	if sig == b.sig {
		return
	}

	b.sig = sig
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]string, len(addrs)*virtualNodes)
	for _, addr := range addrs {
		for i := 0; i < virtualNodes; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", addr, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = addr
		}
	}
	slices.Sort(b.ring)
}

func (b *ConsistentHashBalancer) Name() string {
	return "consistent_hash"
}
