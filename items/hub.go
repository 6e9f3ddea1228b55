package items

import (
	"item-rsocket/model"
	"sync"

	"go.uber.org/zap"
)

const subscriberBuffer = 64

// Hub fans newly saved items out to every monitor subscription.
type Hub struct {
	logger *zap.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan model.Item
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, subs: make(map[int]chan model.Item)}
}

// Subscribe returns a channel of items saved from now on, and a function that
// ends the subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan model.Item, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan model.Item, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish never blocks: a subscriber whose buffer is full misses the item.
func (h *Hub) Publish(item model.Item) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- item:
		default:
			h.logger.Warn("monitor subscriber lagging, item dropped", zap.Int("subscriber", id), zap.String("id", item.ID))
		}
	}
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
