package items

import (
	"context"
	"errors"
	"fmt"
	"io"
	"item-rsocket/client"
	"item-rsocket/model"
	"item-rsocket/rpcerr"
	"item-rsocket/throttle"
	"sync"
	"time"
)

// ErrIDAssigned rejects a create that already carries an ID. IDs are assigned
// on save; accepting one would overwrite the stored item.
var ErrIDAssigned = fmt.Errorf("%w: item id is assigned on save and must be empty", rpcerr.ErrInvalidRequest)

// Requester is the typed item API over the shared client.
type Requester struct {
	client *client.Client
	pace   time.Duration
}

// NewRequester returns a requester whose request-streams deliver at most one
// item per pace. Zero disables pacing.
func NewRequester(c *client.Client, pace time.Duration) *Requester {
	return &Requester{client: c, pace: pace}
}

// Create stores item remotely and returns the stored copy with its ID.
func (r *Requester) Create(ctx context.Context, item model.Item) (model.Item, error) {
	if item.ID != "" {
		return model.Item{}, ErrIDAssigned
	}
	var saved model.Item
	if err := r.client.RequestResponse(ctx, RouteRequestResponse, item, &saved); err != nil {
		return model.Item{}, err
	}
	return saved, nil
}

// Submit sends item without waiting for it to be stored.
func (r *Requester) Submit(ctx context.Context, item model.Item) error {
	if item.ID != "" {
		return ErrIDAssigned
	}
	return r.client.FireAndForget(ctx, RouteFireAndForget, item)
}

// Stream delivers every stored item, paced, then closes.
func (r *Requester) Stream(ctx context.Context) (*Feed, error) {
	s, err := r.client.RequestStream(ctx, RouteRequestStream, nil)
	if err != nil {
		return nil, err
	}
	return newFeed(ctx, s, r.pace), nil
}

// Watch delivers items as they are saved until ctx ends or the feed is
// closed.
func (r *Requester) Watch(ctx context.Context) (*Feed, error) {
	s, err := r.client.Subscribe(ctx, RouteMonitor)
	if err != nil {
		return nil, err
	}
	return newFeed(ctx, s, 0), nil
}

// Feed exposes a stream as a channel. Items closes when the stream ends;
// Err then tells whether it ended in failure.
type Feed struct {
	Items <-chan model.Item

	stream *client.Stream
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func newFeed(ctx context.Context, s *client.Stream, pace time.Duration) *Feed {
	ctx, cancel := context.WithCancel(ctx)
	f := &Feed{stream: s, cancel: cancel}

	raw := make(chan model.Item)
	go func() {
		defer close(raw)
		defer s.Close()
		for {
			var item model.Item
			if err := s.Recv(&item); err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					f.setErr(err)
				}
				return
			}
			select {
			case raw <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	f.Items = throttle.Pace(ctx, raw, pace)
	return f
}

func (f *Feed) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Err returns the failure that ended the feed, nil after a normal completion
// or a cancellation.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close cancels the stream. Items is closed shortly after.
func (f *Feed) Close() {
	f.cancel()
	f.stream.Close()
}
