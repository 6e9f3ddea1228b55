package items

import (
	"context"
	"fmt"
	"item-rsocket/middleware"
	"item-rsocket/model"
	"item-rsocket/repository"

	"go.uber.org/zap"
)

// Handlers serves the item routes from a repository.
type Handlers struct {
	repo   repository.Repository
	hub    *Hub
	logger *zap.Logger
}

func NewHandlers(repo repository.Repository, hub *Hub, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	return &Handlers{repo: repo, hub: hub, logger: logger}
}

// Router is what Handlers registers on; *server.Server implements it.
type Router interface {
	Handle(route string, h middleware.HandlerFunc) error
}

func (h *Handlers) Register(r Router) error {
	for route, fn := range map[string]middleware.HandlerFunc{
		RouteRequestResponse: h.RequestResponse,
		RouteRequestStream:   h.RequestStream,
		RouteFireAndForget:   h.FireAndForget,
		RouteMonitor:         h.Monitor,
	} {
		if err := r.Handle(route, fn); err != nil {
			return err
		}
	}
	return nil
}

// RequestResponse saves the item and answers with the stored copy.
func (h *Handlers) RequestResponse(ctx context.Context, req *middleware.Request, sink middleware.Sink) error {
	saved, err := h.save(ctx, req)
	if err != nil {
		return err
	}
	return sink.Next(saved)
}

// RequestStream emits every stored item, then completes.
func (h *Handlers) RequestStream(ctx context.Context, req *middleware.Request, sink middleware.Sink) error {
	all, err := h.repo.FindAll(ctx)
	if err != nil {
		return err
	}
	for _, item := range all {
		if err := sink.Next(item); err != nil {
			return err
		}
	}
	return nil
}

// FireAndForget saves the item; nobody hears about failures but the log.
func (h *Handlers) FireAndForget(ctx context.Context, req *middleware.Request, sink middleware.Sink) error {
	_, err := h.save(ctx, req)
	return err
}

// Monitor pushes every item saved after the subscription started, until the
// requester cancels.
func (h *Handlers) Monitor(ctx context.Context, req *middleware.Request, sink middleware.Sink) error {
	updates, cancel := h.hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-updates:
			if err := sink.Next(item); err != nil {
				return err
			}
		}
	}
}

func (h *Handlers) save(ctx context.Context, req *middleware.Request) (model.Item, error) {
	var item model.Item
	if err := req.Decode(&item); err != nil {
		return model.Item{}, fmt.Errorf("decode item: %w", err)
	}
	if item.ID != "" {
		return model.Item{}, ErrIDAssigned
	}
	saved, err := h.repo.Save(ctx, item)
	if err != nil {
		return model.Item{}, err
	}
	h.logger.Debug("item saved", zap.String("route", req.Route), zap.Stringer("item", saved))
	h.hub.Publish(saved)
	return saved, nil
}
