// Package repository stores items for the responder.
package repository

import (
	"context"
	"errors"
	"item-rsocket/model"
)

var ErrNotFound = errors.New("item not found")

// Repository is the persistence collaborator behind the item routes. Every
// method returning a list returns items in insertion order.
type Repository interface {
	// Save assigns an ID to a new item and stores it. Saving an item that
	// already has an ID overwrites it in place.
	Save(ctx context.Context, item model.Item) (model.Item, error)
	SaveAll(ctx context.Context, items []model.Item) ([]model.Item, error)
	FindByID(ctx context.Context, id string) (model.Item, error)
	FindAll(ctx context.Context) ([]model.Item, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error

	FindByNameContaining(ctx context.Context, partial string) ([]model.Item, error)
	FindByNameContainingIgnoreCase(ctx context.Context, partial string) ([]model.Item, error)
	FindByDescriptionContainingIgnoreCase(ctx context.Context, partial string) ([]model.Item, error)
	FindByNameContainingAndDescriptionContainingAllIgnoreCase(ctx context.Context, name, description string) ([]model.Item, error)
	FindByNameContainingOrDescriptionContainingAllIgnoreCase(ctx context.Context, name, description string) ([]model.Item, error)
}
