package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"item-rsocket/model"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Keys are item/<uuidv7>. Version 7 UUIDs sort by creation time, so a
// prefix scan returns items in insertion order.
const keyPrefix = "item/"

func itemKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// BadgerRepository keeps items in a badger database.
type BadgerRepository struct {
	db     *badger.DB
	logger *zap.Logger
}

// Open opens (or creates) the database in dir. An empty dir or inMemory
// keeps everything in memory.
func Open(dir string, inMemory bool, logger *zap.Logger) (*BadgerRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		inMemory = true
	}

	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	logger.Info("item store opened", zap.String("dir", dir), zap.Bool("in_memory", inMemory))
	return &BadgerRepository{db: db, logger: logger}, nil
}

func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

func (r *BadgerRepository) Save(ctx context.Context, item model.Item) (model.Item, error) {
	saved, err := r.SaveAll(ctx, []model.Item{item})
	if err != nil {
		return model.Item{}, err
	}
	return saved[0], nil
}

// SaveAll stores all items in one transaction.
func (r *BadgerRepository) SaveAll(ctx context.Context, items []model.Item) ([]model.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	saved := make([]model.Item, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return nil, fmt.Errorf("generate id: %w", err)
			}
			item.ID = id.String()
		}
		saved = append(saved, item)
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		for _, item := range saved {
			val, err := json.Marshal(item)
			if err != nil {
				return err
			}
			if err := txn.Set(itemKey(item.ID), val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save items: %w", err)
	}
	return saved, nil
}

func (r *BadgerRepository) FindByID(ctx context.Context, id string) (model.Item, error) {
	var item model.Item
	err := r.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(itemKey(id))
		if err != nil {
			return err
		}
		return entry.Value(func(val []byte) error {
			return json.Unmarshal(val, &item)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("find item %s: %w", id, err)
	}
	return item, nil
}

func (r *BadgerRepository) FindAll(ctx context.Context) ([]model.Item, error) {
	return r.scan(ctx, func(model.Item) bool { return true })
}

func (r *BadgerRepository) Count(ctx context.Context) (int, error) {
	n := 0
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

func (r *BadgerRepository) Delete(ctx context.Context, id string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(itemKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	return nil
}

func (r *BadgerRepository) DeleteAll(ctx context.Context) error {
	if err := r.db.DropPrefix([]byte(keyPrefix)); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	return nil
}

func (r *BadgerRepository) FindByNameContaining(ctx context.Context, partial string) ([]model.Item, error) {
	return r.scan(ctx, func(it model.Item) bool {
		return strings.Contains(it.Name, partial)
	})
}

func (r *BadgerRepository) FindByNameContainingIgnoreCase(ctx context.Context, partial string) ([]model.Item, error) {
	return r.scan(ctx, func(it model.Item) bool {
		return containsFold(it.Name, partial)
	})
}

func (r *BadgerRepository) FindByDescriptionContainingIgnoreCase(ctx context.Context, partial string) ([]model.Item, error) {
	return r.scan(ctx, func(it model.Item) bool {
		return containsFold(it.Description, partial)
	})
}

func (r *BadgerRepository) FindByNameContainingAndDescriptionContainingAllIgnoreCase(ctx context.Context, name, description string) ([]model.Item, error) {
	return r.scan(ctx, func(it model.Item) bool {
		return containsFold(it.Name, name) && containsFold(it.Description, description)
	})
}

func (r *BadgerRepository) FindByNameContainingOrDescriptionContainingAllIgnoreCase(ctx context.Context, name, description string) ([]model.Item, error) {
	return r.scan(ctx, func(it model.Item) bool {
		return containsFold(it.Name, name) || containsFold(it.Description, description)
	})
}

// scan walks all items in key order and keeps those matching keep.
func (r *BadgerRepository) scan(ctx context.Context, keep func(model.Item) bool) ([]model.Item, error) {
	var items []model.Item
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var item model.Item
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return err
			}
			if keep(item) {
				items = append(items, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan items: %w", err)
	}
	return items, nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// badgerLogger routes badger's printf-style logs into zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.s.Debugf(format, args...) }
