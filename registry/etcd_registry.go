// Package registry provides the etcd-based implementation of the Registry interface.
//
// Layout in etcd:
//
//	Key:   /item-rsocket/{namespace}/{addr}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL-based leases: if a responder crashes, the lease
// expires and the entry disappears on its own.
package registry

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/item-rsocket/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	logger *zap.Logger
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 3 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, logger: logger}, nil
}

func namespacePrefix(namespace string) string {
	return keyPrefix + namespace + "/"
}

// Register adds an endpoint with a TTL lease and keeps the lease alive until
// the registry is closed.
//
// The lease ID stays local: several responders may share one EtcdRegistry.
func (r *EtcdRegistry) Register(ctx context.Context, namespace string, endpoint Endpoint, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(endpoint)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, namespacePrefix(namespace)+endpoint.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// KeepAlive must outlive the registering call, so it is bound to the
	// client rather than ctx.
	ch, err := r.client.KeepAlive(r.client.Ctx(), lease.ID)
	if err != nil {
		return err
	}

	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("namespace", namespace), zap.String("addr", endpoint.Addr))
	}()
	return nil
}

// Deregister removes an endpoint. Responders call it before they stop accepting.
func (r *EtcdRegistry) Deregister(ctx context.Context, namespace string, addr string) error {
	_, err := r.client.Delete(ctx, namespacePrefix(namespace)+addr)
	return err
}

// Watch emits the full endpoint list of a namespace whenever it changes,
// until ctx is cancelled.
func (r *EtcdRegistry) Watch(ctx context.Context, namespace string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, namespacePrefix(namespace), clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch instead of applying individual events.
			endpoints, err := r.Discover(ctx, namespace)
			if err != nil {
				r.logger.Warn("refresh endpoints", zap.String("namespace", namespace), zap.Error(err))
				continue
			}
			select {
			case ch <- endpoints:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered endpoints of a namespace.
func (r *EtcdRegistry) Discover(ctx context.Context, namespace string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, namespacePrefix(namespace), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var endpoint Endpoint
		if err := json.Unmarshal(kv.Value, &endpoint); err != nil {
			continue // Skip malformed entries
		}
		endpoints = append(endpoints, endpoint)
	}

	return endpoints, nil
}

// Close releases the etcd client; leases stop being renewed.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
