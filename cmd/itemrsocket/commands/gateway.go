package commands

import (
	"context"
	"errors"
	"fmt"
	"item-rsocket/client"
	"item-rsocket/codec"
	"item-rsocket/connection"
	"item-rsocket/gateway"
	"item-rsocket/items"
	"item-rsocket/loadbalance"
	"item-rsocket/metric"
	"item-rsocket/registry"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func gatewayCmd() *cobra.Command {
	var httpAddr, responderAddr string
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve the item HTTP API through the shared responder connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if httpAddr != "" {
				cfg.HTTP.Addr = httpAddr
			}
			if responderAddr != "" {
				cfg.Client.Addr = responderAddr
			}
			return runGateway(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address (overrides http.addr)")
	cmd.Flags().StringVar(&responderAddr, "responder", "", "responder host:port (overrides client.addr)")
	return cmd
}

func runGateway(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := metric.New(reg)

	opts, closeResolver, err := connectionOptions(metrics)
	if err != nil {
		return err
	}
	defer closeResolver()

	supplier := connection.NewSupplier(opts)
	defer supplier.Close()

	c := client.New(supplier, client.Options{
		Window:  cfg.Client.Window,
		Logger:  logger.Named("client"),
		Metrics: metrics,
	})
	gin.SetMode(gin.ReleaseMode)
	gw := gateway.New(items.NewRequester(c, cfg.Client.ThrottleInterval), gateway.Options{
		Logger:         logger.Named("http"),
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		Registry:       reg,
	})

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: gw.Handler()}
	errc := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", cfg.HTTP.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("gateway shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// connectionOptions turns the client section into supplier options. The
// returned func releases the discovery watch, if any.
func connectionOptions(metrics *metric.Metrics) (connection.Options, func(), error) {
	opts := connection.DefaultOptions()
	noop := func() {}

	codecType, err := codec.ParseCodecType(cfg.Client.Codec)
	if err != nil {
		return opts, noop, err
	}
	policy, err := connection.ParseFailurePolicy(cfg.Client.FailurePolicy)
	if err != nil {
		return opts, noop, err
	}

	opts.Codec = codecType
	opts.FailurePolicy = policy
	opts.MaxRetries = cfg.Client.MaxRetries
	opts.Backoff.InitialDelay = cfg.Client.RetryDelay
	opts.Backoff.MaxDelay = cfg.Client.MaxRetryDelay
	opts.DialTimeout = cfg.Client.DialTimeout
	opts.Heartbeat = cfg.Client.Heartbeat
	opts.Logger = logger.Named("connection")
	opts.Metrics = metrics
	opts.Resolver = connection.StaticResolver(cfg.Client.Addr)

	if !cfg.Client.UseRegistry {
		return opts, noop, nil
	}

	etcd, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, logger)
	if err != nil {
		return opts, noop, fmt.Errorf("connect registry: %w", err)
	}
	key := cfg.Registry.Key
	if key == "" {
		key, _ = os.Hostname()
	}
	balancer, err := loadbalance.New(cfg.Registry.Balancer, key)
	if err != nil {
		etcd.Close()
		return opts, noop, err
	}
	resolver := connection.NewRegistryResolver(etcd, items.Namespace, balancer, logger.Named("resolver"))
	opts.Resolver = resolver
	return opts, func() {
		resolver.Close()
		etcd.Close()
	}, nil
}
