package commands

import (
	"context"
	"item-rsocket/items"
	"item-rsocket/middleware"
	"item-rsocket/registry"
	"item-rsocket/repository"
	"item-rsocket/server"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func responderCmd() *cobra.Command {
	var listen, dataDir string
	cmd := &cobra.Command{
		Use:   "responder",
		Short: "Serve the newItems routes from a badger store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if dataDir != "" {
				cfg.Storage.Dir = dataDir
				cfg.Storage.InMemory = false
			}
			return runResponder(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")
	cmd.Flags().StringVar(&dataDir, "data", "", "badger directory; in-memory when empty")
	return cmd
}

func runResponder(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := repository.Open(cfg.Storage.Dir, cfg.Storage.InMemory, logger.Named("store"))
	if err != nil {
		return err
	}
	defer repo.Close()

	svr := server.NewServer(logger.Named("responder"))
	svr.Use(middleware.LoggingMiddleware(logger.Named("rpc")))
	if cfg.Server.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if cfg.Server.RequestTimeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.Server.RequestTimeout))
	}
	if err := items.NewHandlers(repo, items.NewHub(logger), logger.Named("items")).Register(svr); err != nil {
		return err
	}

	var reg registry.Registry
	if len(cfg.Registry.Endpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, logger)
		if err != nil {
			return err
		}
		defer etcd.Close()
		reg = etcd
	}

	errc := make(chan error, 1)
	go func() {
		errc <- svr.ListenAndServe("tcp", cfg.Server.Listen, cfg.Server.Advertise, reg)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("responder shutting down")
	if err := svr.Shutdown(5 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	return nil
}
