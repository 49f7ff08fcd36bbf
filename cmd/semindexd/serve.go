package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/semindex/internal/commands"
	"github.com/fyrsmithlabs/semindex/internal/config"
	httpserver "github.com/fyrsmithlabs/semindex/internal/http"
	"github.com/fyrsmithlabs/semindex/internal/index"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and command consumer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.LoadWithFile(configPath)
		if err != nil {
			return err
		}
		return run(ctx, cfg)
	},
}

// run starts semindex and blocks until ctx is cancelled or a component
// fails.
//
// Startup order:
//  1. Logger and telemetry
//  2. Index service (vector store, collections, embeddings, reranker)
//  3. NATS command consumer, if enabled
//  4. HTTP server
func run(ctx context.Context, cfg *config.Config) error {
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())
	logger := rt.logger

	logger.Info("Starting semindex",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("rerank", cfg.Rerank.Provider),
		zap.Bool("commands", cfg.Commands.Enabled))

	svc, err := index.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize index: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("index close failed", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	var opts []httpserver.Option
	if cfg.Commands.Enabled {
		nc, err := commands.Connect(cfg.Commands.NATSURL, logger)
		if err != nil {
			return err
		}
		defer nc.Close()

		js, err := jetstream.New(nc)
		if err != nil {
			return fmt.Errorf("failed to create JetStream context: %w", err)
		}
		ccfg := commands.Config{
			Stream:     cfg.Commands.Stream,
			Subject:    cfg.Commands.Subject,
			Durable:    cfg.Commands.Durable,
			FetchBatch: cfg.Commands.FetchBatch,
			FetchWait:  cfg.Commands.FetchWait.Duration(),
			MaxDeliver: cfg.Commands.MaxDeliver,
		}
		if _, err := commands.EnsureStream(ctx, js, ccfg); err != nil {
			return err
		}
		consumer, err := commands.NewConsumer(ctx, js, ccfg, commands.NewIndexHandler(svc, logger), logger)
		if err != nil {
			return err
		}
		opts = append(opts, httpserver.WithEnqueuer(commands.NewPublisher(js, ccfg.Subject, logger)))
		g.Go(func() error { return consumer.Run(gctx) })
	}

	srv, err := httpserver.NewServer(svc, logger, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, opts...)
	if err != nil {
		return err
	}

	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("Server shutdown complete")
	return err
}
