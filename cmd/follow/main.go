// Command follow runs the DICOM-RT routing node: it receives objects over
// C-STORE, groups them into plan folders, and forwards matching folders to
// configured peers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dicomrt/follow/buffer"
	"github.com/dicomrt/follow/config"
	"github.com/dicomrt/follow/grouper"
	"github.com/dicomrt/follow/pipeline"
	"github.com/dicomrt/follow/rules"
	"github.com/dicomrt/follow/sender"
	"github.com/dicomrt/follow/server"
	"github.com/dicomrt/follow/services"
	"github.com/dicomrt/follow/types"
	"github.com/dicomrt/follow/watcher"
)

func main() {
	configPath := flag.String("config", "follow.yaml", "Path to the configuration file")
	runImport := flag.Bool("import", false, "Process the import folder once and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Invalid configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, *runImport); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Node terminated unexpectedly", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger, importOnly bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.ReceiveRoot, cfg.OutgoingSpool} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	ruleEngine := rules.NewEngine(cfg)
	placer := grouper.New(cfg.ReceiveRoot,
		grouper.WithLogger(logger),
		grouper.WithSubdirMap(cfg.AEToSubdirMap))
	sendEngine := sender.New(cfg.LocalAETitle, cfg.ReceiveRoot,
		sender.WithLogger(logger))
	pipe := pipeline.New(cfg, placer, ruleEngine, sendEngine,
		pipeline.WithLogger(logger))

	if importOnly {
		return pipe.RunImport(ctx)
	}

	recvBuffer := buffer.New(cfg.ReceiveRoot, pipe,
		buffer.WithQuiesce(cfg.BufferQuiesce()),
		buffer.WithLogger(logger),
		buffer.WithEnhancedMRHook(pipe.ConvertEnhancedMR))
	defer recvBuffer.Shutdown(context.Background())

	g, gctx := errgroup.WithContext(ctx)

	if cfg.AutoStartReceiver {
		registry := services.NewRegistry()
		registry.RegisterHandler(types.CEchoRQ,
			services.NewEchoService(cfg.TrustedAETitles, logger))
		registry.RegisterHandler(types.CStoreRQ,
			services.NewStoreService(recvBuffer, logger))

		scp := server.New(cfg.LocalAETitle, registry, server.WithLogger(logger))
		g.Go(func() error {
			return scp.Run(gctx, cfg.ListenAddress(), server.DefaultRestartBackoff)
		})
		logger.Info("Receiver starting",
			"ae_title", cfg.LocalAETitle, "address", cfg.ListenAddress())
	}

	spoolWatcher := watcher.New(cfg.OutgoingSpool, pipe.HandleSpoolFolder,
		watcher.WithLogger(logger),
		watcher.WithInactivity(cfg.FolderInactivity()),
		watcher.WithRetry(cfg.FolderRetry()),
		watcher.WithRescanInterval(cfg.RescanInterval()),
		watcher.WithEmptyDirAge(cfg.EmptyDirAge()),
		watcher.WithHeartbeat(cfg.Heartbeat()))
	g.Go(func() error {
		return spoolWatcher.Run(gctx)
	})

	return g.Wait()
}
