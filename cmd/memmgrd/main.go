package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/anantadwi13/memmgr/internal/adminapi"
	"github.com/anantadwi13/memmgr/internal/audit"
	"github.com/anantadwi13/memmgr/internal/builder"
	"github.com/anantadwi13/memmgr/internal/bus/wsbus"
	"github.com/anantadwi13/memmgr/internal/config"
	"github.com/anantadwi13/memmgr/internal/datasrc"
	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/anantadwi13/memmgr/internal/loader"
	"github.com/anantadwi13/memmgr/internal/manager"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "/etc/memmgr/memmgr.toml", "path to the memmgr TOML config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "memmgr: failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("memmgr exited with error", zap.Error(err))
	}
}

func run(configPath string, logger *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return domain.WrapError(domain.KindFatalSetup, "load config", err)
	}
	watcher := config.NewWatcher(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auditLog, err := audit.Open(ctx, cfg.AuditDBPath)
	if err != nil {
		return domain.WrapError(domain.KindFatalSetup, "open audit log", err)
	}
	defer auditLog.Close()

	session, err := wsbus.Dial(ctx, cfg.BusAddr, logger)
	if err != nil {
		return domain.WrapError(domain.KindFatalSetup, "dial bus", err)
	}
	defer session.Close()

	builderCh, err := builder.NewChannel()
	if err != nil {
		return domain.WrapError(domain.KindFatalSetup, "open builder channel", err)
	}

	registry := datasrc.NewRegistry()
	mgr := manager.New(registry, session, builderCh, auditLog, watcher, logger)

	b := builder.New(builderCh, loader.NewFileLoader(), logger)
	adminSrv := adminapi.New(mgr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.Run(gctx)
	})

	g.Go(func() error {
		return mgr.Run(gctx)
	})

	g.Go(func() error {
		if err := adminSrv.Start(cfg.AdminListen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		return adminSrv.Shutdown(shutdownCtx)
	})

	logger.Info("memmgr started",
		zap.String("bus_addr", cfg.BusAddr),
		zap.String("admin_listen", cfg.AdminListen),
		zap.String("mapped_file_dir", cfg.MappedFileDir),
	)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("memmgr stopped cleanly")
	return nil
}
