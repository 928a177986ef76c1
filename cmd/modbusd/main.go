// cmd/modbusd/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tamzrod/modbus-transport/internal/api/rest"
	"github.com/tamzrod/modbus-transport/internal/config"
	"github.com/tamzrod/modbus-transport/internal/manager"
	"github.com/tamzrod/modbus-transport/internal/replicator"
	"github.com/tamzrod/modbus-transport/internal/status"
)

func main() {
	var (
		cfgPath     = pflag.StringP("config", "c", "config.yaml", "path to the YAML configuration")
		printConfig = pflag.Bool("print-config", false, "print the effective configuration and exit")
		debug       = pflag.Bool("debug", false, "development logging at debug level")
	)
	pflag.Parse()

	// --------------------
	// Load + validate config
	// --------------------

	cfg, v, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modbusd: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "modbusd: config validation failed: %v\n", err)
		os.Exit(1)
	}
	config.Normalize(cfg)

	if *printConfig {
		out, err := config.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "modbusd: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	logger, err := newLogger(cfg.Log, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modbusd: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("path", *cfgPath),
		zap.Int("units", len(cfg.Replicator.Units)),
		zap.Int("endpoints", len(cfg.Endpoints)),
	)

	// --------------------
	// Runtime
	// --------------------

	mgr := manager.New(manager.WithLogger(logger))
	if err := mgr.Activate(manager.Config{Workers: cfg.Manager.Workers}); err != nil {
		logger.Fatal("manager activation failed", zap.Error(err))
	}

	board := status.NewBoard()
	rep := replicator.New(mgr, board, replicator.WithLogger(logger))

	if err := rep.ApplyEndpoints(cfg); err != nil {
		logger.Fatal("endpoint pool configuration failed", zap.Error(err))
	}
	if err := rep.Start(cfg.Replicator.Units); err != nil {
		logger.Fatal("replicator start failed", zap.Error(err))
	}

	// Pool policies follow the file; unit changes need a restart.
	running := cfg
	config.Watch(v, func(next *config.Config) {
		if err := rep.ApplyEndpoints(next); err != nil {
			logger.Warn("endpoint pool reload failed", zap.Error(err))
		}
		if !reflect.DeepEqual(running.Replicator, next.Replicator) {
			logger.Warn("replicator units changed on disk; restart to apply")
		}
	}, func(err error) {
		logger.Warn("config reload rejected", zap.Error(err))
	})

	var api *rest.Server
	if cfg.Admin.Enabled {
		api = rest.NewServer(cfg.Admin.Listen, mgr, rep, board, logger)
		if err := api.Start(); err != nil {
			logger.Fatal("admin API start failed", zap.Error(err))
		}
	}

	logger.Info("modbusd started")

	// --------------------
	// Graceful shutdown on signal
	// --------------------

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutdown signal received", zap.Stringer("signal", sig))

	if api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
		if err := api.Shutdown(ctx); err != nil {
			logger.Error("admin API shutdown failed", zap.Error(err))
		}
		cancel()
	}

	rep.Stop()
	mgr.Deactivate()

	logger.Info("modbusd stopped")
}

func newLogger(lc config.LogConfig, debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if debug || lc.Development {
		zc = zap.NewDevelopmentConfig()
	}

	if debug {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else if lc.Level != "" {
		level, err := zap.ParseAtomicLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}
