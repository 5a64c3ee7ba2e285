package main

import (
	"context"
	"fmt"
	"os"

	"github.com/loykin/catalogd"
	"github.com/loykin/catalogd/internal/config"
	"github.com/loykin/catalogd/internal/logger"
)

func serve(ctx context.Context, configPath string) error {
	cfg, err := catalogd.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log, closer, err := logger.New(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	a, err := catalogd.New(ctx, cfg, log, catalogd.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close failed", "err", err)
		}
	}()

	log.Info("starting catalogd",
		"version", config.AppVersion,
		"addr", cfg.Server.Addr(),
		"base_path", cfg.Server.BasePath,
		"target", cfg.Site.BaseURL,
		"schedule", cfg.Schedule.Enabled)

	if code := catalogd.Serve(ctx, a); code != 0 {
		return fmt.Errorf("catalogd stopped with exit code %d", code)
	}
	return nil
}
