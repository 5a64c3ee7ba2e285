package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/catalogd/internal/app"
	"github.com/loykin/catalogd/internal/auth"
	"github.com/loykin/catalogd/internal/config"
	"github.com/loykin/catalogd/internal/logger"
	"github.com/loykin/catalogd/pkg/client"
)

type command struct {
	out       io.Writer
	newClient func(APIFlags) *client.Client
}

func newCommand(out io.Writer) *command {
	return &command{out: out, newClient: defaultClient}
}

func defaultClient(f APIFlags) *client.Client {
	cfg := client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout, Insecure: f.Insecure, Token: f.Token}
	if f.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: f.CACert}
	}
	return client.New(cfg)
}

func (c *command) printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(c.out, string(b))
}

func (c *command) Extract(ctx context.Context, f APIFlags) error {
	res, err := c.newClient(f).Extract(ctx)
	if err != nil {
		return err
	}
	c.printJSON(res)
	if !res.Success {
		return fmt.Errorf("extraction not started: %s", res.Message)
	}
	return nil
}

// Test prints the step results even when the check failed.
func (c *command) Test(ctx context.Context, f APIFlags) error {
	res, err := c.newClient(f).Test(ctx)
	if res.Tests != nil {
		c.printJSON(res)
	}
	if err != nil {
		return err
	}
	if !res.Success {
		if res.Tests == nil {
			c.printJSON(res)
		}
		return fmt.Errorf("connectivity check not run: %s", res.Message)
	}
	return nil
}

func (c *command) Status(ctx context.Context, f APIFlags) error {
	res, err := c.newClient(f).Status(ctx)
	if err != nil {
		return err
	}
	c.printJSON(res)
	return nil
}

func (c *command) Products(ctx context.Context, f ProductsFlags) error {
	res, err := c.newClient(f.APIFlags).Products(ctx, client.ProductQuery{
		Page:     f.Page,
		Limit:    f.Limit,
		Search:   f.Search,
		Category: f.Category,
		Brand:    f.Brand,
	})
	if err != nil {
		return err
	}
	c.printJSON(res)
	return nil
}

func (c *command) Search(ctx context.Context, f SearchFlags) error {
	res, err := c.newClient(f.APIFlags).Search(ctx, client.SearchQuery{
		Q:        f.Query,
		Category: f.Category,
		Brand:    f.Brand,
		Sort:     f.Sort,
		Desc:     f.Desc,
	})
	if err != nil {
		return err
	}
	c.printJSON(res)
	return nil
}

func (c *command) Stats(ctx context.Context, f APIFlags) error {
	res, err := c.newClient(f).Stats(ctx)
	if err != nil {
		return err
	}
	c.printJSON(res)
	return nil
}

func (c *command) Runs(ctx context.Context, f RunsFlags) error {
	cl := c.newClient(f.APIFlags)
	if f.ID != "" {
		run, err := cl.Run(ctx, f.ID)
		if err != nil {
			return err
		}
		c.printJSON(run)
		return nil
	}
	runs, err := cl.Runs(ctx)
	if err != nil {
		return err
	}
	c.printJSON(runs)
	return nil
}

func (c *command) Token(ctx context.Context, f TokenFlags) error {
	if f.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	res, err := c.newClient(f.APIFlags).Login(ctx, f.ClientID, f.ClientSecret)
	if err != nil {
		return err
	}
	c.printJSON(res)
	return nil
}

func (c *command) HashSecret(secret string) error {
	h, err := auth.HashSecret(secret)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, h)
	return nil
}

// RunOnce extracts once in-process and prints the run summary.
func (c *command) RunOnce(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, closer, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{WithoutScheduler: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close failed", "err", err)
		}
	}()

	sum, runErr := a.RunOnce(ctx)
	if sum.ID != "" {
		c.printJSON(sum)
	}
	return runErr
}
