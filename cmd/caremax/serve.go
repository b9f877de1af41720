package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vortexion256/caremax-sub002/internal/kernel"
	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/version"
)

var (
	serveListen  string
	serveTenants string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat and admin HTTP API",
	Long: `Serve opens the database, seeds tenants from the tenants file when one is
configured, and serves the HTTP API until interrupted.

Inbound customer messages are posted to /v1/tenants/{tenant}/messages.
Staff and admin routes live under /v1/tenants/{tenant}/ and require the
admin token when server.admin_token is set. Prometheus metrics are served
on /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides server.listen_addr)")
	serveCmd.Flags().StringVar(&serveTenants, "tenants", "", "Tenant seed file (overrides tenants_file)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.ListenAddr = serveListen
	}
	if serveTenants != "" {
		cfg.TenantsFile = serveTenants
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	k, err := kernel.NewKernel(ctx, cfg, kernel.Options{Registry: reg})
	if err != nil {
		return err
	}
	defer k.Close()

	if err := seedTenants(ctx, k, cfg.TenantsFile); err != nil {
		return err
	}
	if err := k.Start(); err != nil {
		return err
	}
	if config.Watch(cfgViper, func(c *config.Config) {
		k.Chat.Limiter().Configure(c.Chat.RateLimitCount, c.Chat.RateLimitWindow)
	}) {
		logx.Infof("watching %s for chat rate limit changes", cfgViper.ConfigFileUsed())
	}

	logx.Infof("caremax %s listening on %s", version.Version, cfg.Server.ListenAddr)
	if err := k.Serve(); err != nil {
		return err
	}
	logx.Infof("caremax stopped")
	return nil
}

func seedTenants(ctx context.Context, k *kernel.Kernel, path string) error {
	if path == "" {
		return nil
	}
	seed, err := config.LoadTenantSeed(path)
	if err != nil {
		return err
	}
	if err := k.Seed(ctx, seed); err != nil {
		return fmt.Errorf("failed to seed tenants from %s: %w", path, err)
	}
	return nil
}
