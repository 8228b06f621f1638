// Command authgate serves the authgate HTTP API.
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

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/internal/appconfig"
	"github.com/MrEthical07/authgate/internal/httpapi"
	"github.com/MrEthical07/authgate/internal/sweeper"
	promexport "github.com/MrEthical07/authgate/metrics/export/prometheus"
	"github.com/MrEthical07/authgate/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", os.Getenv(appconfig.PathEnv), "path to a YAML config file")
	flag.Parse()

	cfg, err := appconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "authgate: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		cfg.Logger().WithError(err).Fatal("authgate stopped")
	}
}

func run(ctx context.Context, cfg appconfig.Config) error {
	log := cfg.Logger()

	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	mail, err := newMailer(cfg, log)
	if err != nil {
		return err
	}

	builder := authgate.New().
		WithConfig(engineCfg).
		WithUserStore(b.users).
		WithSessionStore(b.sessions).
		WithVerificationStore(b.verifications).
		WithRoleResolver(b.roles).
		WithLogger(log)
	if mail != nil {
		builder = builder.WithMailer(mail)
	}
	if b.redis != nil {
		builder = builder.WithRedis(b.redis)
	}
	if sink := newAuditSink(cfg); sink != nil {
		builder = builder.WithAuditSink(sink)
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	opts := httpapi.Options{
		Engine:     engine,
		Policy:     middleware.AuthPolicy{Disabled: cfg.Auth.Disabled},
		Prefix:     cfg.Server.Prefix,
		Logger:     log,
		Health:     b.health,
		TrustProxy: cfg.Server.TrustProxy,
	}
	if cfg.Server.Metrics {
		opts.Metrics = promexport.NewExporter(engine).Handler()
	}
	api, err := httpapi.New(opts)
	if err != nil {
		return err
	}

	if cfg.Sweeper.Enabled {
		sw, err := sweeper.New(sweeper.Config{Schedule: cfg.Sweeper.Schedule}, b.sessions, b.verifications, log.WithField("component", "sweeper"))
		if err != nil {
			return err
		}
		sw.Start()
		defer func() { <-sw.Stop().Done() }()
		log.WithField("schedule", cfg.Sweeper.Schedule).Info("sweeper started")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":       cfg.Server.Addr,
			"prefix":     cfg.Server.Prefix,
			"driver":     cfg.Storage.Driver,
			"production": cfg.Auth.Production,
		}).Info("authgate listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
