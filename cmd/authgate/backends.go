package main

import (
	"context"
	"fmt"
	"os"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/internal/appconfig"
	"github.com/MrEthical07/authgate/internal/httpapi"
	"github.com/MrEthical07/authgate/mailer"
	"github.com/MrEthical07/authgate/store/memory"
	"github.com/MrEthical07/authgate/store/postgres"
	redisstore "github.com/MrEthical07/authgate/store/redis"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// backends holds the stores chosen by configuration and what must be closed
// on shutdown.
type backends struct {
	users         authgate.UserStore
	sessions      authgate.SessionStore
	verifications authgate.VerificationStore
	roles         authgate.RoleResolver
	redis         redis.UniversalClient
	health        map[string]httpapi.HealthCheck
	closers       []func() error
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg appconfig.Config, log logrus.FieldLogger) (*backends, error) {
	b := &backends{health: map[string]httpapi.HealthCheck{}}

	switch cfg.Storage.Driver {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, store.Close)
		if cfg.Storage.MigrateOnStart {
			if err := store.Migrate(ctx); err != nil {
				b.Close()
				return nil, err
			}
			log.Info("database migrations applied")
		}
		b.users, b.sessions, b.verifications, b.roles = store.Users(), store.Sessions(), store.Verifications(), store.Roles()
		b.health["postgres"] = store.Ping
	default:
		db := memory.New()
		b.users, b.sessions, b.verifications, b.roles = db.Users(), db.Sessions(), db.Verifications(), db.Roles()
		b.health["memory"] = db.Ping
		log.Warn("using the in-memory store; data is lost on restart")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			b.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.redis = client
		b.health["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

		if cfg.Storage.Sessions == "redis" {
			b.sessions = redisstore.NewSessionStore(client, cfg.Redis.Prefix+":sess")
		}
	}

	return b, nil
}

func newMailer(cfg appconfig.Config, log logrus.FieldLogger) (authgate.Mailer, error) {
	switch cfg.Mail.Provider {
	case "resend":
		var opts []mailer.ResendOption
		if cfg.Mail.ResendURL != "" {
			opts = append(opts, mailer.WithBaseURL(cfg.Mail.ResendURL))
		}
		m, err := mailer.NewResend(cfg.Mail.ResendAPIKey, cfg.Mail.From, opts...)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "none":
		return nil, nil
	default:
		return mailer.NewLog(log), nil
	}
}

func newAuditSink(cfg appconfig.Config) authgate.AuditSink {
	if !cfg.Auth.Audit {
		return nil
	}
	return authgate.NewJSONWriterSink(os.Stdout)
}
