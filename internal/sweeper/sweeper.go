// Package sweeper periodically deletes expired sessions and clears expired
// one-time tokens. Expired rows are already rejected at use time; sweeping
// only keeps the stores small.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSchedule runs a sweep every hour.
const DefaultSchedule = "@every 1h"

// SessionPurger is satisfied by every authgate.SessionStore.
type SessionPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenPurger is satisfied by every authgate.VerificationStore.
type TokenPurger interface {
	ClearExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

type Config struct {
	Schedule string
	// Timeout bounds one sweep. Zero means one minute.
	Timeout time.Duration
}

// Result counts the rows removed by one sweep.
type Result struct {
	Sessions int64
	Tokens   int64
}

type Sweeper struct {
	cron     *cron.Cron
	sessions SessionPurger
	tokens   TokenPurger
	log      logrus.FieldLogger
	timeout  time.Duration
	now      func() time.Time
}

func New(cfg Config, sessions SessionPurger, tokens TokenPurger, log logrus.FieldLogger) (*Sweeper, error) {
	if sessions == nil || tokens == nil {
		return nil, errors.New("sweeper: session and token stores are required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Sweeper{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		sessions: sessions,
		tokens:   tokens,
		log:      log,
		timeout:  cfg.Timeout,
		now:      time.Now,
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("sweeper: invalid schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res, err := s.RunOnce(ctx)
	entry := s.log.WithFields(logrus.Fields{
		"sessions": res.Sessions,
		"tokens":   res.Tokens,
	})
	if err != nil {
		entry.WithError(err).Error("sweep failed")
		return
	}
	entry.Info("sweep completed")
}

// RunOnce performs one sweep. Both purges run even if the first fails.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	now := s.now().UTC()

	var res Result
	var errs []error
	n, err := s.sessions.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired sessions: %w", err))
	}
	res.Sessions = n

	n, err = s.tokens.ClearExpiredTokens(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("clear expired tokens: %w", err))
	}
	res.Tokens = n

	return res, errors.Join(errs...)
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule. The returned context is done once a running
// sweep has finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}
