package authgate_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testUsername = "kaew"
	testPassword = "test1234"
	testEmail    = "kaew@email.com"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *captureMailer) Sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMail, len(m.sent))
	copy(out, m.sent)
	return out
}

type testEnv struct {
	engine *authgate.Engine
	db     *memory.DB
	clock  *fakeClock
	mailer *captureMailer
	redis  *miniredis.Miniredis
	sink   *authgate.ChannelSink
}

func testConfig() authgate.Config {
	cfg := authgate.DefaultConfig()
	cfg.Password.HighCost = 4
	cfg.Password.LowCost = 4
	cfg.OneTime.ExposeTokens = true
	cfg.Audit.Enabled = true
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*authgate.Config)) *testEnv {
	t.Helper()
	return newTestEnvWithDB(t, memory.New(), mutate...)
}

func newTestEnvWithDB(t *testing.T, db *memory.DB, mutate ...func(*authgate.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		db:     db,
		clock:  newFakeClock(),
		mailer: &captureMailer{},
		redis:  mr,
		sink:   authgate.NewChannelSink(1024),
	}

	engine, err := authgate.New().
		WithConfig(cfg).
		WithUserStore(db.Users()).
		WithSessionStore(db.Sessions()).
		WithVerificationStore(db.Verifications()).
		WithRoleResolver(db.Roles()).
		WithRedis(rdb).
		WithMailer(env.mailer).
		WithAuditSink(env.sink).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

func (env *testEnv) signUp(t *testing.T, username, password, email string) string {
	t.Helper()
	id, err := env.engine.SignUp(context.Background(), username, password, email)
	if err != nil {
		t.Fatalf("SignUp(%s) failed: %v", username, err)
	}
	return id
}

func (env *testEnv) signIn(t *testing.T, username, password string) authgate.TokenPair {
	t.Helper()
	pair, err := env.engine.SignIn(context.Background(), username, password, "")
	if err != nil {
		t.Fatalf("SignIn(%s) failed: %v", username, err)
	}
	return pair
}

func (env *testEnv) status(t *testing.T, userID, raw string) authgate.SessionStatus {
	t.Helper()
	st, err := env.engine.GetSessionStatus(context.Background(), userID, raw)
	if err != nil {
		t.Fatalf("GetSessionStatus failed: %v", err)
	}
	return st
}

func (env *testEnv) user(t *testing.T, id string) authgate.User {
	t.Helper()
	u, err := env.db.Users().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) failed: %v", id, err)
	}
	return u
}

func (env *testEnv) verification(t *testing.T, id string) authgate.Verification {
	t.Helper()
	v, err := env.db.Verifications().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("verification Get(%s) failed: %v", id, err)
	}
	return v
}

// drainAudit collects events until none arrives for a short while.
func (env *testEnv) drainAudit() []authgate.AuditEvent {
	var out []authgate.AuditEvent
	for {
		select {
		case ev := <-env.sink.Events():
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func containsSecret(ev authgate.AuditEvent, secret string) bool {
	if strings.Contains(ev.Error, secret) {
		return true
	}
	for _, v := range ev.Metadata {
		if strings.Contains(v, secret) {
			return true
		}
	}
	return false
}
