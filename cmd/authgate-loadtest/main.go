// Command authgate-loadtest measures the Redis session store under
// concurrent listing and refresh rotation.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authgate"
	redisstore "github.com/MrEthical07/authgate/store/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type sessionState struct {
	userID string
	sid    string
	hash   string
	mu     sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (list + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, AUTHGATE_REDIS_ADDR or miniredis is used")
		prefix      = flag.String("prefix", "authgate-lt:sess", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("AUTHGATE_REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{mr.Addr()},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := redisstore.NewSessionStore(client, *prefix)

	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := 0; i < *sessions; i++ {
		states[i] = sessionState{
			userID: fmt.Sprintf("user-%d", i),
			sid:    fmt.Sprintf("sid-%d", i),
			hash:   hashFor(fmt.Sprintf("seed-%d", i)),
		}
		if err := store.Create(ctx, buildSession(&states[i])); err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	listStats := runPhase(states, *ops, *concurrency, 7919, func(state *sessionState, _ int) bool {
		list, err := store.ListByUser(ctx, state.userID)
		return err == nil && len(list) == 1
	})
	refreshStats := runPhase(states, *ops, *concurrency, 6151, func(state *sessionState, i int) bool {
		state.mu.Lock()
		defer state.mu.Unlock()

		next := hashFor(fmt.Sprintf("%s-%d", state.hash, i))
		exp := time.Now().Add(24 * time.Hour)
		ok, err := store.Rotate(ctx, state.sid, state.hash, authgate.SessionTokens{
			AccessTokenHash:       next,
			AccessTokenExpiresAt:  exp,
			RefreshTokenHash:      next,
			RefreshTokenExpiresAt: exp,
		})
		if err != nil || !ok {
			return false
		}
		state.hash = next
		return true
	})

	fmt.Println("---- results ----")
	printStats("list", listStats)
	printStats("refresh", refreshStats)
}

// runPhase runs ops calls of op spread over concurrency workers, each picking
// random sessions.
func runPhase(states []sessionState, ops, concurrency int, seed int64, op func(state *sessionState, i int) bool) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]
				t0 := time.Now()
				ok := op(state, i)
				d := time.Since(t0)
				if !ok {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func buildSession(state *sessionState) authgate.Session {
	now := time.Now()
	return authgate.Session{
		ID:                    state.sid,
		UserID:                state.userID,
		AccessTokenHash:       state.hash,
		AccessTokenExpiresAt:  now.Add(time.Hour),
		RefreshTokenHash:      state.hash,
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
		ClientDescription:     "authgate-loadtest",
		CreatedAt:             now,
	}
}

func hashFor(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
