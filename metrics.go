package authgate

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricSignUpSuccess MetricID = iota
	MetricSignUpConflict
	MetricSignInSuccess
	MetricSignInFailure
	MetricSignInInactive
	MetricSignInRateLimited
	MetricRefreshAccessSuccess
	MetricRefreshBothSuccess
	MetricRefreshFailure
	// MetricRefreshRaceLost counts refreshes that matched a session but lost
	// the conditional update to a concurrent rotation or revocation.
	MetricRefreshRaceLost
	MetricSessionStatusOK
	MetricSessionStatusExpired
	MetricSessionCreated
	MetricSignOut
	MetricRevokeAll
	MetricPasswordChangeSuccess
	MetricPasswordChangeInvalid
	MetricPasswordRehashed
	MetricResetIssued
	MetricResetConsumed
	MetricResetFailure
	MetricVerifyIssued
	MetricVerifyConsumed
	MetricVerifyFailure
	MetricOTPGenerated
	MetricOTPEnrollSuccess
	MetricOTPValidateSuccess
	MetricOTPFailure
	MetricOTPDisabled
	MetricAccountTerminated
	MetricRateLimitHit
	MetricMailFailure
	// MetricHashLatency is the only histogram: time spent in password and
	// token hashing, including pool wait.
	MetricHashLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters plus one latency histogram.
// A disabled or nil Metrics ignores all updates.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram of id. Only MetricHashLatency has a
// histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricHashLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricHashLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricHashLatency].buckets[i])
		}
		s.Histograms[MetricHashLatency] = buckets
	}

	return s
}

// bucketIndex maps a duration to the upper bounds 5, 10, 25, 50, 100, 250,
// 500 ms and +Inf.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
