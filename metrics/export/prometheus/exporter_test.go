package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snapshot authgate.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authgate.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestCollectCountersAndDropped(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters: map[authgate.MetricID]uint64{
				authgate.MetricSignInSuccess:  7,
				authgate.MetricRefreshFailure: 2,
			},
			Histograms: map[authgate.MetricID][]uint64{},
		},
		dropped: 3,
	})

	want := `
# HELP authgate_signin_success_total Successful sign-ins.
# TYPE authgate_signin_success_total counter
authgate_signin_success_total 7
# HELP authgate_refresh_failure_total Rejected refresh tokens.
# TYPE authgate_refresh_failure_total counter
authgate_refresh_failure_total 2
# HELP authgate_audit_dropped_total Dropped audit events due to dispatcher backpressure.
# TYPE authgate_audit_dropped_total counter
authgate_audit_dropped_total 3
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(want),
		"authgate_signin_success_total", "authgate_refresh_failure_total", "authgate_audit_dropped_total")
	if err != nil {
		t.Fatal(err)
	}

	if got := testutil.CollectAndCount(exp); got != len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)+1 {
		t.Fatalf("collected %d metrics", got)
	}
}

func TestCollectHistogramIsCumulative(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters: map[authgate.MetricID]uint64{},
			Histograms: map[authgate.MetricID][]uint64{
				authgate.MetricHashLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
	})

	want := `
# HELP authgate_hash_latency_seconds Password and token hashing latency, including pool wait.
# TYPE authgate_hash_latency_seconds histogram
authgate_hash_latency_seconds_bucket{le="0.005"} 1
authgate_hash_latency_seconds_bucket{le="0.01"} 3
authgate_hash_latency_seconds_bucket{le="0.025"} 6
authgate_hash_latency_seconds_bucket{le="0.05"} 10
authgate_hash_latency_seconds_bucket{le="0.1"} 15
authgate_hash_latency_seconds_bucket{le="0.25"} 21
authgate_hash_latency_seconds_bucket{le="0.5"} 28
authgate_hash_latency_seconds_bucket{le="+Inf"} 36
authgate_hash_latency_seconds_sum 0
authgate_hash_latency_seconds_count 36
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(want), "authgate_hash_latency_seconds"); err != nil {
		t.Fatal(err)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters:   map[authgate.MetricID]uint64{authgate.MetricSignUpSuccess: 1},
			Histograms: map[authgate.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), "authgate_signup_success_total 1") {
		t.Fatalf("missing counter in output:\n%s", rec.Body.String())
	}
}

func TestCollectWithEngine(t *testing.T) {
	m := authgate.NewMetrics(authgate.MetricsConfig{Enabled: true})
	m.Inc(authgate.MetricSignOut)
	m.Inc(authgate.MetricSignOut)

	exp := NewExporterFromSource(fakeSource{snapshot: m.Snapshot()})
	want := `
# HELP authgate_signout_total Single-session sign-outs.
# TYPE authgate_signout_total counter
authgate_signout_total 2
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(want), "authgate_signout_total"); err != nil {
		t.Fatal(err)
	}
}
