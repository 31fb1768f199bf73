package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncLaunch("gateway")
	IncLaunch("gateway")
	IncLaunchFailure("bridge")
	SetServiceUp("gateway", true)
	RecordStateTransition("gateway", "unknown", "up")
	IncTermination("port:18789")
	AddKilled("port:18789", 2)
	ObserveRefreshDuration(0.12)
	IncOperation("start", "ok")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"clawpanel_service_launches_total":              false,
		"clawpanel_service_launch_failures_total":       false,
		"clawpanel_service_up":                          false,
		"clawpanel_service_state_transitions_total":     false,
		"clawpanel_terminator_requests_total":           false,
		"clawpanel_terminator_killed_total":             false,
		"clawpanel_supervisor_refresh_duration_seconds": false,
		"clawpanel_supervisor_operations_total":         false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}

	if got := testutil.ToFloat64(launches.WithLabelValues("gateway")); got != 2 {
		t.Fatalf("launches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(serviceUp.WithLabelValues("gateway")); got != 1 {
		t.Fatalf("up = %v, want 1", got)
	}
}

func TestServiceUpFlipsToZero(t *testing.T) {
	if err := Register(prometheus.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	SetServiceUp("tunnel", true)
	SetServiceUp("tunnel", false)
	if got := testutil.ToFloat64(serviceUp.WithLabelValues("tunnel")); got != 0 {
		t.Fatalf("up = %v, want 0", got)
	}
}

func TestAddKilledIgnoresNonPositive(t *testing.T) {
	if err := Register(prometheus.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	before := testutil.ToFloat64(killed.WithLabelValues("name:nothing"))
	AddKilled("name:nothing", 0)
	AddKilled("name:nothing", -3)
	if got := testutil.ToFloat64(killed.WithLabelValues("name:nothing")); got != before {
		t.Fatalf("killed changed from %v to %v", before, got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Reset regOK gate to allow registration with the default registry used by Handler().
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncLaunch("x")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "clawpanel_service_launches_total") {
		t.Fatalf("metrics output missing launches_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncLaunch("c")
			IncTermination("c")
			AddKilled("c", 1)
			ObserveRefreshDuration(0.01)
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	before := testutil.ToFloat64(launches.WithLabelValues("unregistered"))

	// These should be no-ops and not panic when called before Register
	IncLaunch("unregistered")
	IncLaunchFailure("unregistered")
	SetServiceUp("unregistered", true)
	RecordStateTransition("unregistered", "down", "up")
	IncTermination("unregistered")
	AddKilled("unregistered", 1)
	ObserveRefreshDuration(1.0)
	IncOperation("stop", "busy")

	if got := testutil.ToFloat64(launches.WithLabelValues("unregistered")); got != before {
		t.Fatalf("launch counted before Register: %v", got)
	}
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{shouldError: true})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Custom registerer for testing error handling
type errorRegisterer struct {
	shouldError bool
}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	if e.shouldError {
		return errors.New("test registration error")
	}
	return nil
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
