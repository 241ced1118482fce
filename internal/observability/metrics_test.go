package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/skymodel/model"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("modelbuilder_rpc_requests_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "modelbuilder_rpc_duration_seconds", map[string]string{
		"service": "Health",
		"method":  "Check",
	}); count != 1 {
		t.Fatalf("modelbuilder_rpc_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "NotFound")); got != 1 {
		t.Fatalf("error label = %v, want 1", got)
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in, service, method string
	}{
		{"/grpc.health.v1.Health/Watch", "Health", "Watch"},
		{"", "unknown", "unknown"},
		{"/onlyone", "unknown", "unknown"},
	}
	for _, tc := range cases {
		svc, m := SplitMethod(tc.in)
		if svc != tc.service || m != tc.method {
			t.Fatalf("SplitMethod(%q) = %s/%s, want %s/%s", tc.in, svc, m, tc.service, tc.method)
		}
	}
}

func TestBuildCollectorRecordsBuildActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewBuildCollector(reg)
	if err != nil {
		t.Fatalf("NewBuildCollector: %v", err)
	}

	c.IterationStarted(1)
	c.IterationStarted(2)
	c.PointFinished(model.PointAddedToModel)
	c.PointFinished(model.PointAddedToModel)
	c.PointFinished(model.PointFailed)
	c.SetFailedPoints(1)
	c.SetInFlight(2)
	c.ObserveSolve(1500 * time.Millisecond)
	c.DomeSlewStarted()
	c.GateDisposed()
	c.SetDomeCacheHitRatio(1.7)

	if got := testutil.ToFloat64(c.BuildAttempts); got != 2 {
		t.Fatalf("attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.PointsFinished.WithLabelValues("Added to Model")); got != 2 {
		t.Fatalf("added points = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.PointsFinished.WithLabelValues("Failed")); got != 1 {
		t.Fatalf("failed points = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.InFlightSolves); got != 2 {
		t.Fatalf("in flight = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.DomeCacheRatio); got != 1 {
		t.Fatalf("cache ratio = %v, want clamped 1", got)
	}
	if count := histogramSampleCount(t, reg, "modelbuilder_solve_duration_seconds", nil); count != 1 {
		t.Fatalf("solve sample_count = %d, want 1", count)
	}
}

func TestBuildCollectorReRegistersAgainstSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewBuildCollector(reg)
	if err != nil {
		t.Fatalf("NewBuildCollector: %v", err)
	}
	second, err := NewBuildCollector(reg)
	if err != nil {
		t.Fatalf("second NewBuildCollector: %v", err)
	}
	first.DomeSlewStarted()
	if got := testutil.ToFloat64(second.DomeSlews); got != 1 {
		t.Fatalf("collectors do not share series: %v", got)
	}
}

func TestNilBuildCollectorIsSafe(t *testing.T) {
	var c *BuildCollector
	c.IterationStarted(1)
	c.PointFinished(model.PointFailed)
	c.SetFailedPoints(3)
	c.ObserveSolve(time.Second)
	c.SetDomeCacheHitRatio(0.5)
}

func TestMetricsHandlerExposesBuildMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewBuildCollector(reg)
	if err != nil {
		t.Fatalf("NewBuildCollector: %v", err)
	}
	c.PointFinished(model.PointFailedRMS)
	c.SetFailedPoints(4)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"modelbuilder_points_finished_total",
		"modelbuilder_failed_points 4",
		"modelbuilder_build_attempts_total",
		"modelbuilder_dome_window_cache_hit_ratio",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
