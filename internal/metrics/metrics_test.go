package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nao1215/dropfetch/internal/model"
)

func urlEvent(u string, s model.URLState) model.Event {
	return model.Event{Subject: model.SubjectURL, URL: u, URLState: s, State: s.String()}
}

func targetEvent(u, target string, s model.TargetState) model.Event {
	return model.Event{Subject: model.SubjectTarget, URL: u, Target: target, TargetState: s, State: s.String()}
}

func TestMetricsEmit(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const u = "https://example.com/album"
	m.Emit(urlEvent(u, model.URLQueued))
	m.Emit(urlEvent(u, model.URLResolving))
	if got := testutil.ToFloat64(m.inProgress.WithLabelValues(PhaseResolving)); got != 1 {
		t.Errorf("expected 1 resolving, got %v", got)
	}

	m.Emit(targetEvent(u, "a", model.TargetQueued))
	m.Emit(targetEvent(u, "a", model.TargetDownloading))
	m.Emit(targetEvent(u, "b", model.TargetQueued))
	m.Emit(targetEvent(u, "b", model.TargetDownloading))
	if got := testutil.ToFloat64(m.inProgress.WithLabelValues(PhaseDownloading)); got != 2 {
		t.Errorf("expected 2 downloading, got %v", got)
	}

	done := targetEvent(u, "a", model.TargetCompleted)
	done.Bytes = 4096
	m.Emit(done)
	failed := targetEvent(u, "b", model.TargetDownloadFailed)
	failed.Kind = "corrupt"
	m.Emit(failed)
	m.Emit(urlEvent(u, model.URLResolved))

	if got := testutil.ToFloat64(m.inProgress.WithLabelValues(PhaseDownloading)); got != 0 {
		t.Errorf("expected 0 downloading, got %v", got)
	}
	if got := testutil.ToFloat64(m.inProgress.WithLabelValues(PhaseResolving)); got != 0 {
		t.Errorf("expected 0 resolving, got %v", got)
	}
	if got := testutil.ToFloat64(m.targets.WithLabelValues("completed")); got != 1 {
		t.Errorf("expected 1 completed target, got %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("corrupt")); got != 1 {
		t.Errorf("expected 1 corrupt failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.urls.WithLabelValues("resolved")); got != 1 {
		t.Errorf("expected 1 resolved url, got %v", got)
	}
	if got := testutil.CollectAndCount(m.bytes); got != 1 {
		t.Errorf("expected the bytes histogram to be collected, got %d", got)
	}
	if len(m.last) != 0 {
		t.Errorf("expected no tracked subjects, got %v", m.last)
	}
}

func TestMetricsRetryKeepsGaugeBalanced(t *testing.T) {
	t.Parallel()

	m, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	const u = "https://example.com/f"
	m.Emit(targetEvent(u, "f", model.TargetQueued))
	m.Emit(targetEvent(u, "f", model.TargetDownloading))
	m.Emit(targetEvent(u, "f", model.TargetQueued))
	if got := testutil.ToFloat64(m.inProgress.WithLabelValues(PhaseDownloading)); got != 0 {
		t.Errorf("expected 0 downloading during backoff, got %v", got)
	}
	m.Emit(targetEvent(u, "f", model.TargetDownloading))
	m.Emit(targetEvent(u, "f", model.TargetCancelled))
	if got := testutil.ToFloat64(m.inProgress.WithLabelValues(PhaseDownloading)); got != 0 {
		t.Errorf("expected 0 downloading, got %v", got)
	}
}

func TestMetricsRegistrationConflict(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Error("expected an error registering twice")
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.ObserveGrant("example.com", time.Now(), 250*time.Millisecond)
	m.Emit(urlEvent("https://example.com", model.URLCrawlFailed))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL) //nolint:noctx // test server
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	for _, want := range []string{
		"dropfetch_rate_limit_wait_seconds_count 1",
		`dropfetch_urls_total{state="crawl_failed"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}
