package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Dispatched("add_task")
	m.Dispatched("add_task")
	m.BackendWrite("local", nil)
	m.BackendWrite("remote", errors.New("offline"))
	m.Merge(nil)
	m.RemoteChange("tasks")
	m.Notice("warn")
	m.SetCloudSyncing(true)

	if got := testutil.ToFloat64(m.dispatches.WithLabelValues("add_task")); got != 2 {
		t.Errorf("dispatches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.writes.WithLabelValues("remote", "error")); got != 1 {
		t.Errorf("remote write errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cloudSyncing); got != 1 {
		t.Errorf("cloud_syncing = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Dispatched("x")
	m.BackendWrite("local", nil)
	m.Merge(errors.New("x"))
	m.RemoteChange("tasks")
	m.Notice("info")
	m.SetHydrated(true)
	m.SetCloudSyncing(true)
	m.SetLoggedIn(true)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.Dispatched("add_transaction")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `farmbook_dispatched_actions_total{kind="add_transaction"} 1`) {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}
