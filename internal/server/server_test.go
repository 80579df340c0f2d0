package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/core"
	"tradeloop/internal/storage"
	"tradeloop/pkg/concurrency"
	"tradeloop/internal/logging"
)

type fakeTriggers struct {
	mu     sync.Mutex
	calls  []string
	runErr error
}

func (f *fakeTriggers) record(kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind)
	return f.runErr
}

func (f *fakeTriggers) RunPlan(ctx context.Context) error  { return f.record("plan") }
func (f *fakeTriggers) RunOrder(ctx context.Context) error { return f.record("order") }
func (f *fakeTriggers) RunPnL(ctx context.Context) error   { return f.record("pnl") }

func (f *fakeTriggers) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeHistory struct {
	runs      map[core.RunKind][]core.RunRecord
	snapshots []storage.PNLSnapshotRow
}

func (f *fakeHistory) RecentRuns(ctx context.Context, kind core.RunKind, limit int) ([]core.RunRecord, error) {
	runs := f.runs[kind]
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (f *fakeHistory) ListPNLSnapshots(ctx context.Context, productID string, limit int) ([]storage.PNLSnapshotRow, error) {
	return f.snapshots, nil
}

func newTestServer(t *testing.T, triggers *fakeTriggers, history *fakeHistory) (*Server, *concurrency.WorkerPool) {
	t.Helper()
	logger := logging.NewNopLogger()
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test", MaxWorkers: 2}, logger)
	t.Cleanup(pool.Stop)
	return NewServer("127.0.0.1:0", "BTC-USDC", triggers, history, pool, logger), pool
}

func TestForceEndpointsTriggerRuns(t *testing.T) {
	triggers := &fakeTriggers{}
	srv, _ := newTestServer(t, triggers, &fakeHistory{})

	for _, path := range []string{"/force/plan", "/force/order", "/force/pnl"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		require.Equal(t, http.StatusAccepted, rec.Code, path)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "accepted", body["status"])
	}

	assert.Eventually(t, func() bool {
		return len(triggers.recorded()) == 3
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"plan", "order", "pnl"}, triggers.recorded())
}

func TestForceRejectsNonPost(t *testing.T) {
	triggers := &fakeTriggers{}
	srv, _ := newTestServer(t, triggers, &fakeHistory{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/force/plan", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, triggers.recorded())
}

func TestHealthReportsLatestRunPerKind(t *testing.T) {
	finished := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	history := &fakeHistory{runs: map[core.RunKind][]core.RunRecord{
		core.RunPlan: {{
			Kind:       core.RunPlan,
			StartedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			FinishedAt: &finished,
			Status:     core.RunSuccess,
		}},
		core.RunOrder: {{
			Kind:      core.RunOrder,
			StartedAt: time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
			Status:    core.RunFailed,
			ErrorText: "no daily plan",
		}},
	}}
	srv, _ := newTestServer(t, &fakeTriggers{}, history)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs map[string]runOutcome `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Runs["plan"].Status)
	assert.Equal(t, "failed", body.Runs["order"].Status)
	assert.Equal(t, "no daily plan", body.Runs["order"].Error)
	assert.Equal(t, "never_ran", body.Runs["monitor"].Status)
	assert.Equal(t, "never_ran", body.Runs["pnl"].Status)
}

func TestPNLReturnsLatestSnapshot(t *testing.T) {
	history := &fakeHistory{snapshots: []storage.PNLSnapshotRow{{
		ProductID: "BTC-USDC",
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Summary: core.PNLSummary{
			TotalProfitBeforeFees: decimal.RequireFromString("200"),
		},
	}}}
	srv, _ := newTestServer(t, &fakeTriggers{}, history)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pnl", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, string(body["product_id"]), "BTC-USDC")
	assert.Contains(t, string(body["summary"]), "200")
}

func TestPNLWithoutSnapshots(t *testing.T) {
	srv, _ := newTestServer(t, &fakeTriggers{}, &fakeHistory{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pnl", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeTriggers{}, &fakeHistory{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
