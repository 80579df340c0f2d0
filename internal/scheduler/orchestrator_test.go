package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"tradeloop/internal/core"
	"tradeloop/internal/exchange/coinbase"
	"tradeloop/internal/logging"
	"tradeloop/internal/planner"
	"tradeloop/internal/storage"
	"tradeloop/internal/trading/constraints"
	"tradeloop/internal/trading/execution"
	"tradeloop/internal/trading/pnl"
	"tradeloop/pkg/apperrors"
	"tradeloop/pkg/concurrency"
	"tradeloop/pkg/telemetry"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type runEntry struct {
	id     int64
	kind   core.RunKind
	status core.RunStatus
	err    string
}

type fakeStore struct {
	mu             sync.Mutex
	runs           []runEntry
	nextRunID      int64
	plans          []storage.PlanRow
	recaps         map[core.RunKind][]string
	latestPlan     *storage.PlanRow
	priceSnaps     int
	portfolioSnaps int
	fills          []core.FillRecord
	executed       []core.ExecutedOrderRecord
	summaries      []core.PNLSummary
	stuckErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{recaps: make(map[core.RunKind][]string)}
}

func (f *fakeStore) StartRun(ctx context.Context, kind core.RunKind) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRunID++
	f.runs = append(f.runs, runEntry{id: f.nextRunID, kind: kind, status: core.RunRunning})
	return f.nextRunID, nil
}

func (f *fakeStore) FinishRun(ctx context.Context, id int64, status core.RunStatus, usageJSON, errorText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.runs {
		if f.runs[i].id == id {
			f.runs[i].status = status
			f.runs[i].err = errorText
		}
	}
	return nil
}

func (f *fakeStore) InsertPlan(ctx context.Context, row storage.PlanRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans = append(f.plans, row)
	return nil
}

func (f *fakeStore) LatestAcceptedPlan(ctx context.Context, productID string) (*storage.PlanRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latestPlan, nil
}

func (f *fakeStore) InsertPriceSnapshot(ctx context.Context, snap core.PriceSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceSnaps++
	return nil
}

func (f *fakeStore) InsertPortfolioSnapshot(ctx context.Context, productID string, balances map[string]core.Balance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portfolioSnaps++
	return nil
}

func (f *fakeStore) InsertPromptRecap(ctx context.Context, kind core.RunKind, recap string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recaps[kind] = append(f.recaps[kind], recap)
	return nil
}

func (f *fakeStore) RecentPromptRecaps(ctx context.Context, kind core.RunKind, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recaps[kind], nil
}

func (f *fakeStore) ListOpenOrders(ctx context.Context, productID string) ([]core.OpenOrderRecord, error) {
	return nil, nil
}

func (f *fakeStore) ListExecutedOrders(ctx context.Context, productID string) ([]core.ExecutedOrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executed, nil
}

func (f *fakeStore) ListFillsSince(ctx context.Context, productID string, since time.Time) ([]core.FillRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fills, nil
}

func (f *fakeStore) InsertPNLSnapshot(ctx context.Context, productID string, summary core.PNLSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	return nil
}

func (f *fakeStore) StuckRuns(ctx context.Context, olderThan time.Time) ([]core.RunRecord, error) {
	return nil, f.stuckErr
}

func (f *fakeStore) runsByKind(kind core.RunKind) []runEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runEntry
	for _, run := range f.runs {
		if run.kind == kind {
			out = append(out, run)
		}
	}
	return out
}

type fakeMarket struct {
	mid      decimal.Decimal
	midSeq   []decimal.Decimal // overrides mid per snapshot call when set
	balances map[string]core.Balance

	mu            sync.Mutex
	snapshotCalls int
}

func (f *fakeMarket) Snapshot(ctx context.Context) (*core.MarketSnapshot, error) {
	f.mu.Lock()
	mid := f.mid
	if f.snapshotCalls < len(f.midSeq) {
		mid = f.midSeq[f.snapshotCalls]
	}
	f.snapshotCalls++
	f.mu.Unlock()

	return &core.MarketSnapshot{
		ProductID: "BTC-USDC",
		BestBid:   mid.Sub(d("5")),
		BestAsk:   mid.Add(d("5")),
		Mid:       mid,
		PriceTime: time.Now().UTC(),
	}, nil
}

func (f *fakeMarket) snapshots() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotCalls
}

func (f *fakeMarket) Balances(ctx context.Context) (map[string]core.Balance, error) {
	return f.balances, nil
}

type fakeExecutor struct {
	validation *execution.Service
	syncResult *execution.SyncResult

	mu     sync.Mutex
	placed [][]core.PlannedOrder
}

func (f *fakeExecutor) ValidateOrders(orders []core.PlannedOrder, mid decimal.Decimal) ([]core.PlannedOrder, error) {
	return f.validation.ValidateOrders(orders, mid)
}

func (f *fakeExecutor) PlaceOrders(ctx context.Context, orders []core.PlannedOrder, mid decimal.Decimal) ([]*coinbase.CreateOrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, orders)
	responses := make([]*coinbase.CreateOrderResponse, len(orders))
	for i := range responses {
		responses[i] = &coinbase.CreateOrderResponse{Success: true}
	}
	return responses, nil
}

func (f *fakeExecutor) Sync(ctx context.Context) (*execution.SyncResult, error) {
	if f.syncResult != nil {
		return f.syncResult, nil
	}
	return &execution.SyncResult{}, nil
}

func (f *fakeExecutor) placedBatches() [][]core.PlannedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placed
}

type harness struct {
	orch     *Orchestrator
	store    *fakeStore
	executor *fakeExecutor
	market   *fakeMarket
	stopPool func()
}

func newHarness(t *testing.T, plannerSvc planner.Service) *harness {
	t.Helper()
	logger := logging.NewNopLogger()
	validator := constraints.NewValidator(core.ProductConstraints{
		PriceIncrement: d("0.01"),
		SizeIncrement:  d("0.0001"),
		MinSize:        d("0.001"),
		MinDistancePct: d("0.0015"),
	})
	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	store := newFakeStore()
	executor := &fakeExecutor{
		validation: execution.NewService(nil, nil, validator, "BTC-USDC", logger),
	}
	market := &fakeMarket{
		mid: d("50000"),
		balances: map[string]core.Balance{
			"USDC": {Available: d("1000"), Total: d("1000")},
			"BTC":  {Available: d("0.5"), Total: d("0.5")},
		},
	}
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test", MaxWorkers: 2}, logger)

	orch := NewOrchestrator(Options{
		ProductID:       "BTC-USDC",
		QuoteCurrency:   "USDC",
		BaseCurrency:    "BTC",
		MaxPlanOrders:   1,
		PlanAttempts:    2,
		MakerFeeCushion: d("0.0035"),
		TakerFeeCushion: d("0.0075"),
		FollowUpDelay:   time.Millisecond,
	}, market, plannerSvc, executor, store, validator,
		pnl.NewEngine(decimal.Zero, decimal.Zero, logger), nil, metrics, pool, logger)

	var stopOnce sync.Once
	stop := func() { stopOnce.Do(pool.Stop) }
	t.Cleanup(stop)
	return &harness{orch: orch, store: store, executor: executor, market: market, stopPool: stop}
}

func acceptedDailyPlan() *storage.PlanRow {
	return &storage.PlanRow{
		ProductID: "BTC-USDC",
		Response:  `{"analysis": "accumulate below 49500", "orders": []}`,
		Accepted:  true,
	}
}

func TestRunPlan_RecordsAcceptedPlanAndRecap(t *testing.T) {
	h := newHarness(t, planner.NewStub(`{"analysis": "range day, buy dips", "orders": []}`))

	require.NoError(t, h.orch.RunPlan(context.Background()))

	runs := h.store.runsByKind(core.RunPlan)
	require.Len(t, runs, 1)
	assert.Equal(t, core.RunSuccess, runs[0].status)

	require.Len(t, h.store.plans, 1)
	assert.True(t, h.store.plans[0].Accepted)
	assert.Equal(t, []string{"range day, buy dips"}, h.store.recaps[core.RunPlan])
	assert.Equal(t, 1, h.store.priceSnaps)
	assert.Equal(t, 1, h.store.portfolioSnaps)
}

func TestRunOrder_PlacesValidatedOrder(t *testing.T) {
	h := newHarness(t, planner.NewStub(
		`{"analysis": "bid the dip", "orders": [{"side": "BUY", "kind": "limit", "limit_price": "49000", "base_size": "0.01", "post_only": true}]}`))
	h.store.latestPlan = acceptedDailyPlan()

	require.NoError(t, h.orch.RunOrder(context.Background()))

	batches := h.executor.placedBatches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.True(t, batches[0][0].LimitPrice.Equal(d("49000")))

	runs := h.store.runsByKind(core.RunOrder)
	require.Len(t, runs, 1)
	assert.Equal(t, core.RunSuccess, runs[0].status)
}

func TestRunOrder_NoDailyPlan(t *testing.T) {
	h := newHarness(t, planner.NewStub())

	err := h.orch.RunOrder(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNoDailyPlan))

	runs := h.store.runsByKind(core.RunOrder)
	require.Len(t, runs, 1)
	assert.Equal(t, core.RunFailed, runs[0].status)
}

func TestRunOrder_HoldPlacesNothing(t *testing.T) {
	h := newHarness(t, planner.NewStub(`{"analysis": "chop, stay flat", "orders": []}`))
	h.store.latestPlan = acceptedDailyPlan()

	require.NoError(t, h.orch.RunOrder(context.Background()))
	assert.Empty(t, h.executor.placedBatches())
}

func TestRunOrder_SecondAttemptSucceeds(t *testing.T) {
	stub := planner.NewStub(
		`{"analysis": "too close to mid", "orders": [{"side": "BUY", "kind": "limit", "limit_price": "49999", "base_size": "0.01"}]}`,
		`{"analysis": "backed off", "orders": [{"side": "BUY", "kind": "limit", "limit_price": "49000", "base_size": "0.01"}]}`)
	h := newHarness(t, stub)
	h.store.latestPlan = acceptedDailyPlan()

	require.NoError(t, h.orch.RunOrder(context.Background()))
	assert.Equal(t, 2, stub.Calls())
	require.Len(t, h.executor.placedBatches(), 1)

	// attempt 1 rejected, attempt 2 accepted
	require.Len(t, h.store.plans, 2)
	assert.False(t, h.store.plans[0].Accepted)
	assert.True(t, h.store.plans[1].Accepted)
}

func TestRunOrder_ExhaustedAfterRepeatedRejection(t *testing.T) {
	stub := planner.NewStub(`not json`, `still not json`)
	h := newHarness(t, stub)
	h.store.latestPlan = acceptedDailyPlan()

	err := h.orch.RunOrder(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPlanningExhausted))
	assert.Equal(t, 2, stub.Calls())
	assert.Empty(t, h.executor.placedBatches())
}

func TestCapToBalance(t *testing.T) {
	h := newHarness(t, planner.NewStub())
	mid := d("50000")
	balances := map[string]core.Balance{"USDC": {Available: d("300")}}

	orders := []core.PlannedOrder{
		{Side: core.SideBuy, Kind: core.KindLimit, LimitPrice: d("49000"), BaseSize: d("0.01"), PostOnly: true},
		{Side: core.SideSell, Kind: core.KindLimit, LimitPrice: d("51000"), BaseSize: d("5")},
	}
	kept := h.orch.capToBalance(context.Background(), orders, balances, mid)
	require.Len(t, kept, 2)

	// 300 / (49000 * 1.0035) rounded to the size grid
	assert.True(t, kept[0].BaseSize.LessThan(d("0.01")), "buy resized to fit balance")
	assert.True(t, kept[0].BaseSize.Mul(d("49000")).Mul(d("1.0035")).LessThanOrEqual(d("300")))
	assert.True(t, kept[1].BaseSize.Equal(d("5")), "sells are never capped")
}

func TestCapToBalance_DropsBelowMinimum(t *testing.T) {
	h := newHarness(t, planner.NewStub())
	balances := map[string]core.Balance{"USDC": {Available: d("10")}}

	orders := []core.PlannedOrder{
		{Side: core.SideBuy, Kind: core.KindLimit, LimitPrice: d("49000"), BaseSize: d("0.01")},
	}
	kept := h.orch.capToBalance(context.Background(), orders, balances, d("50000"))
	assert.Empty(t, kept, "capped size below the minimum is dropped")
}

func TestCapToBalance_SequentialBuysShareBalance(t *testing.T) {
	h := newHarness(t, planner.NewStub())
	balances := map[string]core.Balance{"USDC": {Available: d("1000")}}

	orders := []core.PlannedOrder{
		{Side: core.SideBuy, Kind: core.KindLimit, LimitPrice: d("49000"), BaseSize: d("0.01")},
		{Side: core.SideBuy, Kind: core.KindLimit, LimitPrice: d("49000"), BaseSize: d("0.02")},
	}
	kept := h.orch.capToBalance(context.Background(), orders, balances, d("50000"))
	require.Len(t, kept, 2)
	assert.True(t, kept[0].BaseSize.Equal(d("0.01")), "first buy fits untouched")
	assert.True(t, kept[1].BaseSize.LessThan(d("0.02")), "second buy capped to the remainder")
}

func TestCapToBalance_TakerCushionUnlessPostOnly(t *testing.T) {
	h := newHarness(t, planner.NewStub())
	balances := map[string]core.Balance{"USDC": {Available: d("1004")}}

	// 0.02 @ 50000 is notional 1000: it fits the balance at the maker
	// cushion (1003.5) but not at the taker cushion (1007.5).
	taker := []core.PlannedOrder{
		{Side: core.SideBuy, Kind: core.KindLimit, LimitPrice: d("50000"), BaseSize: d("0.02")},
	}
	kept := h.orch.capToBalance(context.Background(), taker, balances, d("50000"))
	require.Len(t, kept, 1)
	assert.True(t, kept[0].BaseSize.LessThan(d("0.02")),
		"non-post-only limit buy reserves at the taker rate")
	assert.True(t, kept[0].BaseSize.Mul(d("50000")).Mul(d("1.0075")).LessThanOrEqual(d("1004")))

	maker := []core.PlannedOrder{
		{Side: core.SideBuy, Kind: core.KindLimit, LimitPrice: d("50000"), BaseSize: d("0.02"), PostOnly: true},
	}
	kept = h.orch.capToBalance(context.Background(), maker, balances, d("50000"))
	require.Len(t, kept, 1)
	assert.True(t, kept[0].BaseSize.Equal(d("0.02")),
		"post-only limit buy fits at the maker rate")
}

func TestCapToBalance_StopLimitUsesTakerCushion(t *testing.T) {
	h := newHarness(t, planner.NewStub())
	balances := map[string]core.Balance{"USDC": {Available: d("1004")}}
	stop := d("50500")

	orders := []core.PlannedOrder{
		{Side: core.SideBuy, Kind: core.KindStopLimit, LimitPrice: d("50000"), StopPrice: &stop, BaseSize: d("0.02")},
	}
	kept := h.orch.capToBalance(context.Background(), orders, balances, d("50000"))
	require.Len(t, kept, 1)
	assert.True(t, kept[0].BaseSize.LessThan(d("0.02")),
		"stop-limit buys never qualify for the maker cushion")
}

func TestRunOrder_DriftedAttemptRetriesWithFreshQuote(t *testing.T) {
	stub := planner.NewStub(
		`{"analysis": "bid the old level", "orders": [{"side": "BUY", "kind": "limit", "limit_price": "49000", "base_size": "0.01"}]}`,
		`{"analysis": "bid the new level", "orders": [{"side": "BUY", "kind": "limit", "limit_price": "59000", "base_size": "0.005"}]}`)
	h := newHarness(t, stub)
	h.store.latestPlan = acceptedDailyPlan()
	// Attempt 1 plans at 50000 and re-checks at 60000, a 20% move.
	// Attempt 2 plans and re-checks at the new level.
	h.market.midSeq = []decimal.Decimal{d("50000"), d("60000"), d("60000"), d("60000")}

	require.NoError(t, h.orch.RunOrder(context.Background()))

	assert.Equal(t, 2, stub.Calls())
	assert.Equal(t, 4, h.market.snapshots(), "each proposing attempt re-checks the quote")
	batches := h.executor.placedBatches()
	require.Len(t, batches, 1)
	assert.True(t, batches[0][0].LimitPrice.Equal(d("59000")), "only the fresh-priced order is placed")

	require.Len(t, h.store.plans, 2)
	assert.False(t, h.store.plans[0].Accepted)
	assert.Equal(t, "price drifted during planning", h.store.plans[0].ErrorText)
	assert.True(t, h.store.plans[1].Accepted)
}

func TestRunOrder_DriftOnBothAttemptsExhausts(t *testing.T) {
	stub := planner.NewStub(
		`{"analysis": "chasing", "orders": [{"side": "BUY", "kind": "limit", "limit_price": "49000", "base_size": "0.01"}]}`,
		`{"analysis": "still chasing", "orders": [{"side": "BUY", "kind": "limit", "limit_price": "49000", "base_size": "0.01"}]}`)
	h := newHarness(t, stub)
	h.store.latestPlan = acceptedDailyPlan()
	h.market.midSeq = []decimal.Decimal{d("50000"), d("60000"), d("60000"), d("70000")}

	err := h.orch.RunOrder(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPlanningExhausted),
		"drift on the second attempt is terminal, never a third attempt")
	assert.Equal(t, 2, stub.Calls())
	assert.Empty(t, h.executor.placedBatches())
}

func TestRunOrder_HoldSkipsDriftRecheck(t *testing.T) {
	h := newHarness(t, planner.NewStub(`{"analysis": "chop, stay flat", "orders": []}`))
	h.store.latestPlan = acceptedDailyPlan()

	require.NoError(t, h.orch.RunOrder(context.Background()))
	assert.Equal(t, 1, h.market.snapshots(), "a holding cycle needs no second quote")
}

// blockingPlanner parks inside Plan until released, counting concurrent
// callers.
type blockingPlanner struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	release  chan struct{}
}

func (b *blockingPlanner) Plan(ctx context.Context, req planner.Request) (*planner.Result, error) {
	current := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		max := b.maxSeen.Load()
		if current <= max || b.maxSeen.CompareAndSwap(max, current) {
			break
		}
	}
	<-b.release
	doc, _ := planner.ParsePlanDocument(`{"analysis": "x", "orders": []}`, 0)
	return &planner.Result{Document: doc}, nil
}

func TestPlanAndOrderCyclesSerialize(t *testing.T) {
	blocking := &blockingPlanner{release: make(chan struct{})}
	h := newHarness(t, blocking)
	h.store.latestPlan = acceptedDailyPlan()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.orch.RunPlan(context.Background())
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.orch.RunOrder(context.Background())
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(blocking.release)
	wg.Wait()

	assert.Equal(t, int32(1), blocking.maxSeen.Load(),
		"plan and order cycles must never plan concurrently")
}

func TestRunMonitor_SchedulesFollowUpOnFill(t *testing.T) {
	h := newHarness(t, planner.NewStub())
	h.store.latestPlan = acceptedDailyPlan()
	h.executor.syncResult = &execution.SyncResult{
		ChangedOrderIDs: []string{"ord-1"},
		ExecutedOrders: []core.ExecutedOrderRecord{
			{OrderID: "ord-1", Status: core.StatusFilled},
		},
	}

	require.NoError(t, h.orch.RunMonitor(context.Background()))
	h.stopPool()

	runs := h.store.runsByKind(core.RunOrder)
	require.Len(t, runs, 1, "fill should trigger one follow-up order cycle")
}

func TestRunMonitor_NoFollowUpWithoutFills(t *testing.T) {
	h := newHarness(t, planner.NewStub())
	h.executor.syncResult = &execution.SyncResult{
		ChangedOrderIDs: []string{"ord-1"},
		ExecutedOrders: []core.ExecutedOrderRecord{
			{OrderID: "ord-1", Status: core.StatusOpen},
		},
	}

	require.NoError(t, h.orch.RunMonitor(context.Background()))
	h.stopPool()
	assert.Empty(t, h.store.runsByKind(core.RunOrder))
}

func TestRunMonitor_FollowUpDecisionWaitsForPlanGuard(t *testing.T) {
	blocking := &blockingPlanner{release: make(chan struct{})}
	h := newHarness(t, blocking)
	h.store.latestPlan = acceptedDailyPlan()
	h.executor.syncResult = &execution.SyncResult{
		ChangedOrderIDs: []string{"ord-1"},
		ExecutedOrders: []core.ExecutedOrderRecord{
			{OrderID: "ord-1", Status: core.StatusFilled},
		},
	}

	planDone := make(chan struct{})
	go func() {
		defer close(planDone)
		_ = h.orch.RunPlan(context.Background())
	}()
	require.Eventually(t, func() bool {
		return blocking.inFlight.Load() == 1
	}, time.Second, time.Millisecond, "plan cycle should be holding the shared guard")

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		_ = h.orch.RunMonitor(context.Background())
	}()

	select {
	case <-monitorDone:
		t.Fatal("follow-up decision ran while a plan cycle held the shared guard")
	case <-time.After(50 * time.Millisecond):
	}

	close(blocking.release)
	<-planDone
	<-monitorDone
	h.stopPool()

	runs := h.store.runsByKind(core.RunOrder)
	require.Len(t, runs, 1, "follow-up proceeds once the guard is released")
}

func TestRunMonitor_StuckRunQueryErrorDoesNotFailRun(t *testing.T) {
	h := newHarness(t, planner.NewStub())
	h.store.latestPlan = acceptedDailyPlan()
	h.store.stuckErr = errors.New("run log unavailable")
	h.executor.syncResult = &execution.SyncResult{
		ChangedOrderIDs: []string{"ord-1"},
		ExecutedOrders: []core.ExecutedOrderRecord{
			{OrderID: "ord-1", Status: core.StatusFilled},
		},
	}

	require.NoError(t, h.orch.RunMonitor(context.Background()))
	h.stopPool()

	require.Len(t, h.store.runsByKind(core.RunOrder), 1,
		"a broken stuck-run query must not stop fill follow-up")
}

func TestRunPnL_SummarizesBotFills(t *testing.T) {
	h := newHarness(t, planner.NewStub())
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	h.store.executed = []core.ExecutedOrderRecord{
		{OrderID: "bot-buy", Status: core.StatusFilled, ClientOrderID: "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4"},
		{OrderID: "bot-sell", Status: core.StatusFilled, ClientOrderID: "ffb2c3d4e5f6a1b2c3d4e5f6a1b2c3d4"},
		{OrderID: "manual", Status: core.StatusFilled, ClientOrderID: "manual-ui-order"},
	}
	h.store.fills = []core.FillRecord{
		{FillID: "f1", OrderID: "bot-buy", TradeTime: base, Side: core.SideBuy, Price: d("700"), Size: d("1"), Maker: true},
		{FillID: "f2", OrderID: "bot-sell", TradeTime: base.Add(time.Hour), Side: core.SideSell, Price: d("900"), Size: d("1"), Maker: true},
		{FillID: "f3", OrderID: "manual", TradeTime: base.Add(2 * time.Hour), Side: core.SideSell, Price: d("1"), Size: d("100")},
	}

	require.NoError(t, h.orch.RunPnL(context.Background()))

	require.Len(t, h.store.summaries, 1)
	summary := h.store.summaries[0]
	assert.True(t, summary.TotalProfitBeforeFees.Equal(d("200")),
		"manual trade excluded; 900-700 round trip only, got %s", summary.TotalProfitBeforeFees)
}
