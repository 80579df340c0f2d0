// Package scheduler runs the trading loop's recurring cycles: daily
// planning, two-hourly order cycles, fill monitoring, and PnL rollups.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"tradeloop/internal/alert"
	"tradeloop/internal/core"
	"tradeloop/internal/exchange/coinbase"
	"tradeloop/internal/planner"
	"tradeloop/internal/storage"
	"tradeloop/internal/trading/constraints"
	"tradeloop/internal/trading/execution"
	"tradeloop/internal/trading/pnl"
	"tradeloop/pkg/apperrors"
	"tradeloop/pkg/concurrency"
	"tradeloop/pkg/telemetry"
)

// MarketService reads market context for planning.
type MarketService interface {
	Snapshot(ctx context.Context) (*core.MarketSnapshot, error)
	Balances(ctx context.Context) (map[string]core.Balance, error)
}

// Executor validates, submits, and reconciles orders.
type Executor interface {
	ValidateOrders(orders []core.PlannedOrder, mid decimal.Decimal) ([]core.PlannedOrder, error)
	PlaceOrders(ctx context.Context, orders []core.PlannedOrder, mid decimal.Decimal) ([]*coinbase.CreateOrderResponse, error)
	Sync(ctx context.Context) (*execution.SyncResult, error)
}

// Store is the persistence surface the orchestrator needs.
type Store interface {
	StartRun(ctx context.Context, kind core.RunKind) (int64, error)
	FinishRun(ctx context.Context, id int64, status core.RunStatus, usageJSON, errorText string) error
	InsertPlan(ctx context.Context, row storage.PlanRow) error
	LatestAcceptedPlan(ctx context.Context, productID string) (*storage.PlanRow, error)
	InsertPriceSnapshot(ctx context.Context, snap core.PriceSnapshot) error
	InsertPortfolioSnapshot(ctx context.Context, productID string, balances map[string]core.Balance) error
	InsertPromptRecap(ctx context.Context, kind core.RunKind, recap string) error
	RecentPromptRecaps(ctx context.Context, kind core.RunKind, limit int) ([]string, error)
	ListOpenOrders(ctx context.Context, productID string) ([]core.OpenOrderRecord, error)
	ListExecutedOrders(ctx context.Context, productID string) ([]core.ExecutedOrderRecord, error)
	ListFillsSince(ctx context.Context, productID string, since time.Time) ([]core.FillRecord, error)
	InsertPNLSnapshot(ctx context.Context, productID string, summary core.PNLSummary) error
	StuckRuns(ctx context.Context, olderThan time.Time) ([]core.RunRecord, error)
}

// Options are the tuning knobs for the orchestrator.
type Options struct {
	ProductID       string
	QuoteCurrency   string
	BaseCurrency    string
	MaxPlanOrders   int
	PlanAttempts    int
	DriftPct        decimal.Decimal
	MakerFeeCushion decimal.Decimal
	TakerFeeCushion decimal.Decimal
	OrderInterval   time.Duration
	FollowUpDelay   time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxPlanOrders == 0 {
		o.MaxPlanOrders = 1
	}
	if o.PlanAttempts == 0 {
		o.PlanAttempts = 2
	}
	if o.DriftPct.IsZero() {
		o.DriftPct = decimal.NewFromFloat(0.005)
	}
	if o.OrderInterval == 0 {
		o.OrderInterval = 2 * time.Hour
	}
	if o.FollowUpDelay == 0 {
		o.FollowUpDelay = 10 * time.Second
	}
}

// Orchestrator coordinates the run kinds. Plan and order cycles share one
// mutex; order cycles additionally hold their own, so a slow order run
// blocks the next order trigger without starving the fill poller.
type Orchestrator struct {
	opts      Options
	market    MarketService
	planner   planner.Service
	executor  Executor
	store     Store
	validator *constraints.Validator
	pnl       *pnl.Engine
	alerts    *alert.Manager
	metrics   *telemetry.Metrics
	pool      *concurrency.WorkerPool
	logger    core.ILogger

	planMu  sync.Mutex
	orderMu sync.Mutex

	lastFollowUp time.Time // guarded by planMu
}

func NewOrchestrator(opts Options, market MarketService, plannerSvc planner.Service, executor Executor,
	store Store, validator *constraints.Validator, pnlEngine *pnl.Engine, alerts *alert.Manager,
	metrics *telemetry.Metrics, pool *concurrency.WorkerPool, logger core.ILogger) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		opts:      opts,
		market:    market,
		planner:   plannerSvc,
		executor:  executor,
		store:     store,
		validator: validator,
		pnl:       pnlEngine,
		alerts:    alerts,
		metrics:   metrics,
		pool:      pool,
		logger:    logger.WithField("component", "scheduler"),
	}
}

// runGuarded wraps a cycle body with run-log lifecycle, metrics, and the
// failure alert. The body returns a usage JSON blob for the run row.
func (o *Orchestrator) runGuarded(ctx context.Context, kind core.RunKind, body func(ctx context.Context) (string, error)) error {
	runID, err := o.store.StartRun(ctx, kind)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}

	attrs := metric.WithAttributes(attribute.String("kind", string(kind)))
	o.metrics.RunsTotal.Add(ctx, 1, attrs)
	started := time.Now()
	o.logger.Info("Run started", "kind", kind, "run_id", runID)

	usageJSON, runErr := body(ctx)
	o.metrics.RunDuration.Record(ctx, time.Since(started).Seconds(), attrs)

	if runErr != nil {
		o.metrics.RunsFailedTotal.Add(ctx, 1, attrs)
		o.logger.Error("Run failed", "kind", kind, "run_id", runID, "error", runErr)
		if err := o.store.FinishRun(ctx, runID, core.RunFailed, usageJSON, runErr.Error()); err != nil {
			o.logger.Error("Failed to finalize run", "run_id", runID, "error", err)
		}
		if o.alerts != nil {
			o.alerts.RunFailed(ctx, kind, runID, runErr)
		}
		return runErr
	}

	if err := o.store.FinishRun(ctx, runID, core.RunSuccess, usageJSON, ""); err != nil {
		o.logger.Error("Failed to finalize run", "run_id", runID, "error", err)
	}
	o.logger.Info("Run finished", "kind", kind, "run_id", runID, "duration", time.Since(started))
	return nil
}

// RunPlan executes the daily planning cycle.
func (o *Orchestrator) RunPlan(ctx context.Context) error {
	o.planMu.Lock()
	defer o.planMu.Unlock()
	return o.runGuarded(ctx, core.RunPlan, o.planCycle)
}

func (o *Orchestrator) planCycle(ctx context.Context) (string, error) {
	snapshot, balances, err := o.gatherContext(ctx)
	if err != nil {
		return "", err
	}

	recaps, err := o.store.RecentPromptRecaps(ctx, core.RunPlan, 5)
	if err != nil {
		return "", err
	}

	prompt := buildDailyPrompt(snapshot, balances, recaps)
	result, err := o.planner.Plan(ctx, planner.Request{
		System:    dailySystemPrompt,
		Prompt:    prompt,
		MaxOrders: 0,
	})
	usageJSON := marshalUsage(result)
	if err != nil {
		o.metrics.PlansRejectedTotal.Add(ctx, 1)
		o.recordPlan(ctx, prompt, result, false, err.Error())
		return usageJSON, fmt.Errorf("daily planning failed: %w", err)
	}
	o.recordPlan(ctx, prompt, result, true, "")

	if recapErr := o.store.InsertPromptRecap(ctx, core.RunPlan, result.Document.Analysis); recapErr != nil {
		o.logger.Warn("Failed to store plan recap", "error", recapErr)
	}
	return usageJSON, nil
}

// RunOrder executes one order cycle: sync, plan with the LLM, validate, cap
// to balance, and place. A rejected or drifted attempt feeds its failure
// into the next attempt's prompt; when all attempts fail the run fails.
func (o *Orchestrator) RunOrder(ctx context.Context) error {
	o.orderMu.Lock()
	defer o.orderMu.Unlock()
	o.planMu.Lock()
	defer o.planMu.Unlock()
	return o.runGuarded(ctx, core.RunOrder, o.orderCycle)
}

func (o *Orchestrator) orderCycle(ctx context.Context) (string, error) {
	syncResult, err := o.executor.Sync(ctx)
	if err != nil {
		return "", fmt.Errorf("pre-cycle sync failed: %w", err)
	}
	o.recordSyncMetrics(ctx, syncResult)

	dailyPlan, err := o.store.LatestAcceptedPlan(ctx, o.opts.ProductID)
	if err != nil {
		return "", err
	}
	if dailyPlan == nil {
		return "", apperrors.ErrNoDailyPlan
	}

	recaps, err := o.store.RecentPromptRecaps(ctx, core.RunOrder, 5)
	if err != nil {
		return "", err
	}

	var (
		totalUsage  planner.Usage
		lastFailure string
	)
	for attempt := 1; attempt <= o.opts.PlanAttempts; attempt++ {
		usage, failure, err := o.orderAttempt(ctx, dailyPlan.Response, syncResult.OpenOrders, recaps, lastFailure)
		accumulateUsage(&totalUsage, usage)
		if err != nil {
			return marshalUsageTotals(totalUsage), err
		}
		if failure == "" {
			return marshalUsageTotals(totalUsage), nil
		}
		lastFailure = failure
		o.logger.Warn("Order attempt rejected", "attempt", attempt, "reason", failure)
	}

	return marshalUsageTotals(totalUsage), fmt.Errorf("%w: %s", apperrors.ErrPlanningExhausted, lastFailure)
}

// orderAttempt runs one planning attempt. A recoverable rejection comes back
// as a non-empty failure string; hard errors abort the cycle.
func (o *Orchestrator) orderAttempt(ctx context.Context, dailyPlan string, openOrders []core.OpenOrderRecord,
	recaps []string, previousFailure string) (planner.Usage, string, error) {
	snapshot, balances, err := o.gatherContext(ctx)
	if err != nil {
		return planner.Usage{}, "", err
	}
	t0Mid := snapshot.Mid

	prompt := buildOrderPrompt(dailyPlan, snapshot, balances, openOrders, recaps, previousFailure)
	result, err := o.planner.Plan(ctx, planner.Request{
		System:    orderSystemPrompt,
		Prompt:    prompt,
		MaxOrders: o.opts.MaxPlanOrders,
	})
	usage := extractUsage(result)
	if err != nil {
		o.metrics.PlansRejectedTotal.Add(ctx, 1)
		o.recordPlan(ctx, prompt, result, false, err.Error())
		return usage, fmt.Sprintf("plan rejected: %v", err), nil
	}

	orders := result.Document.PlannedOrders(time.Now().UTC().Add(o.opts.OrderInterval))
	validated, err := o.executor.ValidateOrders(orders, t0Mid)
	if err != nil {
		if apperrors.IsValidation(err) {
			o.metrics.PlansRejectedTotal.Add(ctx, 1)
			o.recordPlan(ctx, prompt, result, false, err.Error())
			return usage, fmt.Sprintf("validation failed: %v", err), nil
		}
		return usage, "", err
	}

	// Every proposed order gets a fresh quote before committing; the
	// planning call can take long enough for the snapshot to go stale.
	if len(validated) > 0 {
		fresh, err := o.market.Snapshot(ctx)
		if err != nil {
			return usage, "", fmt.Errorf("drift re-check failed: %w", err)
		}
		drift := fresh.Mid.Sub(t0Mid).Abs().Div(t0Mid)
		if drift.GreaterThan(o.opts.DriftPct) {
			o.recordPlan(ctx, prompt, result, false, "price drifted during planning")
			return usage, fmt.Sprintf("mid drifted %s%% during planning", drift.Mul(decimal.NewFromInt(100)).StringFixed(3)), nil
		}
	}

	capped := o.capToBalance(ctx, validated, balances, t0Mid)

	o.recordPlan(ctx, prompt, result, true, "")
	if recapErr := o.store.InsertPromptRecap(ctx, core.RunOrder, result.Document.Analysis); recapErr != nil {
		o.logger.Warn("Failed to store cycle recap", "error", recapErr)
	}

	if len(capped) == 0 {
		o.logger.Info("Cycle holds, no order to place")
		return usage, "", nil
	}

	responses, err := o.executor.PlaceOrders(ctx, capped, t0Mid)
	if err != nil {
		return usage, "", fmt.Errorf("order placement failed: %w", err)
	}
	o.metrics.OrdersPlacedTotal.Add(ctx, int64(len(responses)),
		metric.WithAttributes(attribute.String("product", o.opts.ProductID)))

	for _, order := range capped {
		if order.Kind == core.KindMarket {
			o.scheduleFollowUp("market order placed")
			break
		}
	}
	return usage, "", nil
}

// capToBalance resizes BUY orders so the notional plus fee cushion fits the
// available quote balance. SELL orders pass through untouched. A capped BUY
// that lands below the minimum size is dropped.
func (o *Orchestrator) capToBalance(ctx context.Context, orders []core.PlannedOrder,
	balances map[string]core.Balance, mid decimal.Decimal) []core.PlannedOrder {
	available := balances[o.opts.QuoteCurrency].Available

	kept := make([]core.PlannedOrder, 0, len(orders))
	for _, order := range orders {
		if order.Side == core.SideSell {
			kept = append(kept, order)
			continue
		}

		// The smaller maker cushion applies only where a maker fill is
		// guaranteed; everything else reserves at the taker rate.
		cushion := o.opts.TakerFeeCushion
		price := order.LimitPrice
		if order.Kind == core.KindMarket {
			price = mid
		} else if order.Kind == core.KindLimit && order.PostOnly {
			cushion = o.opts.MakerFeeCushion
		}
		unit := price.Mul(decimal.NewFromInt(1).Add(cushion))
		notional := unit.Mul(order.BaseSize)

		if notional.GreaterThan(available) {
			if !unit.IsPositive() || !available.IsPositive() {
				o.metrics.OrdersDroppedTotal.Add(ctx, 1)
				o.logger.Warn("Dropping BUY, no quote balance available")
				continue
			}
			cappedSize := o.validator.RoundSize(available.Div(unit))
			if _, err := o.validator.EnsureMinSize(cappedSize); err != nil {
				o.metrics.OrdersDroppedTotal.Add(ctx, 1)
				o.logger.Warn("Dropping BUY, capped size below minimum",
					"requested", order.BaseSize.String(), "capped", cappedSize.String())
				continue
			}
			o.metrics.OrdersCappedTotal.Add(ctx, 1)
			o.logger.Warn("Capping BUY to available balance",
				"requested", order.BaseSize.String(), "capped", cappedSize.String())
			order.BaseSize = cappedSize
			notional = unit.Mul(cappedSize)
		}

		available = available.Sub(notional)
		kept = append(kept, order)
	}
	return kept
}

// RunMonitor polls the exchange for fill progress between order cycles.
func (o *Orchestrator) RunMonitor(ctx context.Context) error {
	return o.runGuarded(ctx, core.RunMonitor, func(ctx context.Context) (string, error) {
		syncResult, err := o.executor.Sync(ctx)
		if err != nil {
			return "", err
		}
		o.recordSyncMetrics(ctx, syncResult)

		stuck, err := o.store.StuckRuns(ctx, time.Now().Add(-time.Hour))
		if err != nil {
			o.logger.Warn("Failed to query stuck runs", "error", err)
		}
		for _, run := range stuck {
			o.logger.Warn("Run stuck in running state", "kind", run.Kind, "run_id", run.ID, "started_at", run.StartedAt)
		}

		if hasNewlyFilled(syncResult) {
			o.maybeScheduleFollowUp()
		}
		return "", nil
	})
}

func hasNewlyFilled(result *execution.SyncResult) bool {
	changed := make(map[string]bool, len(result.ChangedOrderIDs))
	for _, id := range result.ChangedOrderIDs {
		changed[id] = true
	}
	for _, rec := range result.ExecutedOrders {
		if changed[rec.OrderID] && rec.Status == core.StatusFilled {
			return true
		}
	}
	return false
}

// maybeScheduleFollowUp holds the shared plan guard only for the trigger
// decision, never across the follow-up cycle itself. An in-flight plan or
// order cycle therefore delays the decision rather than racing it.
func (o *Orchestrator) maybeScheduleFollowUp() {
	o.planMu.Lock()
	recent := time.Since(o.lastFollowUp) < o.opts.OrderInterval/4
	if !recent {
		o.lastFollowUp = time.Now()
	}
	o.planMu.Unlock()

	if recent {
		o.logger.Debug("Skipping follow-up, one ran recently")
		return
	}
	o.scheduleFollowUp("fill detected")
}

// scheduleFollowUp queues a delayed order cycle on the worker pool,
// fire-and-forget.
func (o *Orchestrator) scheduleFollowUp(reason string) {
	delay := o.opts.FollowUpDelay
	o.logger.Info("Scheduling follow-up order cycle", "reason", reason, "delay", delay)
	err := o.pool.Submit(func() {
		time.Sleep(delay)
		if err := o.RunOrder(context.Background()); err != nil {
			o.logger.Error("Follow-up order cycle failed", "error", err)
		}
	})
	if err != nil {
		o.logger.Warn("Follow-up dropped, worker pool full", "reason", reason)
	}
}

// RunPnL rebuilds the FIFO PnL summary from the fill ledger and stores a
// snapshot.
func (o *Orchestrator) RunPnL(ctx context.Context) error {
	return o.runGuarded(ctx, core.RunPnL, func(ctx context.Context) (string, error) {
		trades, err := o.loadBotTrades(ctx)
		if err != nil {
			return "", err
		}

		summary := o.pnl.Summarize(trades, time.Now().UTC())
		if err := o.store.InsertPNLSnapshot(ctx, o.opts.ProductID, summary); err != nil {
			return "", err
		}
		o.metrics.SetProfitAfterFees(o.opts.ProductID, summary.TotalProfitAfterFees.InexactFloat64())

		o.logger.Info("PnL snapshot stored",
			"trades", len(trades),
			"profit_after_fees", summary.TotalProfitAfterFees.String())
		return "", nil
	})
}

// loadBotTrades joins the fill ledger against executed orders, keeping only
// fills that belong to this bot's FILLED orders.
func (o *Orchestrator) loadBotTrades(ctx context.Context) ([]core.TradeSnapshot, error) {
	executed, err := o.store.ListExecutedOrders(ctx, o.opts.ProductID)
	if err != nil {
		return nil, err
	}
	botFilled := make(map[string]bool, len(executed))
	for _, rec := range executed {
		if rec.Status == core.StatusFilled && core.IsBotClientOrderID(rec.ClientOrderID) {
			botFilled[rec.OrderID] = true
		}
	}

	fills, err := o.store.ListFillsSince(ctx, o.opts.ProductID, pnl.CutoffTime)
	if err != nil {
		return nil, err
	}

	trades := make([]core.TradeSnapshot, 0, len(fills))
	for _, fill := range fills {
		if !botFilled[fill.OrderID] {
			continue
		}
		trades = append(trades, core.TradeSnapshot{
			Timestamp: fill.TradeTime,
			Side:      fill.Side,
			Price:     fill.Price,
			Size:      fill.Size,
			Maker:     fill.Maker,
		})
	}
	return trades, nil
}

// gatherContext fetches and persists the market and portfolio context shared
// by the plan and order cycles.
func (o *Orchestrator) gatherContext(ctx context.Context) (*core.MarketSnapshot, map[string]core.Balance, error) {
	snapshot, err := o.market.Snapshot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("market snapshot failed: %w", err)
	}
	if err := o.store.InsertPriceSnapshot(ctx, core.PriceSnapshot{
		Ts:        snapshot.PriceTime,
		ProductID: snapshot.ProductID,
		BestBid:   snapshot.BestBid,
		BestAsk:   snapshot.BestAsk,
		Mid:       snapshot.Mid,
	}); err != nil {
		o.logger.Warn("Failed to persist price snapshot", "error", err)
	}

	all, err := o.market.Balances(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("balance fetch failed: %w", err)
	}
	balances := make(map[string]core.Balance, 2)
	for _, currency := range []string{o.opts.BaseCurrency, o.opts.QuoteCurrency} {
		if balance, ok := all[currency]; ok {
			balances[currency] = balance
		}
	}
	if err := o.store.InsertPortfolioSnapshot(ctx, o.opts.ProductID, balances); err != nil {
		o.logger.Warn("Failed to persist portfolio snapshot", "error", err)
	}
	return snapshot, balances, nil
}

func (o *Orchestrator) recordSyncMetrics(ctx context.Context, result *execution.SyncResult) {
	o.metrics.OrdersChangedTotal.Add(ctx, int64(len(result.ChangedOrderIDs)),
		metric.WithAttributes(attribute.String("product", o.opts.ProductID)))
	o.metrics.SetOpenOrders(o.opts.ProductID, int64(len(result.OpenOrders)))
}

func (o *Orchestrator) recordPlan(ctx context.Context, prompt string, result *planner.Result, accepted bool, errText string) {
	raw := ""
	if result != nil {
		raw = result.Raw
	}
	if err := o.store.InsertPlan(ctx, storage.PlanRow{
		ProductID: o.opts.ProductID,
		Prompt:    prompt,
		Response:  raw,
		Accepted:  accepted,
		ErrorText: errText,
	}); err != nil {
		o.logger.Warn("Failed to persist plan row", "error", err)
	}
	if result != nil && result.Usage.TotalTokens > 0 {
		o.metrics.PlannerTokensTotal.Add(ctx, int64(result.Usage.TotalTokens))
	}
}

func extractUsage(result *planner.Result) planner.Usage {
	if result == nil {
		return planner.Usage{}
	}
	return result.Usage
}

func accumulateUsage(total *planner.Usage, usage planner.Usage) {
	total.PromptTokens += usage.PromptTokens
	total.CompletionTokens += usage.CompletionTokens
	total.TotalTokens += usage.TotalTokens
}

func marshalUsage(result *planner.Result) string {
	return marshalUsageTotals(extractUsage(result))
}

func marshalUsageTotals(usage planner.Usage) string {
	if usage.TotalTokens == 0 {
		return ""
	}
	data, err := json.Marshal(usage)
	if err != nil {
		return ""
	}
	return string(data)
}
