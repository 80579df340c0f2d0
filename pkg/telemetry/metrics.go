package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricRunsTotal          = "tradeloop_runs_total"
	MetricRunsFailedTotal    = "tradeloop_runs_failed_total"
	MetricRunDuration        = "tradeloop_run_duration_seconds"
	MetricOrdersPlacedTotal  = "tradeloop_orders_placed_total"
	MetricOrdersCappedTotal  = "tradeloop_orders_capped_total"
	MetricOrdersDroppedTotal = "tradeloop_orders_dropped_total"
	MetricOrdersChangedTotal = "tradeloop_orders_changed_total"
	MetricOrdersOpen         = "tradeloop_orders_open"
	MetricProfitAfterFees    = "tradeloop_profit_after_fees"
	MetricPlannerTokensTotal = "tradeloop_planner_tokens_total"
	MetricPlansRejectedTotal = "tradeloop_plans_rejected_total"
)

// Metrics holds the initialized instruments. It is created once at startup
// and injected into the components that record measurements.
type Metrics struct {
	RunsTotal          metric.Int64Counter
	RunsFailedTotal    metric.Int64Counter
	RunDuration        metric.Float64Histogram
	OrdersPlacedTotal  metric.Int64Counter
	OrdersCappedTotal  metric.Int64Counter
	OrdersDroppedTotal metric.Int64Counter
	OrdersChangedTotal metric.Int64Counter
	OrdersOpen         metric.Int64ObservableGauge
	ProfitAfterFees    metric.Float64ObservableGauge
	PlannerTokensTotal metric.Int64Counter
	PlansRejectedTotal metric.Int64Counter

	// State for observable gauges
	mu              sync.RWMutex
	openOrdersMap   map[string]int64
	profitAfterFees map[string]float64
}

// NewMetrics initializes all instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{
		openOrdersMap:   make(map[string]int64),
		profitAfterFees: make(map[string]float64),
	}

	var err error

	m.RunsTotal, err = meter.Int64Counter(MetricRunsTotal, metric.WithDescription("Total scheduled runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsFailedTotal, err = meter.Int64Counter(MetricRunsFailedTotal, metric.WithDescription("Total scheduled runs that failed"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram(MetricRunDuration, metric.WithDescription("Duration of scheduled runs"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders submitted to the exchange"))
	if err != nil {
		return nil, err
	}

	m.OrdersCappedTotal, err = meter.Int64Counter(MetricOrdersCappedTotal, metric.WithDescription("Total BUY orders resized to fit available balance"))
	if err != nil {
		return nil, err
	}

	m.OrdersDroppedTotal, err = meter.Int64Counter(MetricOrdersDroppedTotal, metric.WithDescription("Total orders dropped before submission"))
	if err != nil {
		return nil, err
	}

	m.OrdersChangedTotal, err = meter.Int64Counter(MetricOrdersChangedTotal, metric.WithDescription("Total order records changed during reconciliation"))
	if err != nil {
		return nil, err
	}

	m.PlannerTokensTotal, err = meter.Int64Counter(MetricPlannerTokensTotal, metric.WithDescription("Total planner tokens consumed"))
	if err != nil {
		return nil, err
	}

	m.PlansRejectedTotal, err = meter.Int64Counter(MetricPlansRejectedTotal, metric.WithDescription("Total plans rejected by constraint validation"))
	if err != nil {
		return nil, err
	}

	m.OrdersOpen, err = meter.Int64ObservableGauge(MetricOrdersOpen, metric.WithDescription("Number of currently open orders"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for product, val := range m.openOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("product", product)))
			}
			return nil
		}))
	if err != nil {
		return nil, err
	}

	m.ProfitAfterFees, err = meter.Float64ObservableGauge(MetricProfitAfterFees, metric.WithDescription("All-time profit after fees"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for product, val := range m.profitAfterFees {
				obs.Observe(val, metric.WithAttributes(attribute.String("product", product)))
			}
			return nil
		}))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// SetOpenOrders updates the open-order gauge state for a product.
func (m *Metrics) SetOpenOrders(product string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrdersMap[product] = count
}

// SetProfitAfterFees updates the profit gauge state for a product.
func (m *Metrics) SetProfitAfterFees(product string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profitAfterFees[product] = value
}
