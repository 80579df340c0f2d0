package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/core"
	"tradeloop/internal/exchange/coinbase"
)

// SyncResult reports the outcome of one reconciliation pass.
type SyncResult struct {
	OpenOrders      []core.OpenOrderRecord
	ExecutedOrders  []core.ExecutedOrderRecord
	ChangedOrderIDs []string
	NewFills        int
}

var statusMap = map[string]core.OrderStatus{
	"OPEN":      core.StatusOpen,
	"NEW":       core.StatusNew,
	"FILLED":    core.StatusFilled,
	"CANCELLED": core.StatusCancelled,
	"EXPIRED":   core.StatusExpired,
}

// parseStatus maps an exchange status string to a local status. Unrecognized
// strings default to NEW rather than failing the sync; exchanges return
// transitional statuses occasionally.
func parseStatus(order *coinbase.Order) core.OrderStatus {
	raw := order.Status
	if raw == "" {
		raw = order.OrderStatus
	}
	if status, ok := statusMap[strings.ToUpper(raw)]; ok {
		return status
	}
	return core.StatusNew
}

// fillData is one fill normalized for matching against its order.
type fillData struct {
	size      decimal.Decimal
	price     decimal.Decimal
	tradeTime *time.Time
	maker     bool
}

// collectFills groups parseable fills by order id. Fills with a missing
// order id or non-positive price/size are skipped per-record.
func collectFills(fills []coinbase.Fill) map[string][]fillData {
	byOrder := make(map[string][]fillData)
	for _, fill := range fills {
		if fill.OrderID == "" {
			continue
		}
		size, err := decimal.NewFromString(fill.Size)
		if err != nil || !size.IsPositive() {
			continue
		}
		price, err := decimal.NewFromString(fill.Price)
		if err != nil || !price.IsPositive() {
			continue
		}
		data := fillData{
			size:  size,
			price: price,
			maker: strings.EqualFold(fill.LiquidityIndic, "MAKER"),
		}
		if ts, ok := coinbase.ParseTime(fill.TradeTime); ok {
			data.tradeTime = &ts
		}
		byOrder[fill.OrderID] = append(byOrder[fill.OrderID], data)
	}
	return byOrder
}

// matchedConfig is the typed result of probing an order's configuration.
type matchedConfig struct {
	kind       core.OrderKind
	baseSize   string
	limitPrice string
	stopPrice  string
	postOnly   bool
	endTime    string
}

// configMatchers is the ordered list of known configuration shapes. An
// order matching none of them was not issued by this engine and is skipped.
var configMatchers = []func(cfg *coinbase.OrderConfiguration) *matchedConfig{
	func(cfg *coinbase.OrderConfiguration) *matchedConfig {
		for _, c := range []*coinbase.LimitConfig{cfg.LimitLimitGTD, cfg.LimitLimitGTC} {
			if c != nil {
				return &matchedConfig{
					kind:       core.KindLimit,
					baseSize:   c.BaseSize,
					limitPrice: c.LimitPrice,
					postOnly:   c.PostOnly,
					endTime:    c.EndTime,
				}
			}
		}
		return nil
	},
	func(cfg *coinbase.OrderConfiguration) *matchedConfig {
		for _, c := range []*coinbase.StopLimitConfig{cfg.StopLimitStopLimitGTD, cfg.StopLimitStopLimitGTC} {
			if c != nil {
				return &matchedConfig{
					kind:       core.KindStopLimit,
					baseSize:   c.BaseSize,
					limitPrice: c.LimitPrice,
					stopPrice:  c.StopPrice,
					endTime:    c.EndTime,
				}
			}
		}
		return nil
	},
	func(cfg *coinbase.OrderConfiguration) *matchedConfig {
		for _, c := range []*coinbase.BracketConfig{cfg.TriggerBracketGTD, cfg.TriggerBracketGTC} {
			if c != nil {
				return &matchedConfig{
					kind:       core.KindStopLimit,
					baseSize:   c.BaseSize,
					limitPrice: c.LimitPrice,
					stopPrice:  c.StopTriggerPrice,
					endTime:    c.EndTime,
				}
			}
		}
		return nil
	},
	func(cfg *coinbase.OrderConfiguration) *matchedConfig {
		for _, c := range []*coinbase.MarketConfig{cfg.MarketMarketIOC, cfg.MarketMarketGTC} {
			if c != nil {
				return &matchedConfig{
					kind:     core.KindMarket,
					baseSize: c.BaseSize,
				}
			}
		}
		return nil
	},
}

func matchOrderConfig(cfg *coinbase.OrderConfiguration) *matchedConfig {
	for _, matcher := range configMatchers {
		if matched := matcher(cfg); matched != nil {
			return matched
		}
	}
	return nil
}

// resolveSubmittedTime picks the submission timestamp from a priority list
// of exchange fields, falling through to the earliest fill time and finally
// to now with the inferred flag set.
func resolveSubmittedTime(order *coinbase.Order, fills []fillData, completed *time.Time, now time.Time) (time.Time, bool) {
	for _, candidate := range []string{order.SubmittedTime, order.CreatedTime, order.OrderPlacedTime, order.LastFillTime} {
		if ts, ok := coinbase.ParseTime(candidate); ok {
			return ts, false
		}
	}

	var earliest *time.Time
	for _, fill := range fills {
		if fill.tradeTime == nil {
			continue
		}
		if earliest == nil || fill.tradeTime.Before(*earliest) {
			earliest = fill.tradeTime
		}
	}
	if earliest != nil {
		return *earliest, false
	}

	if completed != nil {
		return *completed, false
	}
	return now, true
}

// averageFillPrice computes the volume-weighted average price of an order's
// fills, or nil when there are none.
func averageFillPrice(fills []fillData) *decimal.Decimal {
	totalSize := decimal.Zero
	totalValue := decimal.Zero
	for _, fill := range fills {
		totalSize = totalSize.Add(fill.size)
		totalValue = totalValue.Add(fill.size.Mul(fill.price))
	}
	if !totalSize.IsPositive() || !totalValue.IsPositive() {
		return nil
	}
	avg := totalValue.Div(totalSize)
	return &avg
}

// Sync reconciles the exchange's order and fill history into local records:
// open orders replace the previous snapshot, executed orders upsert by id,
// and fills land in the ledger keyed by their stable id. Returns the ids of
// orders whose persisted state actually changed.
func (s *Service) Sync(ctx context.Context) (*SyncResult, error) {
	watermark, err := s.store.LatestFillTime(ctx, s.productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fill watermark: %w", err)
	}

	orders, err := s.client.ListOrders(ctx, s.productID,
		[]string{"OPEN", "FILLED", "CANCELLED", "EXPIRED"}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	fills, err := s.client.ListFills(ctx, s.productID, watermark)
	if err != nil {
		return nil, fmt.Errorf("failed to list fills: %w", err)
	}

	openRecords, executedRecords := s.processOrders(orders, fills, time.Now().UTC())

	if err := s.store.ReplaceOpenOrders(ctx, s.productID, openRecords); err != nil {
		return nil, fmt.Errorf("failed to replace open orders: %w", err)
	}
	changed, err := s.store.UpsertExecutedOrders(ctx, executedRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert executed orders: %w", err)
	}
	newFills, err := s.store.UpsertFills(ctx, buildFillRecords(fills, s.productID))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert fills: %w", err)
	}

	s.logger.Info("Sync complete",
		"open_orders", len(openRecords),
		"executed_orders", len(executedRecords),
		"changed_orders", len(changed),
		"new_fills", newFills)

	return &SyncResult{
		OpenOrders:      openRecords,
		ExecutedOrders:  executedRecords,
		ChangedOrderIDs: changed,
		NewFills:        newFills,
	}, nil
}

// processOrders maps exchange order history to local records, matching fills
// by order id. Orders with missing ids or unrecognized configuration shapes
// are skipped rather than failing the pass.
func (s *Service) processOrders(orders []coinbase.Order, fills []coinbase.Fill, now time.Time) ([]core.OpenOrderRecord, []core.ExecutedOrderRecord) {
	fillsByOrder := collectFills(fills)

	var openRecords []core.OpenOrderRecord
	var executedRecords []core.ExecutedOrderRecord

	for i := range orders {
		order := &orders[i]
		if order.OrderID == "" {
			continue
		}

		status := parseStatus(order)
		config := matchOrderConfig(&order.OrderConfiguration)
		if config == nil {
			s.logger.Debug("Skipping order with unrecognized configuration", "order_id", order.OrderID)
			continue
		}

		side := core.SideBuy
		if strings.EqualFold(order.Side, string(core.SideSell)) {
			side = core.SideSell
		}

		orderFills := fillsByOrder[order.OrderID]

		// nil means "fill data unavailable", distinct from zero filled.
		var filledSize *decimal.Decimal
		if len(orderFills) > 0 {
			total := decimal.Zero
			for _, fill := range orderFills {
				total = total.Add(fill.size)
			}
			if total.IsPositive() {
				filledSize = &total
			}
		}

		var completed *time.Time
		if status != core.StatusOpen {
			if ts, ok := coinbase.ParseTime(order.CompletedTime); ok {
				completed = &ts
			}
		}
		if completed == nil {
			for _, fill := range orderFills {
				if fill.tradeTime != nil {
					completed = fill.tradeTime
				}
			}
		}

		submitted, inferred := resolveSubmittedTime(order, orderFills, completed, now)

		baseSize := decimal.Zero
		if parsed, err := decimal.NewFromString(config.baseSize); err == nil {
			baseSize = parsed
		}
		if baseSize.IsZero() && filledSize != nil {
			baseSize = *filledSize
		}

		productID := order.ProductID
		if productID == "" {
			productID = s.productID
		}

		limitPrice, stopPrice, endTime, postOnly := s.resolveConfigFields(order, config, orderFills, completed, submitted)

		if status == core.StatusOpen {
			openRecords = append(openRecords, core.OpenOrderRecord{
				OrderID:       order.OrderID,
				Side:          side,
				LimitPrice:    limitPrice,
				BaseSize:      baseSize,
				Status:        status,
				StopPrice:     stopPrice,
				ClientOrderID: order.ClientOrderID,
				EndTime:       endTime,
				ProductID:     productID,
			})
		}

		executedRecords = append(executedRecords, core.ExecutedOrderRecord{
			OrderID:             order.OrderID,
			TsSubmitted:         submitted,
			TsSubmittedInferred: inferred,
			TsFilled:            completed,
			Side:                side,
			LimitPrice:          limitPrice,
			BaseSize:            baseSize,
			Status:              status,
			FilledSize:          filledSize,
			ClientOrderID:       order.ClientOrderID,
			EndTime:             endTime,
			ProductID:           productID,
			StopPrice:           stopPrice,
			PostOnly:            config.kind == core.KindLimit && postOnly,
		})
	}

	return openRecords, executedRecords
}

// resolveConfigFields derives the display price, stop price, expiry, and
// post-only flag per order kind. Market orders carry no intrinsic limit
// price, so the volume-weighted average fill price stands in, falling back
// to the exchange-reported average and then to zero.
func (s *Service) resolveConfigFields(order *coinbase.Order, config *matchedConfig, orderFills []fillData, completed *time.Time, submitted time.Time) (decimal.Decimal, *decimal.Decimal, time.Time, bool) {
	var limitPrice decimal.Decimal
	var stopPrice *decimal.Decimal
	var endTime time.Time
	var postOnly bool

	if config.kind == core.KindMarket {
		if avg := averageFillPrice(orderFills); avg != nil {
			limitPrice = *avg
		} else if parsed, err := decimal.NewFromString(strings.TrimSpace(order.AverageFilledPrice)); err == nil {
			limitPrice = parsed
		}
		if completed != nil {
			endTime = *completed
		} else {
			endTime = submitted
		}
		return limitPrice, nil, endTime, false
	}

	if parsed, err := decimal.NewFromString(config.limitPrice); err == nil {
		limitPrice = parsed
	}
	if config.stopPrice != "" {
		if parsed, err := decimal.NewFromString(config.stopPrice); err == nil {
			stopPrice = &parsed
		}
	}
	postOnly = config.postOnly

	if ts, ok := coinbase.ParseTime(config.endTime); ok {
		endTime = ts
	} else if ts, ok := coinbase.ParseTime(order.ExpireTime); ok {
		endTime = ts
	} else {
		endTime = submitted
	}
	return limitPrice, stopPrice, endTime, postOnly
}

// buildFillRecords converts wire fills into ledger records, skipping ones
// that fail to parse.
func buildFillRecords(fills []coinbase.Fill, defaultProductID string) []core.FillRecord {
	var records []core.FillRecord
	for _, fill := range fills {
		if fill.OrderID == "" {
			continue
		}
		price, err := decimal.NewFromString(fill.Price)
		if err != nil || !price.IsPositive() {
			continue
		}
		size, err := decimal.NewFromString(fill.Size)
		if err != nil || !size.IsPositive() {
			continue
		}
		tradeTime, ok := coinbase.ParseTime(fill.TradeTime)
		if !ok {
			continue
		}

		side := core.SideBuy
		if strings.EqualFold(fill.Side, string(core.SideSell)) {
			side = core.SideSell
		}
		productID := fill.ProductID
		if productID == "" {
			productID = defaultProductID
		}

		fillID := fill.TradeID
		if fillID == "" {
			fillID = fill.EntryID
		}

		records = append(records, core.FillRecord{
			FillID:    fillID,
			OrderID:   fill.OrderID,
			ProductID: productID,
			TradeTime: tradeTime,
			Side:      side,
			Price:     price,
			Size:      size,
			Maker:     strings.EqualFold(fill.LiquidityIndic, "MAKER"),
		})
	}
	return records
}
