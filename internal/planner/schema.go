package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/core"
	"tradeloop/pkg/apperrors"
)

// PlanDocument is the machine-readable half of a planning response. Decoding
// is strict: unknown fields, out-of-whitelist values, or non-positive numbers
// reject the whole document rather than coercing it.
type PlanDocument struct {
	Analysis string      `json:"analysis"`
	Orders   []PlanOrder `json:"orders"`
}

// PlanOrder is one proposed order as the planning model emits it.
type PlanOrder struct {
	Side       string `json:"side"`
	Kind       string `json:"kind"`
	LimitPrice string `json:"limit_price"`
	BaseSize   string `json:"base_size"`
	StopPrice  string `json:"stop_price,omitempty"`
	PostOnly   bool   `json:"post_only,omitempty"`
}

var validKinds = map[string]core.OrderKind{
	string(core.KindLimit):     core.KindLimit,
	string(core.KindStopLimit): core.KindStopLimit,
	string(core.KindMarket):    core.KindMarket,
}

var validSides = map[string]core.Side{
	string(core.SideBuy):  core.SideBuy,
	string(core.SideSell): core.SideSell,
}

// ParsePlanDocument decodes and validates a raw planning response. Markdown
// code fences around the JSON body are tolerated since chat models add them
// even when told not to.
func ParsePlanDocument(raw string, maxOrders int) (*PlanDocument, error) {
	body := stripCodeFence(raw)
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: empty response", apperrors.ErrPlanRejected)
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(body)))
	decoder.DisallowUnknownFields()

	var doc PlanDocument
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPlanRejected, err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("%w: trailing content after document", apperrors.ErrPlanRejected)
	}

	if maxOrders > 0 && len(doc.Orders) > maxOrders {
		return nil, fmt.Errorf("%w: %d orders exceeds limit of %d",
			apperrors.ErrPlanRejected, len(doc.Orders), maxOrders)
	}

	for i, order := range doc.Orders {
		if err := validatePlanOrder(order); err != nil {
			return nil, fmt.Errorf("%w: order %d: %v", apperrors.ErrPlanRejected, i, err)
		}
	}
	return &doc, nil
}

func validatePlanOrder(order PlanOrder) error {
	if _, ok := validSides[strings.ToUpper(order.Side)]; !ok {
		return fmt.Errorf("invalid side %q", order.Side)
	}
	kind, ok := validKinds[strings.ToLower(order.Kind)]
	if !ok {
		return fmt.Errorf("invalid kind %q", order.Kind)
	}

	size, err := decimal.NewFromString(order.BaseSize)
	if err != nil || !size.IsPositive() {
		return fmt.Errorf("invalid base size %q", order.BaseSize)
	}

	if kind != core.KindMarket {
		price, err := decimal.NewFromString(order.LimitPrice)
		if err != nil || !price.IsPositive() {
			return fmt.Errorf("invalid limit price %q", order.LimitPrice)
		}
	}
	switch kind {
	case core.KindStopLimit:
		stop, err := decimal.NewFromString(order.StopPrice)
		if err != nil || !stop.IsPositive() {
			return fmt.Errorf("invalid stop price %q", order.StopPrice)
		}
	case core.KindMarket, core.KindLimit:
		if order.StopPrice != "" {
			return fmt.Errorf("stop price not allowed on %s orders", kind)
		}
	}
	return nil
}

// PlannedOrders converts a validated document into domain orders with the
// given expiry. Call only after ParsePlanDocument succeeded.
func (d *PlanDocument) PlannedOrders(endTime time.Time) []core.PlannedOrder {
	orders := make([]core.PlannedOrder, 0, len(d.Orders))
	for _, order := range d.Orders {
		planned := core.PlannedOrder{
			Side:     validSides[strings.ToUpper(order.Side)],
			Kind:     validKinds[strings.ToLower(order.Kind)],
			BaseSize: decimal.RequireFromString(order.BaseSize),
			PostOnly: order.PostOnly,
			EndTime:  endTime,
		}
		if planned.Kind != core.KindMarket {
			planned.LimitPrice = decimal.RequireFromString(order.LimitPrice)
		}
		if planned.Kind == core.KindStopLimit {
			stop := decimal.RequireFromString(order.StopPrice)
			planned.StopPrice = &stop
		}
		orders = append(orders, planned)
	}
	return orders
}

// stripCodeFence removes a surrounding markdown fence, with or without a
// language tag.
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		first := strings.TrimSpace(trimmed[:idx])
		if first == "" || !strings.ContainsAny(first, "{[") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
