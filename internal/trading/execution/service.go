// Package execution turns validated trade intents into exchange order
// requests and reconciles exchange history back into local records.
package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeloop/internal/core"
	"tradeloop/internal/exchange/coinbase"
	"tradeloop/internal/trading/constraints"
	"tradeloop/pkg/apperrors"
)

// ExchangeClient is the slice of the exchange API the execution service
// consumes.
type ExchangeClient interface {
	CreateOrder(ctx context.Context, req *coinbase.CreateOrderRequest) (*coinbase.CreateOrderResponse, error)
	ListOrders(ctx context.Context, productID string, statuses []string, watermark time.Time) ([]coinbase.Order, error)
	ListFills(ctx context.Context, productID string, watermark time.Time) ([]coinbase.Fill, error)
}

// SyncStore is the slice of the storage layer the reconciliation pass needs.
type SyncStore interface {
	ReplaceOpenOrders(ctx context.Context, productID string, records []core.OpenOrderRecord) error
	UpsertExecutedOrders(ctx context.Context, records []core.ExecutedOrderRecord) ([]string, error)
	UpsertFills(ctx context.Context, records []core.FillRecord) (int, error)
	LatestFillTime(ctx context.Context, productID string) (time.Time, error)
}

// Service validates planned orders, submits them, and reconciles history.
type Service struct {
	client    ExchangeClient
	store     SyncStore
	validator *constraints.Validator
	productID string
	logger    core.ILogger
}

// NewService creates an execution service for one product.
func NewService(client ExchangeClient, store SyncStore, validator *constraints.Validator, productID string, logger core.ILogger) *Service {
	return &Service{
		client:    client,
		store:     store,
		validator: validator,
		productID: productID,
		logger:    logger.WithField("component", "execution"),
	}
}

// ValidateOrders checks a planned batch against the product constraints and
// returns the rounded, validated copy. A violation leaves the batch
// unmodified and returns the first error; nothing is partially accepted.
func (s *Service) ValidateOrders(orders []core.PlannedOrder, midPrice decimal.Decimal) ([]core.PlannedOrder, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	if len(orders) > 1 {
		return nil, fmt.Errorf("got %d planned orders: %w", len(orders), apperrors.ErrTooManyOrders)
	}
	sides := make(map[core.Side]struct{}, len(orders))
	for _, order := range orders {
		if _, dup := sides[order.Side]; dup {
			return nil, fmt.Errorf("duplicate %s orders: %w", order.Side, apperrors.ErrTooManyOrders)
		}
		sides[order.Side] = struct{}{}
	}

	validated := make([]core.PlannedOrder, 0, len(orders))
	for _, order := range orders {
		size, err := s.validator.EnsureMinSize(order.BaseSize)
		if err != nil {
			return nil, err
		}

		switch order.Kind {
		case core.KindMarket:
			// No price rounding, no distance check, never post-only.
			if order.StopPrice != nil {
				return nil, fmt.Errorf("market orders cannot carry a stop price: %w", apperrors.ErrStopLimitInversion)
			}
			validated = append(validated, core.PlannedOrder{
				Side:     order.Side,
				Kind:     core.KindMarket,
				BaseSize: size,
				EndTime:  order.EndTime,
			})

		case core.KindLimit:
			price := s.validator.RoundPrice(order.LimitPrice, order.Side)
			if err := s.validator.EnforceMinDistance(price, midPrice, order.Side); err != nil {
				return nil, err
			}
			validated = append(validated, core.PlannedOrder{
				Side:       order.Side,
				Kind:       core.KindLimit,
				LimitPrice: price,
				BaseSize:   size,
				PostOnly:   order.PostOnly,
				EndTime:    order.EndTime,
			})

		case core.KindStopLimit:
			if order.StopPrice == nil {
				return nil, fmt.Errorf("stop-limit order missing stop price: %w", apperrors.ErrStopLimitInversion)
			}
			stop := s.validator.RoundPrice(*order.StopPrice, order.Side)
			limit := s.validator.RoundPrice(order.LimitPrice, order.Side)
			if err := s.validator.EnforceStopDistance(stop, midPrice, order.Side); err != nil {
				return nil, err
			}
			if order.Side == core.SideBuy && limit.LessThan(stop) {
				return nil, fmt.Errorf("buy stop-limit requires limit %s >= stop %s: %w", limit, stop, apperrors.ErrStopLimitInversion)
			}
			if order.Side == core.SideSell && limit.GreaterThan(stop) {
				return nil, fmt.Errorf("sell stop-limit requires limit %s <= stop %s: %w", limit, stop, apperrors.ErrStopLimitInversion)
			}
			validated = append(validated, core.PlannedOrder{
				Side:       order.Side,
				Kind:       core.KindStopLimit,
				LimitPrice: limit,
				BaseSize:   size,
				StopPrice:  &stop,
				EndTime:    order.EndTime,
			})

		default:
			return nil, fmt.Errorf("unknown order kind %q: %w", order.Kind, apperrors.ErrTooManyOrders)
		}
	}
	return validated, nil
}

// BuildPayload maps a validated order onto the exchange wire shape with a
// fresh client-side correlation id.
func (s *Service) BuildPayload(order core.PlannedOrder) *coinbase.CreateOrderRequest {
	req := &coinbase.CreateOrderRequest{
		ClientOrderID: NewClientOrderID(),
		ProductID:     s.productID,
		Side:          string(order.Side),
	}

	switch order.Kind {
	case core.KindMarket:
		req.OrderConfiguration.MarketMarketIOC = &coinbase.MarketConfig{
			BaseSize: order.BaseSize.String(),
		}
	case core.KindStopLimit:
		req.OrderConfiguration.StopLimitStopLimitGTD = &coinbase.StopLimitConfig{
			BaseSize:      order.BaseSize.String(),
			LimitPrice:    order.LimitPrice.String(),
			StopPrice:     order.StopPrice.String(),
			StopDirection: stopDirection(order.Side),
			EndTime:       order.EndTime.UTC().Format(time.RFC3339),
		}
	default:
		req.OrderConfiguration.LimitLimitGTD = &coinbase.LimitConfig{
			BaseSize:   order.BaseSize.String(),
			LimitPrice: order.LimitPrice.String(),
			PostOnly:   order.PostOnly,
			EndTime:    order.EndTime.UTC().Format(time.RFC3339),
		}
	}
	return req
}

// PlaceOrders validates and submits a planned batch, returning the exchange
// acknowledgements in order.
func (s *Service) PlaceOrders(ctx context.Context, orders []core.PlannedOrder, midPrice decimal.Decimal) ([]*coinbase.CreateOrderResponse, error) {
	validated, err := s.ValidateOrders(orders, midPrice)
	if err != nil {
		return nil, err
	}

	responses := make([]*coinbase.CreateOrderResponse, 0, len(validated))
	for _, order := range validated {
		payload := s.BuildPayload(order)
		resp, err := s.client.CreateOrder(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to create order: %w", err)
		}
		s.logger.Info("Order submitted",
			"client_order_id", payload.ClientOrderID,
			"side", order.Side,
			"kind", order.Kind,
			"size", order.BaseSize.String())
		responses = append(responses, resp)
	}
	return responses, nil
}

// NewClientOrderID returns a fresh 32-character hex correlation id. The
// format doubles as the marker that recognizes this engine's own orders in
// exchange history.
func NewClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func stopDirection(side core.Side) string {
	if side == core.SideBuy {
		return "STOP_DIRECTION_STOP_UP"
	}
	return "STOP_DIRECTION_STOP_DOWN"
}
