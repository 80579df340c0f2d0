package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/core"
)

// ReplaceOpenOrders atomically replaces the open-order snapshot for a
// product. Either all records land or none do.
func (s *Store) ReplaceOpenOrders(ctx context.Context, productID string, records []core.OpenOrderRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM open_orders WHERE product_id = ?`, productID); err != nil {
			return fmt.Errorf("failed to clear open orders: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO open_orders (order_id, product_id, side, limit_price, base_size, status, stop_price, client_order_id, end_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare open order insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			_, err := stmt.ExecContext(ctx,
				rec.OrderID, rec.ProductID, string(rec.Side),
				rec.LimitPrice.String(), rec.BaseSize.String(), string(rec.Status),
				decimalPtrToNull(rec.StopPrice), rec.ClientOrderID, rec.EndTime.UTC())
			if err != nil {
				return fmt.Errorf("failed to insert open order %s: %w", rec.OrderID, err)
			}
		}
		return nil
	})
}

// ListOpenOrders returns the open-order snapshot for a product.
func (s *Store) ListOpenOrders(ctx context.Context, productID string) ([]core.OpenOrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, product_id, side, limit_price, base_size, status, stop_price, client_order_id, end_time
		FROM open_orders WHERE product_id = ? ORDER BY end_time`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	defer rows.Close()

	var records []core.OpenOrderRecord
	for rows.Next() {
		var rec core.OpenOrderRecord
		var side, status, limitPrice, baseSize string
		var stopPrice sql.NullString
		if err := rows.Scan(&rec.OrderID, &rec.ProductID, &side, &limitPrice, &baseSize, &status, &stopPrice, &rec.ClientOrderID, &rec.EndTime); err != nil {
			return nil, fmt.Errorf("failed to scan open order: %w", err)
		}
		rec.Side = core.Side(side)
		rec.Status = core.OrderStatus(status)
		if rec.LimitPrice, err = decimal.NewFromString(limitPrice); err != nil {
			return nil, fmt.Errorf("failed to parse limit price: %w", err)
		}
		if rec.BaseSize, err = decimal.NewFromString(baseSize); err != nil {
			return nil, fmt.Errorf("failed to parse base size: %w", err)
		}
		if rec.StopPrice, err = nullToDecimalPtr(stopPrice); err != nil {
			return nil, fmt.Errorf("failed to parse stop price: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpsertExecutedOrders inserts or updates executed-order records and returns
// the ids whose persisted state actually changed. A record counts as changed
// when status, filled size, fill time, stop price, or post-only flag differs
// from the stored value. An inferred submitted time never overwrites a
// stored non-inferred one.
func (s *Store) UpsertExecutedOrders(ctx context.Context, records []core.ExecutedOrderRecord) ([]string, error) {
	var changed []string

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range records {
			existing, found, err := readExecutedOrder(ctx, tx, rec.OrderID)
			if err != nil {
				return err
			}

			if !found {
				if err := insertExecutedOrder(ctx, tx, rec); err != nil {
					return err
				}
				changed = append(changed, rec.OrderID)
				continue
			}

			// Keep the stored submission time when the incoming one was
			// guessed locally.
			if rec.TsSubmittedInferred && !existing.TsSubmittedInferred {
				rec.TsSubmitted = existing.TsSubmitted
				rec.TsSubmittedInferred = false
			}

			if executedOrderChanged(existing, rec) {
				changed = append(changed, rec.OrderID)
			}

			if err := updateExecutedOrder(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// ListExecutedOrders returns the full executed-order ledger for a product,
// ordered by submission time.
func (s *Store) ListExecutedOrders(ctx context.Context, productID string) ([]core.ExecutedOrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, product_id, ts_submitted, ts_submitted_inferred, ts_filled, side, limit_price,
		       base_size, status, filled_size, stop_price, post_only, client_order_id, end_time
		FROM executed_orders WHERE product_id = ? ORDER BY ts_submitted, order_id`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executed orders: %w", err)
	}
	defer rows.Close()

	var records []core.ExecutedOrderRecord
	for rows.Next() {
		rec, err := scanExecutedOrder(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetExecutedOrder returns one executed-order record by id.
func (s *Store) GetExecutedOrder(ctx context.Context, orderID string) (*core.ExecutedOrderRecord, error) {
	var rec core.ExecutedOrderRecord
	var found bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, found, err = readExecutedOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecutedOrder(row rowScanner) (core.ExecutedOrderRecord, error) {
	var rec core.ExecutedOrderRecord
	var side, status, limitPrice, baseSize string
	var filledSize, stopPrice sql.NullString
	var tsFilled sql.NullTime
	var inferred, postOnly int

	err := row.Scan(&rec.OrderID, &rec.ProductID, &rec.TsSubmitted, &inferred, &tsFilled,
		&side, &limitPrice, &baseSize, &status, &filledSize, &stopPrice, &postOnly,
		&rec.ClientOrderID, &rec.EndTime)
	if err != nil {
		return rec, fmt.Errorf("failed to scan executed order: %w", err)
	}

	rec.Side = core.Side(side)
	rec.Status = core.OrderStatus(status)
	rec.TsSubmittedInferred = inferred != 0
	rec.PostOnly = postOnly != 0
	rec.TsSubmitted = rec.TsSubmitted.UTC()
	if tsFilled.Valid {
		t := tsFilled.Time.UTC()
		rec.TsFilled = &t
	}
	if rec.LimitPrice, err = decimal.NewFromString(limitPrice); err != nil {
		return rec, fmt.Errorf("failed to parse limit price: %w", err)
	}
	if rec.BaseSize, err = decimal.NewFromString(baseSize); err != nil {
		return rec, fmt.Errorf("failed to parse base size: %w", err)
	}
	if rec.FilledSize, err = nullToDecimalPtr(filledSize); err != nil {
		return rec, fmt.Errorf("failed to parse filled size: %w", err)
	}
	if rec.StopPrice, err = nullToDecimalPtr(stopPrice); err != nil {
		return rec, fmt.Errorf("failed to parse stop price: %w", err)
	}
	return rec, nil
}

func readExecutedOrder(ctx context.Context, tx *sql.Tx, orderID string) (core.ExecutedOrderRecord, bool, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT order_id, product_id, ts_submitted, ts_submitted_inferred, ts_filled, side, limit_price,
		       base_size, status, filled_size, stop_price, post_only, client_order_id, end_time
		FROM executed_orders WHERE order_id = ?`, orderID)

	rec, err := scanExecutedOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, false, nil
		}
		return rec, false, err
	}
	return rec, true, nil
}

func insertExecutedOrder(ctx context.Context, tx *sql.Tx, rec core.ExecutedOrderRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO executed_orders (order_id, product_id, ts_submitted, ts_submitted_inferred, ts_filled,
			side, limit_price, base_size, status, filled_size, stop_price, post_only, client_order_id, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OrderID, rec.ProductID, rec.TsSubmitted.UTC(), boolToInt(rec.TsSubmittedInferred),
		timePtrToNull(rec.TsFilled), string(rec.Side), rec.LimitPrice.String(), rec.BaseSize.String(),
		string(rec.Status), decimalPtrToNull(rec.FilledSize), decimalPtrToNull(rec.StopPrice),
		boolToInt(rec.PostOnly), rec.ClientOrderID, rec.EndTime.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert executed order %s: %w", rec.OrderID, err)
	}
	return nil
}

func updateExecutedOrder(ctx context.Context, tx *sql.Tx, rec core.ExecutedOrderRecord) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE executed_orders
		SET ts_submitted = ?, ts_submitted_inferred = ?, ts_filled = ?, side = ?, limit_price = ?,
		    base_size = ?, status = ?, filled_size = ?, stop_price = ?, post_only = ?, client_order_id = ?, end_time = ?
		WHERE order_id = ?`,
		rec.TsSubmitted.UTC(), boolToInt(rec.TsSubmittedInferred), timePtrToNull(rec.TsFilled),
		string(rec.Side), rec.LimitPrice.String(), rec.BaseSize.String(), string(rec.Status),
		decimalPtrToNull(rec.FilledSize), decimalPtrToNull(rec.StopPrice), boolToInt(rec.PostOnly),
		rec.ClientOrderID, rec.EndTime.UTC(), rec.OrderID)
	if err != nil {
		return fmt.Errorf("failed to update executed order %s: %w", rec.OrderID, err)
	}
	return nil
}

func executedOrderChanged(stored, incoming core.ExecutedOrderRecord) bool {
	if stored.Status != incoming.Status {
		return true
	}
	if !decimalPtrEqual(stored.FilledSize, incoming.FilledSize) {
		return true
	}
	if !timePtrEqual(stored.TsFilled, incoming.TsFilled) {
		return true
	}
	if !decimalPtrEqual(stored.StopPrice, incoming.StopPrice) {
		return true
	}
	if stored.PostOnly != incoming.PostOnly {
		return true
	}
	return false
}

// Nullable column helpers

func decimalPtrToNull(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullToDecimalPtr(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func timePtrToNull(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
