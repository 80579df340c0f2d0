package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/core"
)

// FillKey returns a stable identifier for a fill: the exchange-provided id
// when present, otherwise a content hash of order id, time, price, and size.
func FillKey(fillID, orderID string, tradeTime time.Time, price, size decimal.Decimal) string {
	if fillID != "" {
		return fillID
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s",
		orderID, tradeTime.UTC().UnixNano(), price.String(), size.String())))
	return hex.EncodeToString(sum[:])
}

// UpsertFills inserts fills into the ledger, ignoring ones already cached.
// Returns the number of newly inserted rows.
func (s *Store) UpsertFills(ctx context.Context, records []core.FillRecord) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO fills (fill_id, order_id, product_id, trade_time, side, price, size, maker)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare fill insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			key := FillKey(rec.FillID, rec.OrderID, rec.TradeTime, rec.Price, rec.Size)
			res, err := stmt.ExecContext(ctx, key, rec.OrderID, rec.ProductID,
				rec.TradeTime.UTC(), string(rec.Side), rec.Price.String(), rec.Size.String(),
				boolToInt(rec.Maker))
			if err != nil {
				return fmt.Errorf("failed to insert fill %s: %w", key, err)
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListFillsSince returns cached fills for a product at or after the given
// time, in trade-time order with a stable id tiebreak.
func (s *Store) ListFillsSince(ctx context.Context, productID string, since time.Time) ([]core.FillRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fill_id, order_id, product_id, trade_time, side, price, size, maker
		FROM fills WHERE product_id = ? AND trade_time >= ?
		ORDER BY trade_time, fill_id`, productID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var records []core.FillRecord
	for rows.Next() {
		var rec core.FillRecord
		var side, price, size string
		var maker int
		if err := rows.Scan(&rec.FillID, &rec.OrderID, &rec.ProductID, &rec.TradeTime, &side, &price, &size, &maker); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		rec.Side = core.Side(side)
		rec.Maker = maker != 0
		rec.TradeTime = rec.TradeTime.UTC()
		if rec.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("failed to parse fill price: %w", err)
		}
		if rec.Size, err = decimal.NewFromString(size); err != nil {
			return nil, fmt.Errorf("failed to parse fill size: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LatestFillTime returns the newest cached fill time for a product, used as
// the pagination watermark. The zero time means the ledger is empty.
func (s *Store) LatestFillTime(ctx context.Context, productID string) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT trade_time FROM fills WHERE product_id = ?
		ORDER BY trade_time DESC LIMIT 1`, productID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest fill time: %w", err)
	}
	return ts.UTC(), nil
}
