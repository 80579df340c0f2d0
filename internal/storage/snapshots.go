package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/core"
)

// PNLSnapshotRow is a stored point-in-time PnL summary.
type PNLSnapshotRow struct {
	ID        int64
	ProductID string
	CreatedAt time.Time
	Summary   core.PNLSummary
}

// InsertPNLSnapshot persists a point-in-time summary for historical charts.
func (s *Store) InsertPNLSnapshot(ctx context.Context, productID string, summary core.PNLSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal pnl summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pnl_snapshots (product_id, created_at, summary_json) VALUES (?, ?, ?)`,
		productID, time.Now().UTC(), string(data))
	if err != nil {
		return fmt.Errorf("failed to insert pnl snapshot: %w", err)
	}
	return nil
}

// ListPNLSnapshots returns stored summaries newest first.
func (s *Store) ListPNLSnapshots(ctx context.Context, productID string, limit int) ([]PNLSnapshotRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, created_at, summary_json FROM pnl_snapshots
		WHERE product_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pnl snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []PNLSnapshotRow
	for rows.Next() {
		var row PNLSnapshotRow
		var summaryJSON string
		if err := rows.Scan(&row.ID, &row.ProductID, &row.CreatedAt, &summaryJSON); err != nil {
			return nil, fmt.Errorf("failed to scan pnl snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(summaryJSON), &row.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pnl summary: %w", err)
		}
		row.CreatedAt = row.CreatedAt.UTC()
		snapshots = append(snapshots, row)
	}
	return snapshots, rows.Err()
}

// PlanRow is one stored planning exchange.
type PlanRow struct {
	ID        int64
	ProductID string
	CreatedAt time.Time
	Prompt    string
	Response  string
	Accepted  bool
	ErrorText string
}

// InsertPlan records a planning attempt, whether accepted or rejected.
func (s *Store) InsertPlan(ctx context.Context, row PlanRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (product_id, created_at, prompt, response, accepted, error_text)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.ProductID, time.Now().UTC(), row.Prompt, row.Response, boolToInt(row.Accepted), row.ErrorText)
	if err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

// LatestAcceptedPlan returns the most recent accepted plan for a product, or
// nil when none exists.
func (s *Store) LatestAcceptedPlan(ctx context.Context, productID string) (*PlanRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, created_at, prompt, response, accepted, error_text FROM plans
		WHERE product_id = ? AND accepted = 1 ORDER BY created_at DESC, id DESC LIMIT 1`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var row PlanRow
	var accepted int
	if err := rows.Scan(&row.ID, &row.ProductID, &row.CreatedAt, &row.Prompt, &row.Response, &accepted, &row.ErrorText); err != nil {
		return nil, fmt.Errorf("failed to scan plan: %w", err)
	}
	row.Accepted = accepted != 0
	row.CreatedAt = row.CreatedAt.UTC()
	return &row, nil
}

// InsertPortfolioSnapshot persists one balance row per currency, stamped with
// a shared timestamp.
func (s *Store) InsertPortfolioSnapshot(ctx context.Context, productID string, balances map[string]core.Balance) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO portfolio_snapshots (product_id, created_at, currency, available, hold, total)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare portfolio insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for currency, balance := range balances {
			_, err := stmt.ExecContext(ctx, productID, now, currency,
				balance.Available.String(), balance.Hold.String(), balance.Total.String())
			if err != nil {
				return fmt.Errorf("failed to insert portfolio row for %s: %w", currency, err)
			}
		}
		return nil
	})
}

// LatestPortfolioSnapshot returns the balances of the most recent snapshot,
// keyed by currency. Empty map when nothing has been stored.
func (s *Store) LatestPortfolioSnapshot(ctx context.Context, productID string) (map[string]core.Balance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT currency, available, hold, total FROM portfolio_snapshots
		WHERE product_id = ? AND created_at = (
			SELECT created_at FROM portfolio_snapshots WHERE product_id = ?
			ORDER BY created_at DESC LIMIT 1
		)`, productID, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio snapshot: %w", err)
	}
	defer rows.Close()

	balances := make(map[string]core.Balance)
	for rows.Next() {
		var currency, available, hold, total string
		if err := rows.Scan(&currency, &available, &hold, &total); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio row: %w", err)
		}
		var balance core.Balance
		if balance.Available, err = decimal.NewFromString(available); err != nil {
			return nil, fmt.Errorf("failed to parse available balance: %w", err)
		}
		if balance.Hold, err = decimal.NewFromString(hold); err != nil {
			return nil, fmt.Errorf("failed to parse hold balance: %w", err)
		}
		if balance.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("failed to parse total balance: %w", err)
		}
		balances[currency] = balance
	}
	return balances, rows.Err()
}

// InsertPromptRecap stores a short recap of a planning exchange so later
// prompts can reference it.
func (s *Store) InsertPromptRecap(ctx context.Context, kind core.RunKind, recap string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_history (kind, created_at, recap) VALUES (?, ?, ?)`,
		string(kind), time.Now().UTC(), recap)
	if err != nil {
		return fmt.Errorf("failed to insert prompt recap: %w", err)
	}
	return nil
}

// RecentPromptRecaps returns recaps for a run kind, newest first.
func (s *Store) RecentPromptRecaps(ctx context.Context, kind core.RunKind, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT recap FROM prompt_history WHERE kind = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt history: %w", err)
	}
	defer rows.Close()

	var recaps []string
	for rows.Next() {
		var recap string
		if err := rows.Scan(&recap); err != nil {
			return nil, fmt.Errorf("failed to scan prompt recap: %w", err)
		}
		recaps = append(recaps, recap)
	}
	return recaps, rows.Err()
}

// InsertPriceSnapshot records one top-of-book observation.
func (s *Store) InsertPriceSnapshot(ctx context.Context, snap core.PriceSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_snapshots (product_id, ts, best_bid, best_ask, mid) VALUES (?, ?, ?, ?, ?)`,
		snap.ProductID, snap.Ts.UTC(), snap.BestBid.String(), snap.BestAsk.String(), snap.Mid.String())
	if err != nil {
		return fmt.Errorf("failed to insert price snapshot: %w", err)
	}
	return nil
}

// ListPriceSnapshots returns recent price observations, newest first.
func (s *Store) ListPriceSnapshots(ctx context.Context, productID string, limit int) ([]core.PriceSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, ts, best_bid, best_ask, mid FROM price_snapshots
		WHERE product_id = ? ORDER BY ts DESC, id DESC LIMIT ?`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query price snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []core.PriceSnapshot
	for rows.Next() {
		var snap core.PriceSnapshot
		var bid, ask, mid string
		if err := rows.Scan(&snap.ProductID, &snap.Ts, &bid, &ask, &mid); err != nil {
			return nil, fmt.Errorf("failed to scan price snapshot: %w", err)
		}
		snap.Ts = snap.Ts.UTC()
		if snap.BestBid, err = decimal.NewFromString(bid); err != nil {
			return nil, fmt.Errorf("failed to parse best bid: %w", err)
		}
		if snap.BestAsk, err = decimal.NewFromString(ask); err != nil {
			return nil, fmt.Errorf("failed to parse best ask: %w", err)
		}
		if snap.Mid, err = decimal.NewFromString(mid); err != nil {
			return nil, fmt.Errorf("failed to parse mid: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
