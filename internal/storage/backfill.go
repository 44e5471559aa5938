package storage

import (
	"context"
	"fmt"

	applog "kassenbuch/internal/log"
)

// Backfill runs the legacy-data passes on every launch. All statements
// are idempotent: running the backfill twice produces no duplicate rows
// and no error.
//
// Pass 1 synthesizes a receipt row for every entry that still carries a
// pre-multi-receipt single-file reference and has no receipt at that
// path yet. Legacy entries had no separate stored-name scheme, so the
// legacy path serves as original name, stored name and relative path at
// once. Pass 2 corrects receipt rows whose side no longer matches the
// owning entry's classification, in both directions.
func (r *Repository) Backfill(ctx context.Context) error {
	log := r.log.WithComponent(applog.ComponentMigrate)

	var legacyCount int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM entries
		WHERE legacy_receipt_path IS NOT NULL AND legacy_receipt_path <> ''`).
		Scan(&legacyCount)
	if err != nil {
		return fmt.Errorf("count legacy entries: %w", err)
	}

	if legacyCount > 0 {
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO receipts (entry_id, side, original_name, stored_name, relative_path, added_at)
			SELECT id,
			       CASE
			           WHEN IFNULL(CAST(income_gross AS REAL), 0) <> 0
			            AND IFNULL(CAST(expense_gross AS REAL), 0) = 0 THEN 'income'
			           ELSE 'expense'
			       END,
			       legacy_receipt_path, legacy_receipt_path, legacy_receipt_path,
			       strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
			FROM entries
			WHERE legacy_receipt_path IS NOT NULL AND legacy_receipt_path <> ''
			  AND NOT EXISTS (
			      SELECT 1 FROM receipts b
			      WHERE b.entry_id = entries.id AND b.relative_path = entries.legacy_receipt_path
			  )`)
		if err != nil {
			return fmt.Errorf("backfill legacy receipts: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			log.InfoContext(ctx, "legacy receipts backfilled", applog.FieldCount, n)
		}
	}

	// Correct misclassified sides both ways. The income-only condition
	// matches the canonical tie-break in ClassifySide.
	corrections := []struct {
		to, from  string
		condition string
	}{
		{"income", "expense", `IFNULL(CAST(income_gross AS REAL), 0) <> 0 AND IFNULL(CAST(expense_gross AS REAL), 0) = 0`},
		{"expense", "income", `NOT (IFNULL(CAST(income_gross AS REAL), 0) <> 0 AND IFNULL(CAST(expense_gross AS REAL), 0) = 0)`},
	}
	for _, c := range corrections {
		res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE receipts
			SET side = '%s'
			WHERE side = '%s'
			  AND entry_id IN (SELECT id FROM entries WHERE %s)`,
			c.to, c.from, c.condition))
		if err != nil {
			return fmt.Errorf("correct receipt sides to %s: %w", c.to, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			log.InfoContext(ctx, "receipt sides corrected",
				applog.FieldSide, c.to, applog.FieldCount, n)
		}
	}

	return nil
}
