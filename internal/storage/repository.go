package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kassenbuch/internal/core"
	applog "kassenbuch/internal/log"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Repository is the single gateway to the embedded store: ledger rows,
// receipt metadata, and the aggregation queries the UI contract needs.
type Repository struct {
	db  *sql.DB
	log *applog.Logger
}

// Open creates the database directory if needed, opens the store with
// foreign-key enforcement on, runs migrations and the legacy backfill.
// Any failure here is fatal for the caller: the application must not
// proceed on an unmigrated schema.
func Open(ctx context.Context, dbPath string, logger *applog.Logger) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	r := &Repository{db: db, log: logger.WithComponent(applog.ComponentStorage)}

	if err := r.Backfill(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("backfill legacy receipts: %w", err)
	}

	return r, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for tests.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// InsertEntry persists a new entry and returns its id. The inactive
// side's amount column is NULL, never zero.
func (r *Repository) InsertEntry(ctx context.Context, e core.Entry) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	income, expense := amountColumns(e)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO entries
			(entry_date, income_gross, expense_gross, buyer_or_purpose, sold_article, expense_purpose, payment_method)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Date.String(), income, expense,
		nullable(e.BuyerOrPurpose), nullable(e.SoldArticle), nullable(e.ExpensePurpose), nullable(e.PaymentMethod),
	)
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert entry id: %w", err)
	}
	r.log.InfoContext(ctx, "entry inserted",
		applog.FieldEntryID, id,
		applog.FieldSide, string(e.Side),
		"amount", e.Amount.Fixed())
	return id, nil
}

// UpdateEntry overwrites every editable field of the entry.
func (r *Repository) UpdateEntry(ctx context.Context, id int64, e core.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	income, expense := amountColumns(e)
	res, err := r.db.ExecContext(ctx, `
		UPDATE entries SET
			entry_date = ?,
			income_gross = ?,
			expense_gross = ?,
			buyer_or_purpose = ?,
			sold_article = ?,
			expense_purpose = ?,
			payment_method = ?
		WHERE id = ?`,
		e.Date.String(), income, expense,
		nullable(e.BuyerOrPurpose), nullable(e.SoldArticle), nullable(e.ExpensePurpose), nullable(e.PaymentMethod),
		id,
	)
	if err != nil {
		return fmt.Errorf("update entry %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entry %d: %w", id, err)
	}
	if n == 0 {
		return core.ErrEntryNotFound
	}
	return nil
}

// DeleteEntry removes the entry; dependent receipt rows go with it via
// the cascade. File cleanup is the receipt store's concern and happens
// before this is called.
func (r *Repository) DeleteEntry(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
	}
	if n == 0 {
		return core.ErrEntryNotFound
	}
	r.log.InfoContext(ctx, "entry deleted", applog.FieldEntryID, id)
	return nil
}

// GetEntry loads a single entry by id.
func (r *Repository) GetEntry(ctx context.Context, id int64) (core.Entry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, entry_date, income_gross, expense_gross,
		       buyer_or_purpose, sold_article, expense_purpose, payment_method,
		       legacy_receipt_path
		FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return core.Entry{}, core.ErrEntryNotFound
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("get entry %d: %w", id, err)
	}
	return e, nil
}

// ListEntries returns the entries visible under the view, newest date
// first with ids descending as the tie-break.
func (r *Repository) ListEntries(ctx context.Context, v core.View) ([]core.Entry, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	query := `
		SELECT id, entry_date, income_gross, expense_gross,
		       buyer_or_purpose, sold_article, expense_purpose, payment_method,
		       legacy_receipt_path
		FROM entries
		WHERE strftime('%Y', entry_date) = ?`
	args := []any{fmt.Sprintf("%04d", v.Year)}
	if !v.WholeYear() {
		query += ` AND strftime('%m', entry_date) = ?`
		args = append(args, fmt.Sprintf("%02d", v.Month))
	}
	query += ` ORDER BY entry_date DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// YearBalance sums all income minus all expense for the year. The month
// component of any view is deliberately ignored: the displayed balance
// is always the full-year figure.
func (r *Repository) YearBalance(ctx context.Context, year int) (core.Amount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT income_gross, expense_gross FROM entries
		WHERE strftime('%Y', entry_date) = ?`, fmt.Sprintf("%04d", year))
	if err != nil {
		return core.Amount{}, fmt.Errorf("year balance: %w", err)
	}
	defer rows.Close()

	var balance core.Amount
	for rows.Next() {
		var income, expense sql.NullString
		if err := rows.Scan(&income, &expense); err != nil {
			return core.Amount{}, fmt.Errorf("year balance scan: %w", err)
		}
		balance = balance.Add(parseStoredAmount(income))
		balance = balance.Sub(parseStoredAmount(expense))
	}
	return balance, rows.Err()
}

// ReceiptCounts maps entry id to its receipt count, scoped exactly like
// ListEntries.
func (r *Repository) ReceiptCounts(ctx context.Context, v core.View) (map[int64]int, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	query := `
		SELECT e.id, IFNULL(COUNT(b.id), 0)
		FROM entries e
		LEFT JOIN receipts b ON b.entry_id = e.id
		WHERE strftime('%Y', e.entry_date) = ?`
	args := []any{fmt.Sprintf("%04d", v.Year)}
	if !v.WholeYear() {
		query += ` AND strftime('%m', e.entry_date) = ?`
		args = append(args, fmt.Sprintf("%02d", v.Month))
	}
	query += ` GROUP BY e.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("receipt counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("receipt counts scan: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// ClassifySide is the canonical income/expense tie-break: income only
// when the income amount is set and the expense amount is not.
func (r *Repository) ClassifySide(ctx context.Context, entryID int64) (core.Side, error) {
	var income, expense sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT income_gross, expense_gross FROM entries WHERE id = ?`, entryID).
		Scan(&income, &expense)
	if err == sql.ErrNoRows {
		return "", core.ErrEntryNotFound
	}
	if err != nil {
		return "", fmt.Errorf("classify entry %d: %w", entryID, err)
	}
	return classify(income, expense), nil
}

// DistinctMonths lists every month of the year with at least one entry,
// ascending.
func (r *Repository) DistinctMonths(ctx context.Context, year int) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT CAST(strftime('%m', entry_date) AS INTEGER) AS m
		FROM entries
		WHERE strftime('%Y', entry_date) = ?
		ORDER BY m`, fmt.Sprintf("%04d", year))
	if err != nil {
		return nil, fmt.Errorf("distinct months: %w", err)
	}
	defer rows.Close()

	var months []int
	for rows.Next() {
		var m int
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("distinct months scan: %w", err)
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// InsertReceipt stores a receipt metadata row.
func (r *Repository) InsertReceipt(ctx context.Context, rec core.Receipt) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO receipts
			(entry_id, side, original_name, stored_name, relative_path, content_hash, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.EntryID, string(rec.Side), rec.OriginalName, rec.StoredName, rec.RelativePath,
		nullable(rec.ContentHash), rec.AddedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert receipt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert receipt id: %w", err)
	}
	return id, nil
}

// GetReceipt loads one receipt row.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (core.Receipt, error) {
	row := r.db.QueryRowContext(ctx, receiptSelect+` WHERE id = ?`, id)
	rec, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return core.Receipt{}, core.ErrReceiptMissing
	}
	if err != nil {
		return core.Receipt{}, fmt.Errorf("get receipt %d: %w", id, err)
	}
	return rec, nil
}

// ListReceipts returns the receipts of one entry side, oldest first.
func (r *Repository) ListReceipts(ctx context.Context, entryID int64, side core.Side) ([]core.Receipt, error) {
	return r.queryReceipts(ctx, receiptSelect+` WHERE entry_id = ? AND side = ? ORDER BY id`, entryID, string(side))
}

// ListAllReceipts returns every receipt of an entry regardless of side.
func (r *Repository) ListAllReceipts(ctx context.Context, entryID int64) ([]core.Receipt, error) {
	return r.queryReceipts(ctx, receiptSelect+` WHERE entry_id = ? ORDER BY id`, entryID)
}

// FindReceiptByHash checks for an existing receipt with the same content
// within the (entry, side) scope. Duplicate detection only; duplicates
// are not structurally forbidden.
func (r *Repository) FindReceiptByHash(ctx context.Context, entryID int64, side core.Side, hash string) (core.Receipt, bool, error) {
	row := r.db.QueryRowContext(ctx,
		receiptSelect+` WHERE entry_id = ? AND side = ? AND content_hash = ? LIMIT 1`,
		entryID, string(side), hash)
	rec, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return core.Receipt{}, false, nil
	}
	if err != nil {
		return core.Receipt{}, false, fmt.Errorf("find receipt by hash: %w", err)
	}
	return rec, true, nil
}

// DeleteReceipt removes one metadata row.
func (r *Repository) DeleteReceipt(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM receipts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete receipt %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete receipt %d: %w", id, err)
	}
	if n == 0 {
		return core.ErrReceiptMissing
	}
	return nil
}

// AllRelativePaths returns every stored relative path, for the orphan
// reconciliation scan.
func (r *Repository) AllRelativePaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT relative_path FROM receipts`)
	if err != nil {
		return nil, fmt.Errorf("list relative paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan relative path: %w", err)
		}
		paths[p] = struct{}{}
	}
	return paths, rows.Err()
}

const receiptSelect = `
	SELECT id, entry_id, side, original_name, stored_name, relative_path,
	       IFNULL(content_hash, ''), added_at
	FROM receipts`

func (r *Repository) queryReceipts(ctx context.Context, query string, args ...any) ([]core.Receipt, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []core.Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		receipts = append(receipts, rec)
	}
	return receipts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (core.Entry, error) {
	var (
		e               core.Entry
		dateStr         string
		income, expense sql.NullString
		buyer, article  sql.NullString
		purpose, method sql.NullString
		legacy          sql.NullString
	)
	if err := s.Scan(&e.ID, &dateStr, &income, &expense, &buyer, &article, &purpose, &method, &legacy); err != nil {
		return core.Entry{}, err
	}
	date, err := core.ParseDate(dateStr)
	if err != nil {
		return core.Entry{}, err
	}
	e.Date = date
	e.Side = classify(income, expense)
	if e.Side == core.SideIncome {
		e.Amount = parseStoredAmount(income)
	} else {
		e.Amount = parseStoredAmount(expense)
	}
	e.BuyerOrPurpose = buyer.String
	e.SoldArticle = article.String
	e.ExpensePurpose = purpose.String
	e.PaymentMethod = method.String
	e.LegacyReceiptPath = legacy.String
	return e, nil
}

func scanReceipt(s scanner) (core.Receipt, error) {
	var (
		rec     core.Receipt
		side    string
		addedAt string
	)
	if err := s.Scan(&rec.ID, &rec.EntryID, &side, &rec.OriginalName, &rec.StoredName,
		&rec.RelativePath, &rec.ContentHash, &addedAt); err != nil {
		return core.Receipt{}, err
	}
	rec.Side = core.Side(side)
	if t, err := time.Parse(time.RFC3339, addedAt); err == nil {
		rec.AddedAt = t
	}
	return rec, nil
}

// classify implements the canonical tie-break: income only when the
// income amount is positive and the expense amount absent or zero.
// Everything else, including legacy rows with both set, is expense.
func classify(income, expense sql.NullString) core.Side {
	if parseStoredAmount(income).Positive() && !parseStoredAmount(expense).Positive() {
		return core.SideIncome
	}
	return core.SideExpense
}

func parseStoredAmount(v sql.NullString) core.Amount {
	if !v.Valid || v.String == "" {
		return core.Amount{}
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return core.Amount{}
	}
	return core.Amount{Decimal: d}
}

func amountColumns(e core.Entry) (income, expense any) {
	if e.Side == core.SideIncome {
		return e.Amount.String(), nil
	}
	return nil, e.Amount.String()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
