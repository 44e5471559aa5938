// Package export assembles the portable monthly snapshot: a
// semicolon-delimited table plus the receipt files, zipped into a
// single archive.
package export

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"kassenbuch/internal/core"
	applog "kassenbuch/internal/log"
	"kassenbuch/internal/receipts"

	"github.com/google/uuid"
)

// csvHeader is the fixed export table header. The column names are part
// of the external format and stay German.
const csvHeader = "Datum;Einnahme (€);Käufer/Zweck;Artikel;Ausgabe (€);Zweck der Ausgabe;Bezahlmethode;Beleg"

const (
	receiptsDirName = "Belege"
	fallbackName    = "beleg"

	// FormatCSV writes the table as CSV only; FormatXLSX writes the
	// same table as a spreadsheet alongside it.
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Ledger is the slice of the storage layer the exporter reads from.
// *storage.Repository satisfies it.
type Ledger interface {
	ListEntries(ctx context.Context, v core.View) ([]core.Entry, error)
	ListAllReceipts(ctx context.Context, entryID int64) ([]core.Receipt, error)
	DistinctMonths(ctx context.Context, year int) ([]int, error)
}

// Exporter stages one or more months into a scratch directory and zips
// the result.
type Exporter struct {
	repo  Ledger
	store *receipts.Store
	log   *applog.Logger
}

// Summary is the caller-facing report of one export run.
type Summary struct {
	Months   []int `json:"months"`
	Bookings int   `json:"bookings"`
	Receipts int   `json:"receipts"`
}

func NewExporter(repo Ledger, store *receipts.Store, logger *applog.Logger) *Exporter {
	return &Exporter{
		repo:  repo,
		store: store,
		log:   logger.WithComponent(applog.ComponentExport),
	}
}

// ResolveMonths maps the caller's selection to the months to export. A
// month outside 1..12 means "all months", discovered from the ledger.
func (e *Exporter) ResolveMonths(ctx context.Context, year, month int) ([]int, error) {
	if month >= 1 && month <= 12 {
		return []int{month}, nil
	}
	return e.repo.DistinctMonths(ctx, year)
}

// Run exports the selection into a zip archive at archivePath. The
// staging tree lives in a scratch directory that is removed on every
// exit path. A single month stages flat; multiple months stage under
// <yyyy>-<mm>/ subfolders.
func (e *Exporter) Run(ctx context.Context, year, month int, archivePath, format string) (Summary, error) {
	var summary Summary

	months, err := e.ResolveMonths(ctx, year, month)
	if err != nil {
		return summary, err
	}
	if len(months) == 0 {
		return summary, fmt.Errorf("no data to export for year %d", year)
	}
	summary.Months = months

	tempDir, err := os.MkdirTemp("", "kassenbuch-export-*")
	if err != nil {
		return summary, fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	for _, m := range months {
		targetDir := tempDir
		if len(months) > 1 {
			targetDir = filepath.Join(tempDir, fmt.Sprintf("%04d-%02d", year, m))
			if err := os.MkdirAll(targetDir, 0o755); err != nil {
				return summary, fmt.Errorf("create month folder: %w", err)
			}
		}
		bookings, receiptCount, err := e.ExportMonth(ctx, year, m, targetDir, format)
		if err != nil {
			return summary, fmt.Errorf("export %04d-%02d: %w", year, m, err)
		}
		summary.Bookings += bookings
		summary.Receipts += receiptCount
		e.log.InfoContext(ctx, "month exported",
			applog.FieldYear, year, applog.FieldMonth, m,
			"bookings", bookings, "receipts", receiptCount)
	}

	if err := zipDirectory(tempDir, archivePath); err != nil {
		return summary, fmt.Errorf("create archive: %w", err)
	}
	e.log.InfoContext(ctx, "export archive written",
		applog.FieldArchive, archivePath,
		"bookings", summary.Bookings, "receipts", summary.Receipts)
	return summary, nil
}

// ExportMonth writes the month's table and stages its receipt copies
// into targetDir. Returns the booking and receipt counts.
func (e *Exporter) ExportMonth(ctx context.Context, year, month int, targetDir, format string) (int, int, error) {
	entries, err := e.repo.ListEntries(ctx, core.View{Year: year, Month: month})
	if err != nil {
		return 0, 0, err
	}

	receiptsDir := filepath.Join(targetDir, receiptsDirName)
	if err := os.MkdirAll(receiptsDir, 0o755); err != nil {
		return 0, 0, fmt.Errorf("create receipts folder: %w", err)
	}

	rows := make([][]string, 0, len(entries))
	totalReceipts := 0
	for _, entry := range entries {
		copied, err := e.copyEntryReceipts(ctx, entry.ID, receiptsDir)
		if err != nil {
			return 0, 0, err
		}
		totalReceipts += copied

		receiptCell := ""
		if copied > 0 {
			receiptCell = fmt.Sprintf("%d Beleg(e)", copied)
		}
		income, expense := "", ""
		if entry.Side == core.SideIncome {
			income = entry.Amount.Fixed()
		} else {
			expense = entry.Amount.Fixed()
		}
		rows = append(rows, []string{
			entry.Date.Format("02.01.2006"),
			income,
			entry.BuyerOrPurpose,
			entry.SoldArticle,
			expense,
			entry.ExpensePurpose,
			entry.PaymentMethod,
			receiptCell,
		})
	}

	csvPath := filepath.Join(targetDir, fmt.Sprintf("Kassenbuch_%04d_%02d.csv", year, month))
	if err := writeCSV(csvPath, rows); err != nil {
		return 0, 0, err
	}
	if format == FormatXLSX {
		xlsxPath := filepath.Join(targetDir, fmt.Sprintf("Kassenbuch_%04d_%02d.xlsx", year, month))
		if err := writeXLSX(xlsxPath, rows); err != nil {
			return 0, 0, err
		}
	}

	return len(entries), totalReceipts, nil
}

// copyEntryReceipts stages every existing receipt file of the entry as
// <entryID>_<NN>_<sanitizedOriginal>. Missing files are logged and
// skipped; name collisions across entries get a random suffix.
func (e *Exporter) copyEntryReceipts(ctx context.Context, entryID int64, receiptsDir string) (int, error) {
	recs, err := e.repo.ListAllReceipts(ctx, entryID)
	if err != nil {
		return 0, err
	}

	index := 0
	for _, rec := range recs {
		src := e.store.AbsolutePath(rec)
		if _, err := os.Stat(src); err != nil {
			e.log.WarnContext(ctx, "receipt file missing, not exported",
				applog.FieldReceiptID, rec.ID, applog.FieldSource, src)
			continue
		}

		index++
		original := rec.OriginalName
		if strings.TrimSpace(original) == "" {
			original = filepath.Base(src)
		}
		name := fmt.Sprintf("%d_%02d_%s", entryID, index, SanitizeFileName(original))
		dst := uniquePath(receiptsDir, name)
		if err := copyFile(src, dst); err != nil {
			return index - 1, fmt.Errorf("stage receipt %d: %w", rec.ID, err)
		}
	}
	return index, nil
}

// uniquePath resolves staging collisions by appending a random suffix
// before the extension.
func uniquePath(dir, name string) string {
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		return target
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return filepath.Join(dir, base+"_"+suffix+ext)
}

// SanitizeFileName replaces characters outside the portable filename
// alphabet with underscores. Empty names fall back to a fixed token.
func SanitizeFileName(name string) string {
	if strings.TrimSpace(name) == "" {
		return fallbackName
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < 32, strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ';'
	if err := w.Write(strings.Split(csvHeader, ";")); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return f.Close()
}

// zipDirectory compresses the directory tree into a single archive,
// replacing any existing file at archivePath.
func zipDirectory(root, archivePath string) error {
	if err := os.Remove(archivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("replace existing archive: %w", err)
	}
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(w, in)
		return err
	})
	if err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
