package receipts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"kassenbuch/internal/core"
	applog "kassenbuch/internal/log"
	"kassenbuch/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *storage.Repository) {
	t.Helper()
	logger := applog.New(applog.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
	repo, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewStore(t.TempDir(), repo, logger), repo
}

func newIncomeEntry(t *testing.T, repo *storage.Repository, date string) (int64, core.Date) {
	t.Helper()
	d, err := core.ParseDate(date)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	id, err := repo.InsertEntry(context.Background(), core.NewIncomeEntry(d, core.MustAmount("10")))
	if err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	return id, d
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	return path
}

func TestHashFile(t *testing.T) {
	path := writeSource(t, t.TempDir(), "a.txt", "hello")
	hash, err := HashFile(path)
	if err != nil {
		t.Fatalf("hash file: %v", err)
	}
	if hash != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("hash = %s, want md5 of 'hello'", hash)
	}

	if _, err := HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("hashing a missing file should fail")
	}
}

func TestAttachStoresFilesAndMetadata(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	entryID, date := newIncomeEntry(t, repo, "2024-03-10")

	srcDir := t.TempDir()
	srcA := writeSource(t, srcDir, "quittung.pdf", "content a")
	srcB := writeSource(t, srcDir, "foto.jpg", "content b")

	result, err := store.Attach(ctx, entryID, core.SideIncome, []string{srcA, srcB}, date, nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if len(result.Saved) != 2 {
		t.Fatalf("saved %d receipts, want 2", len(result.Saved))
	}

	wantNames := []string{
		fmt.Sprintf("2024-03-10_%d_01.pdf", entryID),
		fmt.Sprintf("2024-03-10_%d_02.jpg", entryID),
	}
	for i, rec := range result.Saved {
		if rec.StoredName != wantNames[i] {
			t.Errorf("stored name = %s, want %s", rec.StoredName, wantNames[i])
		}
		if _, err := os.Stat(store.AbsolutePath(rec)); err != nil {
			t.Errorf("stored file missing: %v", err)
		}
	}

	// Files land under <base>/<yyyy>/<mm>/<entryID>/.
	wantDir := filepath.Join(store.Base(), "2024", "03", fmt.Sprintf("%d", entryID))
	if filepath.Dir(store.AbsolutePath(result.Saved[0])) != wantDir {
		t.Errorf("file stored in %s, want %s",
			filepath.Dir(store.AbsolutePath(result.Saved[0])), wantDir)
	}

	if result.Saved[0].OriginalName != "quittung.pdf" {
		t.Errorf("original name = %s, want quittung.pdf", result.Saved[0].OriginalName)
	}
	if result.Saved[0].ContentHash == "" {
		t.Error("content hash should be recorded")
	}
}

func TestAttachSkipsDuplicateByDefault(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	entryID, date := newIncomeEntry(t, repo, "2024-03-10")

	src := writeSource(t, t.TempDir(), "beleg.pdf", "same bytes")
	if _, err := store.Attach(ctx, entryID, core.SideIncome, []string{src}, date, nil); err != nil {
		t.Fatalf("first attach: %v", err)
	}

	// Same content under a different name is still a duplicate.
	dup := writeSource(t, t.TempDir(), "kopie.pdf", "same bytes")
	result, err := store.Attach(ctx, entryID, core.SideIncome, []string{dup}, date, nil)
	if err != nil {
		t.Fatalf("second attach: %v", err)
	}
	if len(result.Saved) != 0 || len(result.SkippedDuplicates) != 1 {
		t.Errorf("result = %+v, want one skipped duplicate", result)
	}

	recs, err := repo.ListReceipts(ctx, entryID, core.SideIncome)
	if err != nil {
		t.Fatalf("list receipts: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d rows, want 1", len(recs))
	}
}

func TestAttachDuplicateSavedWhenConfirmed(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	entryID, date := newIncomeEntry(t, repo, "2024-03-10")

	src := writeSource(t, t.TempDir(), "beleg.pdf", "same bytes")
	if _, err := store.Attach(ctx, entryID, core.SideIncome, []string{src}, date, nil); err != nil {
		t.Fatalf("first attach: %v", err)
	}

	asked := false
	confirm := func(sourcePath, originalName string) bool {
		asked = true
		if originalName != "beleg.pdf" {
			t.Errorf("callback originalName = %s, want beleg.pdf", originalName)
		}
		return true
	}
	result, err := store.Attach(ctx, entryID, core.SideIncome, []string{src}, date, confirm)
	if err != nil {
		t.Fatalf("second attach: %v", err)
	}
	if !asked {
		t.Error("duplicate callback was not invoked")
	}
	if len(result.Saved) != 1 {
		t.Fatalf("saved %d, want 1", len(result.Saved))
	}

	recs, _ := repo.ListReceipts(ctx, entryID, core.SideIncome)
	if len(recs) != 2 {
		t.Errorf("got %d rows, want 2 after confirmed duplicate", len(recs))
	}
}

func TestAttachSkipsMissingSources(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	entryID, date := newIncomeEntry(t, repo, "2024-03-10")

	missing := filepath.Join(t.TempDir(), "gone.pdf")
	present := writeSource(t, t.TempDir(), "da.pdf", "bytes")

	result, err := store.Attach(ctx, entryID, core.SideIncome, []string{missing, present}, date, nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if len(result.MissingSources) != 1 || result.MissingSources[0] != missing {
		t.Errorf("missing = %v, want [%s]", result.MissingSources, missing)
	}
	if len(result.Saved) != 1 {
		t.Errorf("saved %d, want 1", len(result.Saved))
	}
}

func TestAttachRejectsSideMismatch(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	entryID, date := newIncomeEntry(t, repo, "2024-03-10")

	src := writeSource(t, t.TempDir(), "beleg.pdf", "bytes")
	_, err := store.Attach(ctx, entryID, core.SideExpense, []string{src}, date, nil)
	if !errors.Is(err, core.ErrSideMismatch) {
		t.Fatalf("err = %v, want ErrSideMismatch", err)
	}

	recs, _ := repo.ListAllReceipts(ctx, entryID)
	if len(recs) != 0 {
		t.Errorf("mismatch attach left %d rows", len(recs))
	}
}

func TestAttachRejectsInvalidSide(t *testing.T) {
	store, repo := newTestStore(t)
	entryID, date := newIncomeEntry(t, repo, "2024-03-10")

	_, err := store.Attach(context.Background(), entryID, core.Side("sideways"), nil, date, nil)
	if !errors.Is(err, core.ErrInvalidSide) {
		t.Fatalf("err = %v, want ErrInvalidSide", err)
	}
}

func TestAttachProbesPastOccupiedNames(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	entryID, date := newIncomeEntry(t, repo, "2024-03-10")

	// Occupy the name the first attach would pick.
	dir, err := store.EntryDir(2024, 3, entryID)
	if err != nil {
		t.Fatalf("entry dir: %v", err)
	}
	occupied := fmt.Sprintf("2024-03-10_%d_01.pdf", entryID)
	if err := os.WriteFile(filepath.Join(dir, occupied), []byte("stray"), 0o644); err != nil {
		t.Fatalf("occupy name: %v", err)
	}

	src := writeSource(t, t.TempDir(), "beleg.pdf", "bytes")
	result, err := store.Attach(ctx, entryID, core.SideIncome, []string{src}, date, nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	want := fmt.Sprintf("2024-03-10_%d_02.pdf", entryID)
	if result.Saved[0].StoredName != want {
		t.Errorf("stored name = %s, want %s", result.Saved[0].StoredName, want)
	}
	// The stray file is untouched.
	if data, _ := os.ReadFile(filepath.Join(dir, occupied)); string(data) != "stray" {
		t.Error("existing file was overwritten")
	}
}

func TestRemoveDeletesRowAndFile(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	entryID, date := newIncomeEntry(t, repo, "2024-03-10")

	src := writeSource(t, t.TempDir(), "beleg.pdf", "bytes")
	result, err := store.Attach(ctx, entryID, core.SideIncome, []string{src}, date, nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	rec := result.Saved[0]

	if err := store.Remove(ctx, rec.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(store.AbsolutePath(rec)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stored file still present: %v", err)
	}
	if _, err := repo.GetReceipt(ctx, rec.ID); !errors.Is(err, core.ErrReceiptMissing) {
		t.Errorf("get after remove err = %v, want ErrReceiptMissing", err)
	}

	if err := store.Remove(ctx, rec.ID); !errors.Is(err, core.ErrReceiptMissing) {
		t.Errorf("second remove err = %v, want ErrReceiptMissing", err)
	}
}

func TestRemoveEntryFiles(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	entryID, date := newIncomeEntry(t, repo, "2024-03-10")

	srcDir := t.TempDir()
	sources := []string{
		writeSource(t, srcDir, "a.pdf", "aa"),
		writeSource(t, srcDir, "b.pdf", "bb"),
	}
	result, err := store.Attach(ctx, entryID, core.SideIncome, sources, date, nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	store.RemoveEntryFiles(ctx, entryID)
	for _, rec := range result.Saved {
		if _, err := os.Stat(store.AbsolutePath(rec)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("file %s still present", rec.StoredName)
		}
	}
}

func TestReconcileFindsOrphans(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	entryID, date := newIncomeEntry(t, repo, "2024-03-10")

	src := writeSource(t, t.TempDir(), "beleg.pdf", "bytes")
	if _, err := store.Attach(ctx, entryID, core.SideIncome, []string{src}, date, nil); err != nil {
		t.Fatalf("attach: %v", err)
	}

	orphans, err := store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("clean tree reported orphans: %v", orphans)
	}

	// Drop a file with no metadata row into the tree.
	strayDir := filepath.Join(store.Base(), "2024", "03", "77")
	if err := os.MkdirAll(strayDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(strayDir, "stray.pdf"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	orphans, err = store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != "2024/03/77/stray.pdf" {
		t.Errorf("orphans = %v, want [2024/03/77/stray.pdf]", orphans)
	}
}
