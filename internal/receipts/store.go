// Package receipts owns the content tree for scanned receipt files: the
// mapping from (year, month, entry) to a directory, deterministic stored
// names, and duplicate detection by content hash.
package receipts

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"kassenbuch/internal/core"
	applog "kassenbuch/internal/log"
)

// Store places receipt files under a single base directory and keeps
// their metadata rows in the repository.
type Store struct {
	base string
	repo MetadataRepo
	log  *applog.Logger
}

// MetadataRepo is the slice of the storage layer the receipt store
// needs. *storage.Repository satisfies it.
type MetadataRepo interface {
	ClassifySide(ctx context.Context, entryID int64) (core.Side, error)
	InsertReceipt(ctx context.Context, rec core.Receipt) (int64, error)
	GetReceipt(ctx context.Context, id int64) (core.Receipt, error)
	ListReceipts(ctx context.Context, entryID int64, side core.Side) ([]core.Receipt, error)
	ListAllReceipts(ctx context.Context, entryID int64) ([]core.Receipt, error)
	FindReceiptByHash(ctx context.Context, entryID int64, side core.Side, hash string) (core.Receipt, bool, error)
	DeleteReceipt(ctx context.Context, id int64) error
	AllRelativePaths(ctx context.Context) (map[string]struct{}, error)
}

// DuplicateDecision is asked once per detected duplicate. Returning true
// saves the file anyway; false skips it. A nil callback always skips.
type DuplicateDecision func(sourcePath, originalName string) bool

// AttachResult reports what a bulk attach did.
type AttachResult struct {
	Saved             []core.Receipt `json:"saved"`
	SkippedDuplicates []string       `json:"skippedDuplicates,omitempty"`
	MissingSources    []string       `json:"missingSources,omitempty"`
}

func NewStore(base string, repo MetadataRepo, logger *applog.Logger) *Store {
	return &Store{
		base: base,
		repo: repo,
		log:  logger.WithComponent(applog.ComponentReceipts),
	}
}

// Base returns the base directory of the content tree.
func (s *Store) Base() string {
	return s.base
}

// EntryDir returns (creating if absent) <base>/<yyyy>/<mm>/<entryID>/.
func (s *Store) EntryDir(year, month int, entryID int64) (string, error) {
	dir := filepath.Join(s.base,
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", month),
		fmt.Sprintf("%d", entryID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create entry folder: %w", err)
	}
	return dir, nil
}

// HashFile streams the file through MD5 and returns the hex digest.
// Duplicate-detection aid, not a security control.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// AbsolutePath resolves a receipt's stored file under the base
// directory. Relative paths are kept forward-slashed in the store.
func (s *Store) AbsolutePath(rec core.Receipt) string {
	return filepath.Join(s.base, filepath.FromSlash(rec.RelativePath))
}

// Attach copies the source files into the content tree and records their
// metadata. Per source: a missing file is skipped and counted; a file
// whose hash already exists within (entry, side) is surfaced through
// onDuplicate; filesystem failures abort the batch (earlier copies are
// not rolled back). The copy happens before the row insert, so a crash
// in between leaves an orphaned file, never a dangling row.
func (s *Store) Attach(ctx context.Context, entryID int64, side core.Side, sources []string, refDate core.Date, onDuplicate DuplicateDecision) (AttachResult, error) {
	var result AttachResult

	if err := side.Validate(); err != nil {
		return result, err
	}
	entrySide, err := s.repo.ClassifySide(ctx, entryID)
	if err != nil {
		return result, err
	}
	if entrySide != side {
		return result, fmt.Errorf("%w: entry %d is %s-side", core.ErrSideMismatch, entryID, entrySide)
	}

	if refDate.IsZero() {
		now := time.Now().UTC()
		refDate = core.NewDate(now.Year(), int(now.Month()), now.Day())
	}

	targetDir, err := s.EntryDir(refDate.Year(), refDate.Month(), entryID)
	if err != nil {
		return result, err
	}

	existing, err := s.repo.ListReceipts(ctx, entryID, side)
	if err != nil {
		return result, err
	}
	// The running index resumes from the receipts already present and
	// probes forward past occupied filenames.
	index := len(existing)

	for _, src := range sources {
		if _, err := os.Stat(src); err != nil {
			s.log.WarnContext(ctx, "source file missing, skipped",
				applog.FieldEntryID, entryID, applog.FieldSource, src)
			result.MissingSources = append(result.MissingSources, src)
			continue
		}

		hash, err := HashFile(src)
		if err != nil {
			return result, err
		}
		originalName := filepath.Base(src)

		if _, found, err := s.repo.FindReceiptByHash(ctx, entryID, side, hash); err != nil {
			return result, err
		} else if found {
			if onDuplicate == nil || !onDuplicate(src, originalName) {
				s.log.InfoContext(ctx, "duplicate receipt skipped",
					applog.FieldEntryID, entryID, applog.FieldHash, hash,
					applog.FieldSource, src)
				result.SkippedDuplicates = append(result.SkippedDuplicates, originalName)
				continue
			}
		}

		index++
		storedName, dstPath := s.freeName(targetDir, refDate, entryID, filepath.Ext(src), &index)

		if err := copyFile(src, dstPath); err != nil {
			return result, fmt.Errorf("copy receipt %s: %w", src, err)
		}

		rel, err := filepath.Rel(s.base, dstPath)
		if err != nil {
			return result, fmt.Errorf("relativize %s: %w", dstPath, err)
		}

		rec := core.Receipt{
			EntryID:      entryID,
			Side:         side,
			OriginalName: originalName,
			StoredName:   storedName,
			RelativePath: filepath.ToSlash(rel),
			ContentHash:  hash,
			AddedAt:      time.Now().UTC(),
		}
		id, err := s.repo.InsertReceipt(ctx, rec)
		if err != nil {
			return result, fmt.Errorf("insert receipt metadata: %w", err)
		}
		rec.ID = id
		result.Saved = append(result.Saved, rec)

		s.log.InfoContext(ctx, "receipt attached",
			applog.FieldEntryID, entryID,
			applog.FieldReceiptID, id,
			applog.FieldStoredName, storedName)
	}

	return result, nil
}

// freeName allocates <yyyy-MM-dd>_<entryID>_<NN><ext>, probing the index
// upward until the filename is unused. Collision avoidance, not just
// counting: a gap left by deletions is not reused if occupied.
func (s *Store) freeName(dir string, date core.Date, entryID int64, ext string, index *int) (name, path string) {
	for {
		name = fmt.Sprintf("%s_%d_%02d%s", date.String(), entryID, *index, ext)
		path = filepath.Join(dir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return name, path
		}
		*index++
	}
}

// Remove deletes the metadata row and best-effort removes the stored
// file, ignoring a file that is already gone.
func (s *Store) Remove(ctx context.Context, receiptID int64) error {
	rec, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteReceipt(ctx, receiptID); err != nil {
		return err
	}
	if err := os.Remove(s.AbsolutePath(rec)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.WarnContext(ctx, "stored receipt file not removed",
			applog.FieldReceiptID, receiptID, applog.FieldError, err)
	}
	return nil
}

// RemoveEntryFiles deletes the stored files of every receipt on the
// entry, best-effort. Called before the entry row (and its cascade)
// goes away so the files do not linger as orphans.
func (s *Store) RemoveEntryFiles(ctx context.Context, entryID int64) {
	recs, err := s.repo.ListAllReceipts(ctx, entryID)
	if err != nil {
		s.log.WarnContext(ctx, "could not list receipts for file cleanup",
			applog.FieldEntryID, entryID, applog.FieldError, err)
		return
	}
	for _, rec := range recs {
		if err := os.Remove(s.AbsolutePath(rec)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.WarnContext(ctx, "receipt file not removed",
				applog.FieldReceiptID, rec.ID, applog.FieldError, err)
		}
	}
}

// Reconcile walks the content tree and reports files with no metadata
// row. Attach copies before it inserts, so a crash in the window leaves
// exactly this kind of orphan; the scan makes them visible instead of
// pretending the two stores share a transaction.
func (s *Store) Reconcile(ctx context.Context) ([]string, error) {
	known, err := s.repo.AllRelativePaths(ctx)
	if err != nil {
		return nil, err
	}

	var orphans []string
	err = filepath.WalkDir(s.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.base, path)
		if err != nil {
			return err
		}
		if _, ok := known[filepath.ToSlash(rel)]; !ok {
			orphans = append(orphans, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan receipt tree: %w", err)
	}

	if len(orphans) > 0 {
		s.log.WarnContext(ctx, "orphaned receipt files found",
			applog.FieldCount, len(orphans))
	}
	return orphans, nil
}

// copyFile copies src to dst without overwriting an existing file.
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
