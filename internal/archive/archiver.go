// Package archive exports aged credit transactions to compressed NDJSON
// files and prunes them from the live table. The balance on the entitlement
// row is the source of truth, so pruning old audit rows never affects any
// credit accounting.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"inkwell/internal/config"
	"inkwell/internal/types"
)

// TransactionStore is the subset of the ledger repository the archiver
// needs. Implemented by db.LedgerRepo.
type TransactionStore interface {
	// OldestBefore returns up to limit transactions created before cutoff,
	// oldest first.
	OldestBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.CreditTransaction, error)

	// DeleteByIDs removes the given transactions after export.
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// Result summarizes one archiver run.
type Result struct {
	Exported int
	Deleted  int64
	Files    []string
}

// Archiver moves credit transactions older than the retention window out of
// Postgres into gzip-compressed NDJSON files, one file per batch. Rows are
// deleted only after the file has been written and synced, so a crash
// mid-run duplicates data rather than losing it.
type Archiver struct {
	store  TransactionStore
	cfg    config.ArchiveConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(store TransactionStore, cfg config.ArchiveConfig, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source for tests.
func (a *Archiver) WithClock(now func() time.Time) *Archiver {
	a.now = now
	return a
}

// Run archives all transactions past retention, paging in batches until the
// table has no more candidates. Each batch becomes its own file so partial
// progress survives a failure in a later batch.
func (a *Archiver) Run(ctx context.Context) (*Result, error) {
	cutoff := a.now().UTC().Add(-a.cfg.Retention)

	if err := os.MkdirAll(a.cfg.OutputDir, 0o755); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create archive directory", err)
	}

	result := &Result{}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := a.store.OldestBefore(ctx, cutoff, a.cfg.BatchSize)
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			break
		}

		path, err := a.exportBatch(batch)
		if err != nil {
			return result, err
		}
		result.Files = append(result.Files, path)
		result.Exported += len(batch)

		ids := make([]string, len(batch))
		for i, t := range batch {
			ids[i] = t.ID
		}
		deleted, err := a.store.DeleteByIDs(ctx, ids)
		if err != nil {
			// The file exists but the rows remain; the next run re-exports
			// them. Duplicated export beats a lost audit row.
			a.logger.ErrorContext(ctx, "failed to prune exported transactions",
				"file", path,
				"count", len(ids),
				"error", err,
			)
			return result, err
		}
		result.Deleted += deleted

		a.logger.InfoContext(ctx, "archived transaction batch",
			"file", path,
			"exported", len(batch),
			"deleted", deleted,
		)
	}

	return result, nil
}

// exportBatch writes one batch as gzip-compressed NDJSON. The file is named
// after the first transaction's timestamp so files sort chronologically.
func (a *Archiver) exportBatch(batch []types.CreditTransaction) (string, error) {
	name := fmt.Sprintf("credit-transactions-%s-%s.ndjson.gz",
		batch[0].CreatedAt.UTC().Format("20060102T150405"),
		batch[0].ID[:8],
	)
	path := filepath.Join(a.cfg.OutputDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create archive file", err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode transaction", err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to finalize archive file", err)
	}
	if err := f.Sync(); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to sync archive file", err)
	}

	return path, nil
}
