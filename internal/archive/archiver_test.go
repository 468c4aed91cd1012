package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/internal/config"
	"inkwell/internal/types"
)

var archiveTestNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// fakeTransactionStore is an in-memory TransactionStore that pages through
// its rows the way the repository does.
type fakeTransactionStore struct {
	rows      []types.CreditTransaction
	deleteErr error
	deleted   [][]string
}

func (s *fakeTransactionStore) OldestBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.CreditTransaction, error) {
	var out []types.CreditTransaction
	for _, r := range s.rows {
		if r.CreatedAt.Before(cutoff) {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeTransactionStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	s.deleted = append(s.deleted, ids)
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	byID := make(map[string]bool, len(ids))
	for _, id := range ids {
		byID[id] = true
	}
	var kept []types.CreditTransaction
	for _, r := range s.rows {
		if !byID[r.ID] {
			kept = append(kept, r)
		}
	}
	s.rows = kept
	return int64(len(ids)), nil
}

func oldTxn(id string, age time.Duration) types.CreditTransaction {
	return types.CreditTransaction{
		ID:          id,
		AccountID:   "acct_1",
		Amount:      5,
		PlanAtGrant: types.PlanFree,
		Source:      types.CreditSourceRenewal,
		CreatedAt:   archiveTestNow.Add(-age),
	}
}

func newTestArchiver(t *testing.T, store *fakeTransactionStore, batchSize int) *Archiver {
	t.Helper()
	cfg := config.ArchiveConfig{
		Retention: 90 * 24 * time.Hour,
		OutputDir: t.TempDir(),
		BatchSize: batchSize,
	}
	a := NewArchiver(store, cfg, slog.New(slog.DiscardHandler))
	return a.WithClock(func() time.Time { return archiveTestNow })
}

// readArchive decodes every transaction from a gzip NDJSON archive file.
func readArchive(t *testing.T, path string) []types.CreditTransaction {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	var out []types.CreditTransaction
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var txn types.CreditTransaction
		require.NoError(t, json.Unmarshal(sc.Bytes(), &txn))
		out = append(out, txn)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRun_ExportsAndPrunesOldRows(t *testing.T) {
	store := &fakeTransactionStore{rows: []types.CreditTransaction{
		oldTxn("txn_aaaaaaaa", 120*24*time.Hour),
		oldTxn("txn_bbbbbbbb", 100*24*time.Hour),
		oldTxn("txn_recent00", 5*24*time.Hour), // inside retention, must stay
	}}
	a := newTestArchiver(t, store, 100)

	result, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Exported)
	assert.Equal(t, int64(2), result.Deleted)
	require.Len(t, result.Files, 1)

	exported := readArchive(t, result.Files[0])
	require.Len(t, exported, 2)
	assert.Equal(t, "txn_aaaaaaaa", exported[0].ID)
	assert.Equal(t, "txn_bbbbbbbb", exported[1].ID)
	assert.Equal(t, "acct_1", exported[0].AccountID)

	// The recent row survives.
	require.Len(t, store.rows, 1)
	assert.Equal(t, "txn_recent00", store.rows[0].ID)
}

func TestRun_PagesThroughBatches(t *testing.T) {
	store := &fakeTransactionStore{rows: []types.CreditTransaction{
		oldTxn("txn_aaaaaaaa", 120*24*time.Hour),
		oldTxn("txn_bbbbbbbb", 110*24*time.Hour),
		oldTxn("txn_cccccccc", 100*24*time.Hour),
	}}
	a := newTestArchiver(t, store, 2)

	result, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Exported)
	assert.Equal(t, int64(3), result.Deleted)
	assert.Len(t, result.Files, 2)
	require.Len(t, store.deleted, 2)
	assert.Len(t, store.deleted[0], 2)
	assert.Len(t, store.deleted[1], 1)
}

func TestRun_NothingToArchive(t *testing.T) {
	store := &fakeTransactionStore{rows: []types.CreditTransaction{
		oldTxn("txn_recent00", time.Hour),
	}}
	a := newTestArchiver(t, store, 100)

	result, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, result.Exported)
	assert.Empty(t, result.Files)
	assert.Empty(t, store.deleted)
}

func TestRun_DeleteFailureKeepsExportedFile(t *testing.T) {
	store := &fakeTransactionStore{
		rows:      []types.CreditTransaction{oldTxn("txn_aaaaaaaa", 120*24*time.Hour)},
		deleteErr: errors.New("connection reset"),
	}
	a := newTestArchiver(t, store, 100)

	result, err := a.Run(context.Background())
	require.Error(t, err)

	// Export happened before the failed delete; the rows stay in place so
	// the next run re-exports rather than losing them.
	require.Len(t, result.Files, 1)
	_, statErr := os.Stat(result.Files[0])
	assert.NoError(t, statErr)
	assert.Len(t, store.rows, 1)
	assert.Zero(t, result.Deleted)
}

func TestRun_FileNamesSortChronologically(t *testing.T) {
	store := &fakeTransactionStore{rows: []types.CreditTransaction{
		oldTxn("txn_aaaaaaaa", 120*24*time.Hour),
		oldTxn("txn_bbbbbbbb", 100*24*time.Hour),
	}}
	a := newTestArchiver(t, store, 1)

	result, err := a.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Files, 2)

	first := filepath.Base(result.Files[0])
	second := filepath.Base(result.Files[1])
	assert.Less(t, first, second)
	assert.Contains(t, first, "credit-transactions-")
	assert.Contains(t, first, ".ndjson.gz")
}

func TestRun_CancelledContextStopsRun(t *testing.T) {
	store := &fakeTransactionStore{rows: []types.CreditTransaction{
		oldTxn("txn_aaaaaaaa", 120*24*time.Hour),
	}}
	a := newTestArchiver(t, store, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.deleted)
}
