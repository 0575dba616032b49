package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/polyarb/internal/domain"
	"github.com/quantfold/polyarb/internal/ledger/ledgertest"
)

// memBlob is an in-memory object store implementing both blob interfaces.
type memBlob struct {
	mu            sync.Mutex
	objects       map[string][]byte
	multipartPuts int
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlob) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.multipartPuts++
	m.objects[path] = b
	return nil
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func (m *memBlob) object(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	return b, ok
}

// lossyBlob drops the last record of every Put to simulate a short write.
type lossyBlob struct {
	*memBlob
}

func (l *lossyBlob) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	trimmed := bytes.TrimSuffix(b, []byte("\n"))
	if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
		b = trimmed[:i+1]
	} else {
		b = nil
	}
	return l.memBlob.Put(ctx, path, bytes.NewReader(b), contentType)
}

func settledPosition(id string, settledAt time.Time) domain.Position {
	created := settledAt.Add(-24 * time.Hour)
	return domain.Position{
		ID:       id,
		MarketID: "mkt-" + id,
		Question: "Will it settle?",
		YesOrder: domain.Order{
			ID:           id + "-yes",
			PositionID:   id,
			MarketID:     "mkt-" + id,
			TokenID:      "tok-yes",
			Side:         domain.SideYes,
			RequestedQty: decimal.RequireFromString("50"),
			LimitPrice:   decimal.RequireFromString("0.40"),
			Status:       domain.OrderStatusFilled,
			FilledQty:    decimal.RequireFromString("50"),
			AvgFillPrice: decimal.RequireFromString("0.40"),
			Hash:         "0xyes-" + id,
			UpdatedAt:    created,
		},
		NoOrder: domain.Order{
			ID:           id + "-no",
			PositionID:   id,
			MarketID:     "mkt-" + id,
			TokenID:      "tok-no",
			Side:         domain.SideNo,
			RequestedQty: decimal.RequireFromString("50"),
			LimitPrice:   decimal.RequireFromString("0.45"),
			Status:       domain.OrderStatusFilled,
			FilledQty:    decimal.RequireFromString("50"),
			AvgFillPrice: decimal.RequireFromString("0.45"),
			Hash:         "0xno-" + id,
			UpdatedAt:    created,
		},
		PairCost:       decimal.RequireFromString("0.85"),
		GasCost:        decimal.RequireFromString("0.02"),
		FeeRate:        decimal.RequireFromString("0.02"),
		Status:         domain.PositionStatusSettled,
		ImbalanceQty:   decimal.Zero,
		RealizedProfit: decimal.RequireFromString("5.48"),
		CreatedAt:      created,
		UpdatedAt:      settledAt,
		SettledAt:      &settledAt,
	}
}

func jsonlLines(t *testing.T, data []byte) [][]byte {
	t.Helper()
	require.NotEmpty(t, data)
	require.True(t, bytes.HasSuffix(data, []byte("\n")))
	return bytes.Split(bytes.TrimSuffix(data, []byte("\n")), []byte("\n"))
}

func TestArchivePositionsWritesMonthlyObject(t *testing.T) {
	store := ledgertest.NewStore()
	audit := ledgertest.NewAudit()
	blob := newMemBlob()
	arch := NewArchiver(blob, blob, store, audit)
	ctx := context.Background()

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, settledPosition("pos-1", cutoff.Add(-48*time.Hour))))
	require.NoError(t, store.Create(ctx, settledPosition("pos-2", cutoff.Add(-24*time.Hour))))
	require.NoError(t, store.Create(ctx, settledPosition("pos-3", cutoff.Add(time.Hour))))

	open := settledPosition("pos-4", cutoff.Add(-24*time.Hour))
	open.Status = domain.PositionStatusOpen
	open.SettledAt = nil
	require.NoError(t, store.Create(ctx, open))

	n, err := arch.ArchivePositions(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	data, ok := blob.object("archive/positions/2026-08.jsonl")
	require.True(t, ok, "archive object should exist for the cutoff month")
	lines := jsonlLines(t, data)
	require.Len(t, lines, 2)

	var got domain.Position
	require.NoError(t, json.Unmarshal(lines[0], &got))
	assert.Equal(t, "pos-1", got.ID)
	assert.Equal(t, domain.PositionStatusSettled, got.Status)
	assert.True(t, got.RealizedProfit.Equal(decimal.RequireFromString("5.48")))

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.positions", entries[0].Event)
	assert.Equal(t, int64(2), entries[0].Detail["count"])
	assert.NotEmpty(t, entries[0].Detail["batch"])
}

func TestArchivePositionsNothingEligible(t *testing.T) {
	store := ledgertest.NewStore()
	audit := ledgertest.NewAudit()
	blob := newMemBlob()
	arch := NewArchiver(blob, blob, store, audit)
	ctx := context.Background()

	n, err := arch.ArchivePositions(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Empty(t, blob.objects)
	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestArchivePositionsMergesWithinMonth(t *testing.T) {
	store := ledgertest.NewStore()
	audit := ledgertest.NewAudit()
	blob := newMemBlob()
	arch := NewArchiver(blob, blob, store, audit)
	ctx := context.Background()

	cutoff := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, settledPosition("pos-1", cutoff.Add(-72*time.Hour))))
	require.NoError(t, store.Create(ctx, settledPosition("pos-2", cutoff.Add(-48*time.Hour))))

	n, err := arch.ArchivePositions(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	_, err = store.DeleteSettledBefore(ctx, cutoff)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, settledPosition("pos-5", cutoff.Add(-2*time.Hour))))

	n, err = arch.ArchivePositions(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	data, ok := blob.object("archive/positions/2026-08.jsonl")
	require.True(t, ok)
	lines := jsonlLines(t, data)
	assert.Len(t, lines, 3, "second batch should merge into the month's object")

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotEqual(t, entries[0].Detail["batch"], entries[1].Detail["batch"])
}

func TestArchiveAuditExportsEntries(t *testing.T) {
	audit := ledgertest.NewAudit()
	blob := newMemBlob()
	arch := NewArchiver(blob, blob, ledgertest.NewStore(), audit)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, audit.Log(ctx, "cycle.skip", map[string]any{"market": fmt.Sprintf("mkt-%d", i)}))
	}

	cutoff := time.Now().UTC().Add(time.Hour)
	n, err := arch.ArchiveAudit(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	data, ok := blob.object("archive/audit/" + cutoff.Format("2006-01") + ".jsonl")
	require.True(t, ok)
	lines := jsonlLines(t, data)
	require.Len(t, lines, 3)

	var entry domain.AuditEntry
	require.NoError(t, json.Unmarshal(lines[2], &entry))
	assert.Equal(t, "cycle.skip", entry.Event)
	assert.Equal(t, "mkt-2", entry.Detail["market"])

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 4, "batch record should be logged after the export")
	assert.Equal(t, "archive.audit", entries[3].Event)
}

func TestArchivePositionsVerifyFailure(t *testing.T) {
	store := ledgertest.NewStore()
	audit := ledgertest.NewAudit()
	blob := newMemBlob()
	arch := NewArchiver(&lossyBlob{memBlob: blob}, blob, store, audit)
	ctx := context.Background()

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, settledPosition("pos-1", cutoff.Add(-48*time.Hour))))
	require.NoError(t, store.Create(ctx, settledPosition("pos-2", cutoff.Add(-24*time.Hour))))

	n, err := arch.ArchivePositions(ctx, cutoff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify")
	assert.Zero(t, n)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries, "a failed batch must not be recorded as archived")
}

func TestArchivePositionsLargeBatchGoesMultipart(t *testing.T) {
	store := ledgertest.NewStore()
	audit := ledgertest.NewAudit()
	blob := newMemBlob()
	arch := NewArchiver(blob, blob, store, audit)
	ctx := context.Background()

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	padding := strings.Repeat("x", 4096)
	for i := 0; i < 2200; i++ {
		pos := settledPosition(fmt.Sprintf("pos-%04d", i), cutoff.Add(-time.Hour))
		pos.Question = padding
		require.NoError(t, store.Create(ctx, pos))
	}

	n, err := arch.ArchivePositions(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2200), n)
	assert.Equal(t, 1, blob.multipartPuts)
}
