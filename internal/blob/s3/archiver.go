package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/polyarb/internal/domain"
)

// multipartThreshold is the payload size above which uploads switch to the
// concurrent multipart path.
const multipartThreshold = 8 * 1024 * 1024

// PositionSource provides the settled positions eligible for archival.
// The Postgres position store satisfies it.
type PositionSource interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// Archiver exports settled positions and aged audit rows as monthly JSONL
// objects. Every batch is verified by reading the object back and counting
// records before it is reported as archived, and recorded in the audit log.
//
// Deleting the exported rows from the primary store is not done here. The
// caller deletes after a batch has been verified, so a failed upload never
// costs data.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	positions PositionSource
	audit     domain.AuditStore
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver over the given blob store and sources.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, positions PositionSource, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		positions: positions,
		audit:     audit,
	}
}

// ArchivePositions exports all positions settled strictly before the cutoff
// to archive/positions/YYYY-MM.jsonl and returns how many were exported.
// Re-runs within the same month merge into the existing object.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	payload, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path, err := a.upload(ctx, "positions", before, payload, len(positions))
	if err != nil {
		return 0, err
	}

	count := int64(len(positions))
	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"path":   path,
		"batch":  uuid.NewString(),
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive positions audit: %w", err)
	}
	return count, nil
}

// ArchiveAudit exports all audit rows created strictly before the cutoff to
// archive/audit/YYYY-MM.jsonl and returns how many were exported. The batch
// record this writes is itself newer than the cutoff, so it survives the
// caller's subsequent delete.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	payload, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path, err := a.upload(ctx, "audit", before, payload, len(entries))
	if err != nil {
		return 0, err
	}

	count := int64(len(entries))
	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"batch":  uuid.NewString(),
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit audit: %w", err)
	}
	return count, nil
}

// upload merges the payload with any object already stored for the month,
// uploads the result, and verifies the stored record count matches what was
// sent. Returns the object path.
func (a *Archiver) upload(ctx context.Context, kind string, before time.Time, payload []byte, added int) (string, error) {
	path := archivePath(kind, before)

	prior := 0
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: check archive %s: %w", path, err)
	}
	if exists {
		existing, n, err := a.readBack(ctx, path)
		if err != nil {
			return "", err
		}
		payload = append(existing, payload...)
		prior = n
	}

	if int64(len(payload)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(payload), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(payload), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: upload archive %s: %w", path, err)
	}

	_, stored, err := a.readBack(ctx, path)
	if err != nil {
		return "", err
	}
	if stored != prior+added {
		return "", fmt.Errorf("s3blob: verify archive %s: stored %d records, want %d", path, stored, prior+added)
	}
	return path, nil
}

// readBack downloads the object and counts its JSONL records.
func (a *Archiver) readBack(ctx context.Context, path string) ([]byte, int, error) {
	rc, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, 0, fmt.Errorf("s3blob: read archive %s: %w", path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, 0, fmt.Errorf("s3blob: read archive %s: %w", path, err)
	}
	// Every record is one encoder line terminated by '\n'.
	return data, bytes.Count(data, []byte("\n")), nil
}

// archivePath builds the object key for an archive, partitioned by the
// year-month of the cutoff:
//
//	archive/positions/2026-08.jsonl
//	archive/audit/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL encodes records as newline-delimited JSON, one compact line
// per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
