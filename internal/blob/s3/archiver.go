package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// archiveListLimit bounds one archive sweep. Anything left over is picked up
// by the next daily run.
const archiveListLimit = 100000

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the query methods it actually calls, not the
// full domain store interfaces. The Postgres stores satisfy these implicitly.
// ---------------------------------------------------------------------------

// TradeArchiveStore provides read access to trades for archival purposes.
type TradeArchiveStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error)
}

// SignalArchiveStore provides read access to signal records for archival
// purposes.
type SignalArchiveStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.SignalRecord, error)
}

// CycleArchiveStore provides read access to cycle reports for archival
// purposes.
type CycleArchiveStore interface {
	ListRecent(ctx context.Context, limit int) ([]domain.CycleReport, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// old records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	trades  TradeArchiveStore
	signals SignalArchiveStore
	cycles  CycleArchiveStore
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	trades TradeArchiveStore,
	signals SignalArchiveStore,
	cycles CycleArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		trades:  trades,
		signals: signals,
		cycles:  cycles,
		audit:   audit,
	}
}

// ArchiveTrades queries all trades before the cutoff, serializes them to
// JSONL, and uploads the file to S3 at archive/trades/YYYY-MM.jsonl. The
// archival event is recorded in the audit log and the count of archived
// records is returned.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.List(ctx, domain.ListOpts{Until: &before, Limit: archiveListLimit})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	count, err := a.upload(ctx, "trades", before, trades)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ArchiveSignalRecords archives the signal audit trail before the cutoff to
// archive/signal_records/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveSignalRecords(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.signals.List(ctx, domain.ListOpts{Until: &before, Limit: archiveListLimit})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive signal records query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	count, err := a.upload(ctx, "signal_records", before, records)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ArchiveCycleReports archives cycle reports started before the cutoff to
// archive/cycle_reports/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveCycleReports(ctx context.Context, before time.Time) (int64, error) {
	reports, err := a.cycles.ListRecent(ctx, archiveListLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive cycle reports query: %w", err)
	}

	old := reports[:0]
	for _, r := range reports {
		if r.StartedAt.Before(before) {
			old = append(old, r)
		}
	}
	if len(old) == 0 {
		return 0, nil
	}

	count, err := a.upload(ctx, "cycle_reports", before, old)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ArchiveAudit archives audit log entries before the cutoff to
// archive/audit/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before, Limit: archiveListLimit})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	// No audit-log entry here: logging the audit archive to the audit log
	// would make the next sweep archive its own bookkeeping.
	return int64(len(entries)), nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// upload serializes records to JSONL, writes them under the kind's archive
// prefix, and records the event in the audit log.
func (a *ArchiveImpl) upload(ctx context.Context, kind string, before time.Time, records any) (int64, error) {
	buf, count, err := encodeRecords(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}

	return count, nil
}

func encodeRecords(records any) ([]byte, int64, error) {
	switch v := records.(type) {
	case []domain.Trade:
		buf, err := marshalJSONL(v)
		return buf, int64(len(v)), err
	case []domain.SignalRecord:
		buf, err := marshalJSONL(v)
		return buf, int64(len(v)), err
	case []domain.CycleReport:
		buf, err := marshalJSONL(v)
		return buf, int64(len(v)), err
	default:
		return nil, 0, fmt.Errorf("unsupported record type %T", records)
	}
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2025-01.jsonl
//	archive/signal_records/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
