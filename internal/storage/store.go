// Package storage provides the relational store access the rest of
// the Forge depends on: bulk insertion into the raw hits table, the
// external geo API's known-IP cache table, ETL watermarks, and the
// maintenance scheduler's remediation log. Built directly on
// database/sql plus the lib/pq driver, the same stack the wider
// example pack uses for Postgres access.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/smartpixl/forge/internal/record"
)

// Store wraps a *sql.DB configured for the Forge's relational access
// patterns: a pooled connection shared by the pipeline's geo-cache
// MERGE, the bulk writer's CopyIn, and the ETL scheduler's procedure
// calls (spec.md §5, "Shared resources").
type Store struct {
	db *sql.DB
}

// Open connects to dsn using the lib/pq driver and applies the given
// pool bounds.
func Open(dsn string, maxOpenConns, maxIdleConns int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying pool for components (ETL, maintenance)
// that need to run raw statements this package doesn't wrap directly.
func (s *Store) DB() *sql.DB { return s.db }

// rawTableColumns is the nine-column schema spec.md §4.6 bulk-inserts
// into, in column order.
var rawTableColumns = []string{
	"company_id", "pixel_id", "ip_address", "user_agent", "referer",
	"query_string", "request_path", "headers_json", "received_at",
}

// BulkInsert copies a batch of records into the raw hits table using
// Postgres's COPY protocol via pq.CopyIn, far cheaper per-row than
// individual INSERTs at the volumes spec.md's batching targets.
func (s *Store) BulkInsert(ctx context.Context, records []*record.TrackingRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("raw_hits", rawTableColumns...))
	if err != nil {
		return err
	}

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.CompanyID, r.PixelID, r.IPAddress, r.UserAgent, r.Referer,
			r.QueryString, r.RequestPath, r.HeadersJson, r.ReceivedAt,
		); err != nil {
			_ = stmt.Close()
			return err
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	return tx.Commit()
}

// IsDeadlock reports whether err is a deadlock-victim error from the
// driver. spec.md §4.7 names SQL Server error 1205; this module's
// concrete relational store is Postgres (lib/pq, per the teacher's own
// stack), whose equivalent is SQLSTATE 40P01 ("deadlock_detected") —
// see DESIGN.md for the mapping rationale.
func IsDeadlock(err error) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}
	return pqErr.Code == "40P01"
}

// KnownIP is a single row of the IpApiCache known-IP table, loaded at
// startup by the external geo API enricher (spec.md §4.4.5).
type KnownIP struct {
	IP       string
	LastSeen time.Time
}

// StreamKnownIPs loads the known-IP seed set, invoking fn for each row
// so the caller can build its in-memory map without materializing the
// whole result set as a slice.
func (s *Store) StreamKnownIPs(ctx context.Context, fn func(KnownIP)) error {
	rows, err := s.db.QueryContext(ctx, `SELECT ip_address, last_seen FROM ip_api_cache`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var k KnownIP
		if err := rows.Scan(&k.IP, &k.LastSeen); err != nil {
			return err
		}
		fn(k)
	}
	return rows.Err()
}

// UpsertGeoCache MERGEs a geo-API result into IpApiCache by IP,
// preferring non-null source fields on conflict per spec.md §4.4.5.
func (s *Store) UpsertGeoCache(ctx context.Context, ip, affluence, isp string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ip_api_cache (ip_address, affluence, isp, last_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ip_address) DO UPDATE SET
			affluence = COALESCE(NULLIF(EXCLUDED.affluence, ''), ip_api_cache.affluence),
			isp       = COALESCE(NULLIF(EXCLUDED.isp, ''), ip_api_cache.isp),
			last_seen = EXCLUDED.last_seen
	`, ip, affluence, isp, seenAt)
	return err
}

// Watermark is a named ETL process's progress marker (spec.md §3.4).
type Watermark struct {
	ProcessName   string
	LastProcessed int64
	LastRunAt     time.Time
	RowsProcessed int64
}

// GetWatermark reads a process's watermark row, or the zero Watermark
// if none exists yet.
func (s *Store) GetWatermark(ctx context.Context, processName string) (Watermark, error) {
	var w Watermark
	w.ProcessName = processName
	row := s.db.QueryRowContext(ctx, `
		SELECT last_processed_id, last_run_at, rows_processed
		FROM etl_watermarks WHERE process_name = $1
	`, processName)
	err := row.Scan(&w.LastProcessed, &w.LastRunAt, &w.RowsProcessed)
	if err == sql.ErrNoRows {
		return w, nil
	}
	return w, err
}

// PutWatermark upserts a process's watermark after a successful tick.
func (s *Store) PutWatermark(ctx context.Context, w Watermark) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO etl_watermarks (process_name, last_processed_id, last_run_at, rows_processed)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (process_name) DO UPDATE SET
			last_processed_id = EXCLUDED.last_processed_id,
			last_run_at       = EXCLUDED.last_run_at,
			rows_processed    = EXCLUDED.rows_processed
	`, w.ProcessName, w.LastProcessed, w.LastRunAt, w.RowsProcessed)
	return err
}

// AppendRemediationLog records one maintenance or recovery action for
// audit purposes (one row per purge run, and per index maintenance
// run, including failed ones).
func (s *Store) AppendRemediationLog(ctx context.Context, action, detail string, rowsAffected int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remediation_log (action, detail, rows_affected, occurred_at)
		VALUES ($1, $2, $3, $4)
	`, action, detail, rowsAffected, time.Now().UTC())
	return err
}

// PurgeBatch deletes up to limit rows older than olderThan from the
// raw hits table in a single statement, for the maintenance
// scheduler's chunked daily purge (spec.md §4.7).
func (s *Store) PurgeBatch(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM raw_hits WHERE ctid IN (
			SELECT ctid FROM raw_hits WHERE received_at < $1 LIMIT $2
		)
	`, olderThan, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IndexFragmentation reports the raw table's primary index
// fragmentation percentage and page count, read from Postgres's
// pgstattuple extension, for the weekly index-maintenance decision.
func (s *Store) IndexFragmentation(ctx context.Context) (float64, int64, error) {
	var fragPct float64
	var pages int64
	row := s.db.QueryRowContext(ctx, `
		SELECT avg_leaf_density, leaf_pages
		FROM pgstatindex('raw_hits_pkey')
	`)
	if err := row.Scan(&fragPct, &pages); err != nil {
		return 0, 0, err
	}
	// avg_leaf_density is a fill percentage; fragmentation is its
	// complement.
	return 100 - fragPct, pages, nil
}

// RebuildIndex performs a full index rebuild (heavier lock, used past
// the high fragmentation threshold).
func (s *Store) RebuildIndex(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `REINDEX INDEX CONCURRENTLY raw_hits_pkey`)
	return err
}

// ReorganizeIndex performs a lighter-weight reclaim (used past the
// lower fragmentation threshold but below the rebuild threshold).
func (s *Store) ReorganizeIndex(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM (INDEX_CLEANUP ON) raw_hits`)
	return err
}
