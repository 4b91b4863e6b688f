package worm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"

	"github.com/tenon-core/tenon/internal/types"
)

// SQLStore persists ledger entries to a MySQL-compatible server (including
// a Dolt server running in MySQL-protocol mode) via database/sql, retrying
// transient connection failures with an exponential backoff. It is a
// durability sink alongside the in-memory Ledger, not a replacement for it:
// callers append to both so verify_chain can run without a database round
// trip.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens a connection pool against dsn (a go-sql-driver/mysql
// DSN) and ensures the ledger_entries table exists.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sql store: %w", err)
	}
	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	sequence_number     BIGINT PRIMARY KEY,
	entry_type          VARCHAR(64) NOT NULL,
	content             LONGBLOB NOT NULL,
	content_hash        CHAR(64) NOT NULL,
	written_at          VARCHAR(64) NOT NULL,
	retention_period    VARCHAR(32),
	immutable_until     VARCHAR(64),
	previous_entry_hash CHAR(128) NOT NULL,
	entry_header_hash   CHAR(64) NOT NULL
)`
	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, ddl)
		return err
	})
}

// withRetry wraps fn in an exponential backoff retry loop, for the
// transient connection drops a Dolt/MySQL server produces under load.
func (s *SQLStore) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		return fn(ctx)
	}, backoff.WithContext(b, ctx))
}

// Persist writes one already-chained ledger entry. The sequence number is
// the primary key: a duplicate insert is a programming error, never
// silently upserted, since the store is append-only.
func (s *SQLStore) Persist(ctx context.Context, e types.LedgerEntry) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO ledger_entries
				(sequence_number, entry_type, content, content_hash, written_at,
				 retention_period, immutable_until, previous_entry_hash, entry_header_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.SequenceNumber, string(e.EntryType), e.Content, e.ContentHash, e.WrittenAt,
			e.Retention.Period, e.Retention.ImmutableUntil, e.PreviousEntryHash, e.EntryHeaderHash)
		return err
	})
}

// Load reads back every persisted entry in sequence order, for rebuilding
// an in-memory Ledger after a restart.
func (s *SQLStore) Load(ctx context.Context) ([]types.LedgerEntry, error) {
	var out []types.LedgerEntry
	err := s.withRetry(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT sequence_number, entry_type, content, content_hash, written_at,
			       retention_period, immutable_until, previous_entry_hash, entry_header_hash
			FROM ledger_entries ORDER BY sequence_number ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var e types.LedgerEntry
			var entryType string
			var period, immutableUntil sql.NullString
			if err := rows.Scan(&e.SequenceNumber, &entryType, &e.Content, &e.ContentHash, &e.WrittenAt,
				&period, &immutableUntil, &e.PreviousEntryHash, &e.EntryHeaderHash); err != nil {
				return err
			}
			e.EntryType = types.LedgerEntryType(entryType)
			e.Retention = types.RetentionPolicy{Period: period.String, ImmutableUntil: immutableUntil.String}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
