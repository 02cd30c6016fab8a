package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresStore is the pgx-backed gateway.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) LocalMap(ctx context.Context, collection string) (HashMap, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT identity_key, fingerprint FROM sync_records WHERE collection = $1`, collection)
	if err != nil {
		return nil, fmt.Errorf("query local map: %w", err)
	}
	defer rows.Close()

	local := make(HashMap)
	for rows.Next() {
		var key, fingerprint string
		if err := rows.Scan(&key, &fingerprint); err != nil {
			return nil, fmt.Errorf("scan local map row: %w", err)
		}
		local[key] = fingerprint
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate local map: %w", err)
	}
	return local, nil
}

func (s *PostgresStore) Reconcile(ctx context.Context, collection string, fn func(Batch) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgBatch{tx: tx, collection: collection})
	})
}

// TryLock holds a session-level advisory lock keyed by the collection on a
// dedicated pool connection until release.
func (s *PostgresStore) TryLock(ctx context.Context, collection string) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	key := lockKey(collection)
	var got bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&got); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock %s: %w", collection, err)
	}
	if !got {
		conn.Release()
		return nil, fmt.Errorf("%s: %w", collection, ErrLocked)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			// Closing the session frees every lock it holds.
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, collection string, limit, offset int) ([]*Row, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT identity_key, fingerprint, payload, updated_at
		 FROM sync_records WHERE collection = $1 ORDER BY identity_key LIMIT $2 OFFSET $3`,
		collection, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Row
	for rows.Next() {
		var (
			r       Row
			payload []byte
		)
		if err := rows.Scan(&r.Key, &r.Fingerprint, &payload, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Payload = payload
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_history (id, collection, started_at, completed_at, status, added, updated, deleted, unchanged, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		history.ID,
		history.Collection,
		history.StartedAt,
		history.CompletedAt,
		history.Status,
		history.Added,
		history.Updated,
		history.Deleted,
		history.Unchanged,
		history.ErrorMessage,
	)
	return err
}

func (s *PostgresStore) GetSyncHistory(ctx context.Context, collection string, limit, offset int) ([]*SyncHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, collection, started_at, completed_at, status, added, updated, deleted, unchanged, error_message
		 FROM sync_history WHERE ($1 = '' OR collection = $1) ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		collection, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*SyncHistory
	for rows.Next() {
		var h SyncHistory
		err := rows.Scan(
			&h.ID,
			&h.Collection,
			&h.StartedAt,
			&h.CompletedAt,
			&h.Status,
			&h.Added,
			&h.Updated,
			&h.Deleted,
			&h.Unchanged,
			&h.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

type pgBatch struct {
	tx         pgx.Tx
	collection string
}

func (b *pgBatch) ApplyAdditions(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := b.tx.CopyFrom(ctx,
		pgx.Identifier{"sync_records"},
		[]string{"collection", "identity_key", "fingerprint", "payload"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{b.collection, r.Key, r.Fingerprint, string(r.Payload)}, nil
		}),
	)
	if err != nil {
		return classifyPgError("insert records", err)
	}
	return nil
}

func (b *pgBatch) ApplyUpdates(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(
			`UPDATE sync_records SET fingerprint = $1, payload = $2, updated_at = now()
			 WHERE collection = $3 AND identity_key = $4`,
			r.Fingerprint, string(r.Payload), b.collection, r.Key)
	}

	results := b.tx.SendBatch(ctx, batch)
	for _, r := range rows {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return classifyPgError("update record", err)
		}
		if tag.RowsAffected() == 0 {
			_ = results.Close()
			return fmt.Errorf("update record %s: %w", r.Key, ErrKeyNotFound)
		}
	}
	return results.Close()
}

func (b *pgBatch) ApplyDeletions(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := b.tx.Exec(ctx,
		`DELETE FROM sync_records WHERE collection = $1 AND identity_key = ANY($2)`,
		b.collection, keys)
	if err != nil {
		return classifyPgError("delete records", err)
	}
	return nil
}

func classifyPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w: %s", op, ErrDuplicateKey, pgErr.Detail)
	}
	return fmt.Errorf("%s: %w", op, err)
}
