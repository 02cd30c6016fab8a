package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	mysqlcodes "github.com/go-mysql-org/go-mysql/mysql"
	mysqldriver "github.com/go-sql-driver/mysql"

	"mana-sync-service/internal/database"
)

const defaultBatchSize = 500

type MySQLStore struct {
	db        *database.Database
	batchSize int
}

// NewMySQLStore wraps an open database. batchSize bounds the rows per
// multi-row INSERT or DELETE statement.
func NewMySQLStore(db *database.Database, batchSize int) *MySQLStore {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &MySQLStore{db: db, batchSize: batchSize}
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) LocalMap(ctx context.Context, collection string) (HashMap, error) {
	query := `SELECT identity_key, fingerprint FROM sync_records WHERE collection = ?`

	rows, err := s.db.DB.QueryContext(ctx, query, collection)
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

func (s *MySQLStore) Reconcile(ctx context.Context, collection string, fn func(Batch) error) error {
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		return fn(&mysqlBatch{tx: tx, collection: collection, batchSize: s.batchSize})
	})
}

// TryLock holds a GET_LOCK named after the collection on a dedicated
// connection until release.
func (s *MySQLStore) TryLock(ctx context.Context, collection string) (func(), error) {
	conn, err := s.db.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	name := lockName(collection)
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, 0)`, name).Scan(&got); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("get lock %s: %w", collection, err)
	}
	if !got.Valid || got.Int64 != 1 {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", collection, ErrLocked)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
		defer cancel()
		if _, err := conn.ExecContext(ctx, `SELECT RELEASE_LOCK(?)`, name); err != nil {
			// Drop the session so the server frees the lock with it.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}, nil
}

func (s *MySQLStore) ListRecords(ctx context.Context, collection string, limit, offset int) ([]*Row, error) {
	query := `SELECT identity_key, fingerprint, payload, updated_at
			  FROM sync_records WHERE collection = ? ORDER BY identity_key LIMIT ? OFFSET ?`

	rows, err := s.db.DB.QueryContext(ctx, query, collection, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Key, &r.Fingerprint, &r.Payload, &r.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *MySQLStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `INSERT INTO sync_history (id, collection, started_at, completed_at, status, added, updated, deleted, unchanged, error_message)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB.ExecContext(ctx, query,
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

func (s *MySQLStore) GetSyncHistory(ctx context.Context, collection string, limit, offset int) ([]*SyncHistory, error) {
	query := `SELECT id, collection, started_at, completed_at, status, added, updated, deleted, unchanged, error_message
			  FROM sync_history WHERE (? = '' OR collection = ?) ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.DB.QueryContext(ctx, query, collection, collection, limit, offset)
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

type mysqlBatch struct {
	tx         *sql.Tx
	collection string
	batchSize  int
}

func (b *mysqlBatch) ApplyAdditions(ctx context.Context, rows []Row) error {
	for _, chunk := range chunkRows(rows, b.batchSize) {
		var sb strings.Builder
		sb.WriteString(`INSERT INTO sync_records (collection, identity_key, fingerprint, payload) VALUES `)
		args := make([]any, 0, len(chunk)*4)
		for i, r := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?)")
			args = append(args, b.collection, r.Key, r.Fingerprint, string(r.Payload))
		}
		if _, err := b.tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return classifyMySQLError("insert records", err)
		}
	}
	return nil
}

func (b *mysqlBatch) ApplyUpdates(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := b.tx.PrepareContext(ctx,
		`UPDATE sync_records SET fingerprint = ?, payload = ? WHERE collection = ? AND identity_key = ?`)
	if err != nil {
		return classifyMySQLError("prepare update", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		res, err := stmt.ExecContext(ctx, r.Fingerprint, string(r.Payload), b.collection, r.Key)
		if err != nil {
			return classifyMySQLError("update record", err)
		}
		// The DSN sets clientFoundRows, so matched rows are reported even
		// when the stored values are unchanged.
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update record %s: %w", r.Key, err)
		}
		if n == 0 {
			return fmt.Errorf("update record %s: %w", r.Key, ErrKeyNotFound)
		}
	}
	return nil
}

func (b *mysqlBatch) ApplyDeletions(ctx context.Context, keys []string) error {
	for _, chunk := range chunkKeys(keys, b.batchSize) {
		query := `DELETE FROM sync_records WHERE collection = ? AND identity_key IN (?` +
			strings.Repeat(", ?", len(chunk)-1) + `)`
		args := make([]any, 0, len(chunk)+1)
		args = append(args, b.collection)
		for _, k := range chunk {
			args = append(args, k)
		}
		if _, err := b.tx.ExecContext(ctx, query, args...); err != nil {
			return classifyMySQLError("delete records", err)
		}
	}
	return nil
}

func classifyMySQLError(op string, err error) error {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlcodes.ER_DUP_ENTRY {
		return fmt.Errorf("%s: %w: %s", op, ErrDuplicateKey, myErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func chunkRows(rows []Row, size int) [][]Row {
	var chunks [][]Row
	for len(rows) > 0 {
		n := min(size, len(rows))
		chunks = append(chunks, rows[:n])
		rows = rows[n:]
	}
	return chunks
}

func chunkKeys(keys []string, size int) [][]string {
	var chunks [][]string
	for len(keys) > 0 {
		n := min(size, len(keys))
		chunks = append(chunks, keys[:n])
		keys = keys[n:]
	}
	return chunks
}
