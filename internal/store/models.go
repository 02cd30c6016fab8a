package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrDuplicateKey = errors.New("identity key already exists")
	ErrKeyNotFound  = errors.New("identity key not found")
	ErrLocked       = errors.New("collection is locked by another sync")
)

// HashMap maps identity keys to content fingerprints.
type HashMap map[string]string

// Row is one entry of a comparison table.
type Row struct {
	Key         string          `db:"identity_key" json:"key"`
	Fingerprint string          `db:"fingerprint" json:"fingerprint"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

type SyncHistory struct {
	ID           string         `db:"id"`
	Collection   string         `db:"collection"`
	StartedAt    time.Time      `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	Status       string         `db:"status"`
	Added        int            `db:"added"`
	Updated      int            `db:"updated"`
	Deleted      int            `db:"deleted"`
	Unchanged    int            `db:"unchanged"`
	ErrorMessage sql.NullString `db:"error_message"`
}
