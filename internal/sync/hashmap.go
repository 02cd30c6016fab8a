package sync

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"mana-sync-service/internal/store"
)

var (
	ErrDuplicateKey = errors.New("conflicting records share an identity key")
	ErrEmptyKey     = errors.New("record has an empty identity key")
)

// Entry is the reduced form of a fetched record.
type Entry struct {
	Fingerprint string
	Payload     []byte
}

// Fingerprint returns the canonical JSON encoding of the record's content
// and its xxhash64 digest as 16 hex digits. Struct fields encode in
// declaration order and map keys sorted, so equal content always yields the
// same fingerprint.
func Fingerprint(r Record) (string, []byte, error) {
	payload, err := json.Marshal(r.Content())
	if err != nil {
		return "", nil, fmt.Errorf("encode record %q: %w", r.Key(), err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(payload)), payload, nil
}

// ExtractHashMap reduces records to a key→fingerprint map plus the encoded
// entries backing it. Records repeating a key with identical content collapse
// into one; repeating a key with different content is an error.
func ExtractHashMap(records []Record) (store.HashMap, map[string]Entry, error) {
	hashes := make(store.HashMap, len(records))
	entries := make(map[string]Entry, len(records))

	for _, r := range records {
		key := r.Key()
		if key == "" {
			return nil, nil, ErrEmptyKey
		}
		fp, payload, err := Fingerprint(r)
		if err != nil {
			return nil, nil, err
		}
		if existing, ok := hashes[key]; ok {
			if existing != fp {
				return nil, nil, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
			}
			continue
		}
		hashes[key] = fp
		entries[key] = Entry{Fingerprint: fp, Payload: payload}
	}
	return hashes, entries, nil
}
