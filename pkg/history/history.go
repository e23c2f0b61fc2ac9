// Package history persists the results of past /parse requests and makes
// them searchable. It mirrors the teacher codebase's bbolt-backed store:
// one bucket of records keyed by a sortable ULID, plus a schema-versioned
// meta bucket.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/danblack/recur/pkg/analyzer"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Bucket names.
var (
	bucketRecords = []byte("records")
	bucketMeta    = []byte("meta")
)

// Record is one completed /parse call, persisted for later retrieval and search.
type Record struct {
	ID        string               `json:"id"`
	Timestamp time.Time            `json:"timestamp"`
	InputHash string               `json:"inputHash"`
	Language  string               `json:"language"`
	Result    analyzer.ParseResult `json:"result"`
}

// Store persists Records in bbolt and indexes them in bleve for search.
type Store struct {
	db     *bolt.DB
	search *searchIndex
}

// Open creates or opens a history store rooted at dir. dir is created if it
// does not exist; the bbolt database lives at dir/history.db and the bleve
// index at dir/history.bleve.
func Open(dir string) (*Store, error) {
	db, err := openBolt(dir)
	if err != nil {
		return nil, err
	}

	idx, err := openSearchIndex(dir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening search index: %w", err)
	}

	return &Store{db: db, search: idx}, nil
}

// Close closes the underlying database and search index.
func (s *Store) Close() error {
	searchErr := s.search.Close()
	dbErr := s.db.Close()
	if dbErr != nil {
		return dbErr
	}
	return searchErr
}

// HashInput returns the content hash used to dedupe/identify Record inputs.
func HashInput(language string, code []byte) string {
	h := sha256.New()
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write(code)
	return hex.EncodeToString(h.Sum(nil))
}

// Record stores a completed parse result and indexes it for search.
// Returns the newly assigned record ID.
func (s *Store) Record(language string, code []byte, result analyzer.ParseResult) (string, error) {
	rec := Record{
		ID:        ulid.Make().String(),
		Timestamp: time.Now(),
		InputHash: HashInput(language, code),
		Language:  language,
		Result:    result,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshaling record: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		return b.Put([]byte(rec.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("writing record: %w", err)
	}

	if err := s.search.index(rec); err != nil {
		historyLog.Printf("indexing record %s: %v", rec.ID, err)
	}

	return rec.ID, nil
}

// Get returns a single record by ID.
func (s *Store) Get(id string) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns the most recent records, newest first, up to limit.
func (s *Store) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Search performs a full-text search over indexed function names,
// recurrence models and language, returning matching records in search
// relevance order.
func (s *Store) Search(query string, limit int) ([]Record, error) {
	ids, err := s.search.search(query, limit)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(ids))
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}
