package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/foreman/pkg/types"
)

var bucketQueryTransitions = []byte("query_transitions")

// record is the JSON shape persisted for one query's last-known state.
type record struct {
	QueryID   string          `json:"query_id"`
	State     types.QueryState `json:"state"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// BoltStore implements foreman.PersistentStore on top of BoltDB: a single
// bucket holding one entry per query id, upserted on every transition.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "foreman.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQueryTransitions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// RecordTransition upserts the query's last-known state. A write failure
// here is always logged and suppressed by the caller (ForemanResult.close);
// it never changes the outcome visible to the client.
func (s *BoltStore) RecordTransition(ctx context.Context, queryID types.QueryId, state types.QueryState) error {
	rec := record{QueryID: queryID.String(), State: state, UpdatedAt: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal transition record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueryTransitions)
		return b.Put([]byte(rec.QueryID), data)
	})
}

// LastState returns the most recently recorded state for queryID, or
// (zero value, false) if nothing has been recorded. Used only by tests
// and operational inspection tooling; the Foreman itself never reads its
// own writes back.
func (s *BoltStore) LastState(queryID types.QueryId) (types.QueryState, bool, error) {
	var rec record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueryTransitions)
		data := b.Get([]byte(queryID.String()))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return "", false, err
	}
	return rec.State, found, nil
}
