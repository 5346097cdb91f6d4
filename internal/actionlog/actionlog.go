// Package actionlog keeps an append-only journal of every platform
// action the service performs, for audit and rate dispute purposes.
package actionlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketActions = []byte("actions")

// Entry records one attempted platform action
type Entry struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	SubAccountID string    `json:"sub_account_id"`
	TargetID     string    `json:"target_id,omitempty"`
	TaskID       string    `json:"task_id,omitempty"`
	Action       string    `json:"action"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Journal provides append-only action storage backed by BoltDB
type Journal struct {
	db *bolt.DB
}

// Open opens (creating if needed) the journal at path
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open action journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketActions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create actions bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one entry to the journal
func (j *Journal) Record(e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketActions)

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		return bucket.Put(makeIndexKey(e.At, e.ID), data)
	})
}

// ListFilter contains filters for listing journal entries
type ListFilter struct {
	TenantID     string
	SubAccountID string
	Action       string
	Limit        int
	Offset       int
}

// List returns entries matching the filter, newest first
func (j *Journal) List(filter ListFilter) ([]*Entry, error) {
	var entries []*Entry

	err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketActions)
		c := bucket.Cursor()

		skipped := 0
		count := 0

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}

			if filter.TenantID != "" && e.TenantID != filter.TenantID {
				continue
			}
			if filter.SubAccountID != "" && e.SubAccountID != filter.SubAccountID {
				continue
			}
			if filter.Action != "" && e.Action != filter.Action {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			entries = append(entries, &e)
			count++

			if filter.Limit > 0 && count >= filter.Limit {
				break
			}
		}
		return nil
	})

	return entries, err
}

// Prune removes entries older than the retention window. Returns the
// number removed.
func (j *Journal) Prune(olderThan time.Duration) (int, error) {
	var count int
	cutoff := time.Now().Add(-olderThan)

	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketActions)
		c := bucket.Cursor()

		var keysToDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				keysToDelete = append(keysToDelete, k)
				continue
			}
			if e.At.After(cutoff) {
				break
			}
			keysToDelete = append(keysToDelete, k)
		}

		for _, k := range keysToDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return count, err
}

func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano) + ":" + id)
}
