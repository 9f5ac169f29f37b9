package checkpoint

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/stevedore-io/stevedore/pkg/types"
)

var bucketRuns = []byte("runs")

// BoltWriter implements Writer using BoltDB
type BoltWriter struct {
	db *bolt.DB
}

// NewBoltWriter opens (or creates) the checkpoint database under dataDir
func NewBoltWriter(dataDir string) (*BoltWriter, error) {
	dbPath := filepath.Join(dataDir, "stevedore.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create runs bucket: %w", err)
	}

	return &BoltWriter{db: db}, nil
}

// Close closes the database
func (w *BoltWriter) Close() error {
	return w.db.Close()
}

// CheckpointRun durably records a container's runtime identity
func (w *BoltWriter) CheckpointRun(rec *types.RunRecord) error {
	return w.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ContainerID), data)
	})
}

// RemoveRun deletes a container's run record
func (w *BoltWriter) RemoveRun(id types.ContainerID) error {
	return w.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.Delete([]byte(id))
	})
}

// Runs returns all persisted run records
func (w *BoltWriter) Runs() ([]*types.RunRecord, error) {
	var runs []*types.RunRecord
	err := w.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var rec types.RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			runs = append(runs, &rec)
			return nil
		})
	})
	return runs, err
}
