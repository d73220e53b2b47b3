// Package store provides durable persistence for the guildvault engine.
// All three collections (credentials, snapshots, auto-backup schedules)
// live in a single bbolt database with one bucket per collection plus
// ordering indexes for snapshot recency queries.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const databaseFile = "guildvault.db"

var (
	bucketCredentials   = []byte("credentials")
	bucketSnapshots     = []byte("snapshots")
	bucketSnapshotGuild = []byte("snapshot_guild_index")
	bucketSnapshotTime  = []byte("snapshot_time_index")
	bucketSchedules     = []byte("schedules")
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// DB wraps the shared bbolt database handle.
type DB struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database under dir and
// ensures all buckets exist.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: failed to create data dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, databaseFile), 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCredentials, bucketSnapshots, bucketSnapshotGuild, bucketSnapshotTime, bucketSchedules} {
			if _, errCreate := tx.CreateBucketIfNotExists(name); errCreate != nil {
				return errCreate
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: failed to create buckets: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error {
	return d.db.Close()
}
