package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// MemberEntry is one authorized member captured in a snapshot.
type MemberEntry struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// Snapshot is an immutable point-in-time capture of a guild's authorized
// membership. Members keep the roster order observed at backup time.
type Snapshot struct {
	ID        string        `json:"id"`
	GuildID   string        `json:"guild_id"`
	GuildName string        `json:"guild_name"`
	Members   []MemberEntry `json:"members"`
	CreatedAt time.Time     `json:"created_at"`
}

// SnapshotStore persists snapshots append-only. There is no update or
// delete operation; "latest for guild G" and "list by recency" are served
// from ordering indexes written in the same transaction as the snapshot.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore returns a snapshot store backed by db.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// recencyKey builds an index key that sorts newest-first under bbolt's
// ascending byte order by storing the inverted creation timestamp.
func recencyKey(prefix string, createdAt time.Time, id string) []byte {
	inverted := uint64(math.MaxInt64 - createdAt.UnixNano())
	return []byte(fmt.Sprintf("%s%020d|%s", prefix, inverted, id))
}

// Save assigns an id and creation time if unset and writes the snapshot
// together with its recency indexes in one transaction.
func (s *SnapshotStore) Save(ctx context.Context, snapshot *Snapshot) (string, error) {
	_ = ctx
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("snapshot store: %w", err)
	}
	err = s.db.db.Update(func(tx *bolt.Tx) error {
		if errPut := tx.Bucket(bucketSnapshots).Put([]byte(snapshot.ID), data); errPut != nil {
			return errPut
		}
		guildKey := recencyKey(snapshot.GuildID+"|", snapshot.CreatedAt, snapshot.ID)
		if errPut := tx.Bucket(bucketSnapshotGuild).Put(guildKey, []byte(snapshot.ID)); errPut != nil {
			return errPut
		}
		timeKey := recencyKey("", snapshot.CreatedAt, snapshot.ID)
		return tx.Bucket(bucketSnapshotTime).Put(timeKey, []byte(snapshot.ID))
	})
	if err != nil {
		return "", fmt.Errorf("snapshot store: %w", err)
	}
	return snapshot.ID, nil
}

// Get returns the snapshot with the given id, or ErrNotFound.
func (s *SnapshotStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	_ = ctx
	var snapshot *Snapshot
	err := s.db.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		snapshot = &Snapshot{}
		return json.Unmarshal(data, snapshot)
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	return snapshot, nil
}

// Latest returns the most recent snapshot for guildID, or ErrNotFound when
// the guild has never been backed up. The guild index sorts newest-first,
// so the first key under the guild prefix is the answer.
func (s *SnapshotStore) Latest(ctx context.Context, guildID string) (*Snapshot, error) {
	_ = ctx
	var snapshot *Snapshot
	prefix := []byte(guildID + "|")
	err := s.db.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshotGuild).Cursor()
		k, v := c.Seek(prefix)
		if k == nil || len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
			return ErrNotFound
		}
		data := tx.Bucket(bucketSnapshots).Get(v)
		if data == nil {
			return ErrNotFound
		}
		snapshot = &Snapshot{}
		return json.Unmarshal(data, snapshot)
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	return snapshot, nil
}

// List returns snapshots ordered by recency across all guilds.
func (s *SnapshotStore) List(ctx context.Context, limit, offset int) ([]*Snapshot, error) {
	_ = ctx
	snapshots := make([]*Snapshot, 0)
	err := s.db.db.View(func(tx *bolt.Tx) error {
		primary := tx.Bucket(bucketSnapshots)
		c := tx.Bucket(bucketSnapshotTime).Cursor()
		skipped := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if limit > 0 && len(snapshots) >= limit {
				break
			}
			data := primary.Get(v)
			if data == nil {
				continue
			}
			var snapshot Snapshot
			if errUnmarshal := json.Unmarshal(data, &snapshot); errUnmarshal != nil {
				continue
			}
			snapshots = append(snapshots, &snapshot)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	return snapshots, nil
}

// CountByGuild returns how many snapshots exist for guildID.
func (s *SnapshotStore) CountByGuild(ctx context.Context, guildID string) (int, error) {
	_ = ctx
	count := 0
	prefix := []byte(guildID + "|")
	err := s.db.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshotGuild).Cursor()
		for k, _ := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, _ = c.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("snapshot store: %w", err)
	}
	return count, nil
}
