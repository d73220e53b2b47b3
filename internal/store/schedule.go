package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Interval is the recurrence of an auto-backup schedule.
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
)

// Valid reports whether the interval is one of the supported values.
func (i Interval) Valid() bool {
	switch i {
	case IntervalDaily, IntervalWeekly, IntervalMonthly:
		return true
	}
	return false
}

// Schedule is the persisted auto-backup setting for one guild. The
// in-process recurring trigger is re-derived from this record on startup;
// LastRun and NextRun are reporting fields, not the job's source of truth.
type Schedule struct {
	GuildID   string     `json:"guild_id"`
	Enabled   bool       `json:"enabled"`
	Interval  Interval   `json:"interval"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ScheduleStore persists at most one Schedule per guild id.
type ScheduleStore struct {
	db *DB
}

// NewScheduleStore returns a schedule store backed by db.
func NewScheduleStore(db *DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// Save upserts the schedule for schedule.GuildID, preserving CreatedAt of
// an existing record.
func (s *ScheduleStore) Save(ctx context.Context, schedule *Schedule) error {
	_ = ctx
	now := time.Now().UTC()
	err := s.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		if existing := b.Get([]byte(schedule.GuildID)); existing != nil {
			var prev Schedule
			if errUnmarshal := json.Unmarshal(existing, &prev); errUnmarshal == nil && !prev.CreatedAt.IsZero() {
				schedule.CreatedAt = prev.CreatedAt
			}
		}
		if schedule.CreatedAt.IsZero() {
			schedule.CreatedAt = now
		}
		schedule.UpdatedAt = now
		data, errMarshal := json.Marshal(schedule)
		if errMarshal != nil {
			return errMarshal
		}
		return b.Put([]byte(schedule.GuildID), data)
	})
	if err != nil {
		return fmt.Errorf("schedule store: %w", err)
	}
	return nil
}

// Get returns the schedule for guildID, or ErrNotFound.
func (s *ScheduleStore) Get(ctx context.Context, guildID string) (*Schedule, error) {
	_ = ctx
	var schedule *Schedule
	err := s.db.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSchedules).Get([]byte(guildID))
		if data == nil {
			return ErrNotFound
		}
		schedule = &Schedule{}
		return json.Unmarshal(data, schedule)
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("schedule store: %w", err)
	}
	return schedule, nil
}

// ListEnabled returns all schedules with the enabled flag set. Used at
// startup to re-install recurring triggers.
func (s *ScheduleStore) ListEnabled(ctx context.Context) ([]*Schedule, error) {
	_ = ctx
	schedules := make([]*Schedule, 0)
	err := s.db.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(k, v []byte) error {
			var schedule Schedule
			if errUnmarshal := json.Unmarshal(v, &schedule); errUnmarshal != nil {
				return nil
			}
			if schedule.Enabled {
				schedules = append(schedules, &schedule)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("schedule store: %w", err)
	}
	return schedules, nil
}
