// Package scheduler installs per-guild recurring backup triggers. The
// persisted Auto-Backup Setting is the durable record; the in-process cron
// entry is re-derived from it on startup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guildvault/guildvault/internal/backup"
	"github.com/guildvault/guildvault/internal/progress"
	"github.com/guildvault/guildvault/internal/store"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Runner executes one backup for a guild.
type Runner interface {
	Run(ctx context.Context, guildID string, sink progress.Sink) (*backup.Result, error)
}

// Scheduler owns the process-wide map of active recurring jobs. The map is
// populated by Restore at startup and mutated only through Start and Stop.
type Scheduler struct {
	cron      *cron.Cron
	schedules *store.ScheduleStore
	runner    Runner

	mu   sync.Mutex
	jobs map[string]cron.EntryID

	// now is a hook for tests; defaults to time.Now.
	now func() time.Time
}

// New builds a scheduler over the schedule store and backup runner.
func New(schedules *store.ScheduleStore, runner Runner) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		schedules: schedules,
		runner:    runner,
		jobs:      make(map[string]cron.EntryID),
		now:       time.Now,
	}
}

// cronSpec maps an interval to its trigger expression: midnight daily,
// Monday midnight weekly, first-of-month midnight monthly.
func cronSpec(interval store.Interval) string {
	switch interval {
	case store.IntervalWeekly:
		return "0 0 * * 1"
	case store.IntervalMonthly:
		return "0 0 1 * *"
	default:
		return "0 0 * * *"
	}
}

// NextRun computes the deterministic next trigger instant for interval
// relative to now, in now's location: the next midnight, the upcoming
// Monday midnight, or the first of the next month at midnight.
func NextRun(interval store.Interval, now time.Time) time.Time {
	year, month, day := now.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	switch interval {
	case store.IntervalWeekly:
		days := (int(time.Monday) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return midnight.AddDate(0, 0, days)
	case store.IntervalMonthly:
		return time.Date(year, month, 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
	default:
		return midnight.AddDate(0, 0, 1)
	}
}

// Start enables recurring backups for guildID at the given interval,
// persisting the setting and installing the trigger. Starting an already
// scheduled guild replaces the prior trigger; there is never more than one
// job per guild.
func (s *Scheduler) Start(ctx context.Context, guildID string, interval store.Interval) (*store.Schedule, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("scheduler: invalid interval %q", interval)
	}

	nextRun := NextRun(interval, s.now())
	schedule := &store.Schedule{
		GuildID:  guildID,
		Enabled:  true,
		Interval: interval,
		NextRun:  &nextRun,
	}
	if existing, err := s.schedules.Get(ctx, guildID); err == nil {
		schedule.LastRun = existing.LastRun
		schedule.CreatedAt = existing.CreatedAt
	}
	if err := s.schedules.Save(ctx, schedule); err != nil {
		return nil, err
	}
	if err := s.install(guildID, interval); err != nil {
		return nil, err
	}
	log.Infof("auto-backup started for guild %s (%s), next run %s", guildID, interval, nextRun.Format(time.RFC3339))
	return schedule, nil
}

// Stop disables recurring backups for guildID. Stopping an unscheduled
// guild is a no-op; a store failure aborts before the in-process trigger
// is touched, so the persisted setting and the job never diverge.
func (s *Scheduler) Stop(ctx context.Context, guildID string) error {
	schedule, err := s.schedules.Get(ctx, guildID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Nothing persisted; removing a leftover trigger below is enough.
	case err != nil:
		return err
	case schedule.Enabled:
		schedule.Enabled = false
		schedule.NextRun = nil
		if err = s.schedules.Save(ctx, schedule); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if entryID, ok := s.jobs[guildID]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, guildID)
	}
	s.mu.Unlock()
	log.Infof("auto-backup stopped for guild %s", guildID)
	return nil
}

// Restore re-installs triggers for every enabled persisted schedule. Call
// once at startup before the scheduler is used.
func (s *Scheduler) Restore(ctx context.Context) error {
	schedules, err := s.schedules.ListEnabled(ctx)
	if err != nil {
		return err
	}
	for _, schedule := range schedules {
		nextRun := NextRun(schedule.Interval, s.now())
		schedule.NextRun = &nextRun
		if err = s.schedules.Save(ctx, schedule); err != nil {
			return err
		}
		if err = s.install(schedule.GuildID, schedule.Interval); err != nil {
			return err
		}
		log.Infof("auto-backup restored for guild %s (%s)", schedule.GuildID, schedule.Interval)
	}
	return nil
}

// Run starts the cron loop in its own goroutine.
func (s *Scheduler) Run() {
	s.cron.Start()
}

// Shutdown stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Shutdown() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) install(guildID string, interval store.Interval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.jobs[guildID]; ok {
		s.cron.Remove(entryID)
	}
	entryID, err := s.cron.AddFunc(cronSpec(interval), func() {
		s.fire(guildID)
	})
	if err != nil {
		return fmt.Errorf("scheduler: failed to install trigger: %w", err)
	}
	s.jobs[guildID] = entryID
	return nil
}

// fire runs one scheduled backup. A failed run is logged and the trigger
// stays installed; the next tick fires regardless.
func (s *Scheduler) fire(guildID string) {
	ctx := context.Background()
	if _, err := s.runner.Run(ctx, guildID, nil); err != nil {
		log.Errorf("scheduled backup failed for guild %s: %v", guildID, err)
		return
	}

	schedule, err := s.schedules.Get(ctx, guildID)
	if err != nil {
		log.Errorf("failed to load schedule for guild %s after backup: %v", guildID, err)
		return
	}
	lastRun := s.now()
	nextRun := NextRun(schedule.Interval, lastRun)
	schedule.LastRun = &lastRun
	schedule.NextRun = &nextRun
	if err = s.schedules.Save(ctx, schedule); err != nil {
		log.Errorf("failed to persist schedule for guild %s: %v", guildID, err)
	}
}
