package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guildvault/guildvault/internal/backup"
	"github.com/guildvault/guildvault/internal/config"
	"github.com/guildvault/guildvault/internal/discord"
	"github.com/guildvault/guildvault/internal/progress"
	"github.com/guildvault/guildvault/internal/restore"
	"github.com/guildvault/guildvault/internal/scheduler"
	"github.com/guildvault/guildvault/internal/store"
	"golang.org/x/oauth2"
)

// Handlers carries the engine components the HTTP surface drives.
type Handlers struct {
	cfg         *config.Config
	credentials *store.CredentialStore
	snapshots   *store.SnapshotStore
	schedules   *store.ScheduleStore
	enumerator  *backup.Enumerator
	executor    *restore.Executor
	scheduler   *scheduler.Scheduler
	oauth       *oauth2.Config
	provider    *discord.ProviderClient
}

// NewHandlers wires the handler set.
func NewHandlers(cfg *config.Config, credentials *store.CredentialStore, snapshots *store.SnapshotStore,
	schedules *store.ScheduleStore, enumerator *backup.Enumerator, executor *restore.Executor,
	sched *scheduler.Scheduler, oauthCfg *oauth2.Config, provider *discord.ProviderClient) *Handlers {
	return &Handlers{
		cfg:         cfg,
		credentials: credentials,
		snapshots:   snapshots,
		schedules:   schedules,
		enumerator:  enumerator,
		executor:    executor,
		scheduler:   sched,
		oauth:       oauthCfg,
		provider:    provider,
	}
}

// sink builds the throttled log-backed progress sink for an operation.
func (h *Handlers) sink(operation string) progress.Sink {
	return progress.NewThrottled(&progress.LogSink{Operation: operation}, h.cfg.ProgressInterval())
}

// RunBackup snapshots the authorized membership of a guild right now.
func (h *Handlers) RunBackup(c *gin.Context) {
	guildID := c.Param("id")
	previous, err := h.snapshots.CountByGuild(c.Request.Context(), guildID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result, err := h.enumerator.Run(c.Request.Context(), guildID, h.sink("backup"))
	if err != nil {
		if errors.Is(err, discord.ErrRosterUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"snapshot_id":        result.Snapshot.ID,
		"guild_id":           result.Snapshot.GuildID,
		"guild_name":         result.Snapshot.GuildName,
		"authorized":         len(result.Snapshot.Members),
		"total_members":      result.TotalMembers,
		"previous_snapshots": previous,
		"created_at":         result.Snapshot.CreatedAt,
	})
}

// LatestSnapshot returns the most recent snapshot for a guild.
func (h *Handlers) LatestSnapshot(c *gin.Context) {
	snapshot, err := h.snapshots.Latest(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for guild"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// ListSnapshots returns snapshots ordered by recency.
func (h *Handlers) ListSnapshots(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	snapshots, err := h.snapshots.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	summaries := make([]gin.H, 0, len(snapshots))
	for _, snapshot := range snapshots {
		summaries = append(summaries, gin.H{
			"id":         snapshot.ID,
			"guild_id":   snapshot.GuildID,
			"guild_name": snapshot.GuildName,
			"members":    len(snapshot.Members),
			"created_at": snapshot.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": summaries})
}

// GetSnapshot returns one snapshot in full.
func (h *Handlers) GetSnapshot(c *gin.Context) {
	snapshot, err := h.snapshots.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// restoreRequest selects the snapshot to replay and tunes the run.
type restoreRequest struct {
	SnapshotID           string `json:"snapshot_id"`
	SourceGuildID        string `json:"source_guild_id"`
	Limit                int    `json:"limit"`
	RequireAuthorization bool   `json:"require_authorization"`
}

// RunRestore replays a snapshot onto the target guild in the URL.
func (h *Handlers) RunRestore(c *gin.Context) {
	targetGuildID := c.Param("id")
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if req.SnapshotID == "" && req.SourceGuildID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "snapshot_id or source_guild_id is required"})
		return
	}

	var snapshot *store.Snapshot
	var err error
	if req.SnapshotID != "" {
		snapshot, err = h.snapshots.Get(c.Request.Context(), req.SnapshotID)
	} else {
		snapshot, err = h.snapshots.Latest(c.Request.Context(), req.SourceGuildID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot found for restore source"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	opts := restore.Options{Limit: req.Limit, RequireLiveAuthorization: req.RequireAuthorization}
	if opts.Limit == 0 {
		opts.Limit = h.cfg.RestoreLimitPerRun()
	}
	tally, err := h.executor.Run(c.Request.Context(), snapshot, targetGuildID, opts, h.sink("restore"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "tally": tally})
		return
	}
	c.JSON(http.StatusOK, tally)
}

// scheduleRequest starts auto-backup at the given cadence.
type scheduleRequest struct {
	Interval store.Interval `json:"interval"`
}

// GetSchedule reports the auto-backup status of a guild.
func (h *Handlers) GetSchedule(c *gin.Context) {
	guildID := c.Param("id")
	schedule, err := h.schedules.Get(c.Request.Context(), guildID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no schedule for guild"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	count, err := h.snapshots.CountByGuild(c.Request.Context(), guildID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedule": schedule, "snapshots": count})
}

// PutSchedule starts (or replaces) the auto-backup schedule of a guild.
func (h *Handlers) PutSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if !req.Interval.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval must be daily, weekly or monthly"})
		return
	}
	schedule, err := h.scheduler.Start(c.Request.Context(), c.Param("id"), req.Interval)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, schedule)
}

// DeleteSchedule stops the auto-backup schedule of a guild. Idempotent.
func (h *Handlers) DeleteSchedule(c *gin.Context) {
	if err := h.scheduler.Stop(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// ListUsers returns every authorized user without token secrets.
func (h *Handlers) ListUsers(c *gin.Context) {
	credentials, err := h.credentials.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	users := make([]gin.H, 0, len(credentials))
	for _, cred := range credentials {
		users = append(users, gin.H{
			"user_id":    cred.UserID,
			"username":   cred.Username,
			"expires_at": cred.ExpiresAt.Format(time.RFC3339),
			"scopes":     cred.Scopes,
			"created_at": cred.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
