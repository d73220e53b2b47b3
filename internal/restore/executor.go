// Package restore implements the restore executor: it replays a
// membership snapshot onto a target guild through the external
// membership-grant API.
package restore

import (
	"context"
	"errors"
	"time"

	"github.com/guildvault/guildvault/internal/discord"
	"github.com/guildvault/guildvault/internal/progress"
	"github.com/guildvault/guildvault/internal/store"
	"github.com/guildvault/guildvault/internal/token"
	log "github.com/sirupsen/logrus"
)

// Granter issues a single membership grant. alreadyMember reports the
// benign duplicate case, which counts as granted.
type Granter interface {
	AddMember(ctx context.Context, guildID, userID, accessToken string) (alreadyMember bool, err error)
}

// TokenSource yields a live access token for a user, refreshing if needed.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
}

// Options tune a single restore invocation.
type Options struct {
	// Limit caps the number of snapshot entries processed. Zero means all.
	Limit int

	// RequireLiveAuthorization skips entries whose token cannot be
	// produced (missing or unrefreshable) instead of attempting the grant.
	RequireLiveAuthorization bool
}

// EntryError records the failure detail of one snapshot entry.
type EntryError struct {
	UserID string `json:"user_id"`
	Detail string `json:"detail"`
}

// Tally is the terminal outcome of a restore invocation. It is ephemeral:
// reported to the caller and logged, never persisted.
type Tally struct {
	SnapshotID        string       `json:"snapshot_id"`
	SourceGuildID     string       `json:"source_guild_id"`
	SourceGuildName   string       `json:"source_guild_name"`
	SnapshotCreatedAt time.Time    `json:"snapshot_created_at"`
	TargetGuildID     string       `json:"target_guild_id"`
	TotalInSnapshot   int          `json:"total_in_snapshot"`
	Processed         int          `json:"processed"`
	Granted           int          `json:"granted"`
	Denied            int          `json:"denied"`
	Errors            int          `json:"errors"`
	Skipped           int          `json:"skipped"`
	ProcessedUserIDs  []string     `json:"processed_user_ids"`
	EntryErrors       []EntryError `json:"entry_errors,omitempty"`
}

// Executor replays snapshots. Grants are issued strictly one at a time:
// the grant route enforces a per-guild budget, and sequential pacing with
// inline outcome recording keeps the failure accounting simple. A restore
// holds no lock, so backups and restores of other guilds run concurrently.
type Executor struct {
	granter Granter
	tokens  TokenSource
}

// NewExecutor wires an executor from its collaborators.
func NewExecutor(granter Granter, tokens TokenSource) *Executor {
	return &Executor{granter: granter, tokens: tokens}
}

// Run replays snapshot onto targetGuildID and returns the tally. A single
// entry failure never aborts the batch; only caller cancellation stops
// iteration early, returning the outcomes recorded so far alongside the
// context error.
func (e *Executor) Run(ctx context.Context, snapshot *store.Snapshot, targetGuildID string, opts Options, sink progress.Sink) (*Tally, error) {
	entries := snapshot.Members
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}

	tally := &Tally{
		SnapshotID:        snapshot.ID,
		SourceGuildID:     snapshot.GuildID,
		SourceGuildName:   snapshot.GuildName,
		SnapshotCreatedAt: snapshot.CreatedAt,
		TargetGuildID:     targetGuildID,
		TotalInSnapshot:   len(snapshot.Members),
		ProcessedUserIDs:  make([]string, 0, len(entries)),
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return tally, err
		}

		accessToken := ""
		if opts.RequireLiveAuthorization {
			liveToken, err := e.tokens.GetValidAccessToken(ctx, entry.UserID)
			if err != nil {
				var refreshErr *token.RefreshError
				if errors.Is(err, token.ErrCredentialNotFound) || errors.As(err, &refreshErr) {
					tally.Skipped++
					tally.Processed++
					tally.ProcessedUserIDs = append(tally.ProcessedUserIDs, entry.UserID)
					e.report(sink, tally, len(entries), false)
					continue
				}
				// Store failures are fatal to the whole operation.
				return tally, err
			}
			accessToken = liveToken
		}

		alreadyMember, err := e.granter.AddMember(ctx, targetGuildID, entry.UserID, accessToken)
		switch {
		case err == nil:
			// The benign "already a member" answer merges into granted.
			_ = alreadyMember
			tally.Granted++
		default:
			var grantErr *discord.GrantError
			if errors.As(err, &grantErr) && grantErr.StatusCode >= 400 && grantErr.StatusCode < 500 {
				tally.Denied++
			} else {
				tally.Errors++
			}
			tally.EntryErrors = append(tally.EntryErrors, EntryError{UserID: entry.UserID, Detail: err.Error()})
			log.Warnf("restore: grant failed for user %s on guild %s: %v", entry.UserID, targetGuildID, err)
		}
		tally.Processed++
		tally.ProcessedUserIDs = append(tally.ProcessedUserIDs, entry.UserID)
		e.report(sink, tally, len(entries), false)
	}

	e.report(sink, tally, len(entries), true)
	log.Infof("restore completed onto guild %s from snapshot %s: granted %d, denied %d, errors %d, skipped %d (%d/%d entries)",
		targetGuildID, snapshot.ID, tally.Granted, tally.Denied, tally.Errors, tally.Skipped, tally.Processed, tally.TotalInSnapshot)
	return tally, nil
}

func (e *Executor) report(sink progress.Sink, tally *Tally, total int, final bool) {
	if sink == nil {
		return
	}
	sink.Report(progress.Update{
		Processed: tally.Processed,
		Total:     total,
		Counters: map[string]int{
			"granted": tally.Granted,
			"denied":  tally.Denied,
			"errors":  tally.Errors,
			"skipped": tally.Skipped,
		},
		Final: final,
	})
}
