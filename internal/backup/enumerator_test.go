package backup

import (
	"context"
	"errors"
	"testing"

	"github.com/guildvault/guildvault/internal/discord"
	"github.com/guildvault/guildvault/internal/progress"
	"github.com/guildvault/guildvault/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeRoster struct {
	guildName string
	members   []discord.Member
	err       error
}

func (r *fakeRoster) FetchGuildName(ctx context.Context, guildID string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.guildName, nil
}

func (r *fakeRoster) FetchMembers(ctx context.Context, guildID string) ([]discord.Member, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.members, nil
}

type fakeAuthorizer struct {
	authorized map[string]bool
	err        error
}

func (a *fakeAuthorizer) Authorized(ctx context.Context, userID string) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	return a.authorized[userID], nil
}

func newSnapshotStore(t *testing.T) *store.SnapshotStore {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return store.NewSnapshotStore(db)
}

func TestEnumeratorCapturesAuthorizedInRosterOrder(t *testing.T) {
	ctx := context.Background()
	roster := &fakeRoster{
		guildName: "Guild One",
		members: []discord.Member{
			{UserID: "1003", Username: "carol", Roles: []string{"r2"}},
			{UserID: "1001", Username: "alice", Roles: []string{"r1"}},
			{UserID: "1002", Username: "bob"},
		},
	}
	authorizer := &fakeAuthorizer{authorized: map[string]bool{"1003": true, "1002": true}}
	snapshots := newSnapshotStore(t)

	result, err := NewEnumerator(roster, authorizer, snapshots).Run(ctx, "g1", nil)
	require.NoError(t, err)
	require.Equal(t, 3, result.TotalMembers)
	require.Len(t, result.Snapshot.Members, 2)
	// Roster order, not sorted by id.
	require.Equal(t, "1003", result.Snapshot.Members[0].UserID)
	require.Equal(t, "1002", result.Snapshot.Members[1].UserID)
	require.Equal(t, "Guild One", result.Snapshot.GuildName)

	stored, err := snapshots.Get(ctx, result.Snapshot.ID)
	require.NoError(t, err)
	require.Len(t, stored.Members, 2)
}

func TestEnumeratorSkipsBots(t *testing.T) {
	ctx := context.Background()
	roster := &fakeRoster{
		members: []discord.Member{
			{UserID: "1001", Username: "alice"},
			{UserID: "2001", Username: "helper", Bot: true},
		},
	}
	// The bot holds a credential somehow; it is still excluded.
	authorizer := &fakeAuthorizer{authorized: map[string]bool{"1001": true, "2001": true}}

	result, err := NewEnumerator(roster, authorizer, newSnapshotStore(t)).Run(ctx, "g1", nil)
	require.NoError(t, err)
	require.Len(t, result.Snapshot.Members, 1)
	require.Equal(t, "1001", result.Snapshot.Members[0].UserID)
}

func TestEnumeratorRosterFailureLeavesNoSnapshot(t *testing.T) {
	ctx := context.Background()
	roster := &fakeRoster{err: discord.ErrRosterUnavailable}
	snapshots := newSnapshotStore(t)

	_, err := NewEnumerator(roster, &fakeAuthorizer{}, snapshots).Run(ctx, "g1", nil)
	require.ErrorIs(t, err, discord.ErrRosterUnavailable)

	_, err = snapshots.Latest(ctx, "g1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnumeratorAuthorizationFailureAborts(t *testing.T) {
	ctx := context.Background()
	roster := &fakeRoster{members: []discord.Member{{UserID: "1001"}}}
	authorizer := &fakeAuthorizer{err: errors.New("store closed")}
	snapshots := newSnapshotStore(t)

	_, err := NewEnumerator(roster, authorizer, snapshots).Run(ctx, "g1", nil)
	require.Error(t, err)

	_, err = snapshots.Latest(ctx, "g1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnumeratorCancellationLeavesNoSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	roster := &fakeRoster{members: []discord.Member{{UserID: "1001"}}}
	snapshots := newSnapshotStore(t)

	_, err := NewEnumerator(roster, &fakeAuthorizer{}, snapshots).Run(ctx, "g1", nil)
	require.ErrorIs(t, err, context.Canceled)

	_, err = snapshots.Latest(context.Background(), "g1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnumeratorReportsProgress(t *testing.T) {
	roster := &fakeRoster{
		members: []discord.Member{
			{UserID: "1001"},
			{UserID: "1002"},
		},
	}
	authorizer := &fakeAuthorizer{authorized: map[string]bool{"1001": true}}

	var updates []progress.Update
	sink := progress.SinkFunc(func(u progress.Update) { updates = append(updates, u) })

	_, err := NewEnumerator(roster, authorizer, newSnapshotStore(t)).Run(context.Background(), "g1", sink)
	require.NoError(t, err)

	// One update per member plus the terminal one.
	require.Len(t, updates, 3)
	require.Equal(t, 1, updates[0].Processed)
	require.Equal(t, 2, updates[0].Total)
	final := updates[len(updates)-1]
	require.True(t, final.Final)
	require.Equal(t, 1, final.Counters["authorized"])
}
