package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotSaveAssignsIDAndTime(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshotStore(openTestDB(t))

	id, err := snaps.Save(ctx, &Snapshot{GuildID: "g1", GuildName: "Guild One"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := snaps.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "g1", got.GuildID)
	require.False(t, got.CreatedAt.IsZero())
}

func TestSnapshotGetNotFound(t *testing.T) {
	snaps := NewSnapshotStore(openTestDB(t))

	_, err := snaps.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotImmutableUnderLaterSaves(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshotStore(openTestDB(t))

	first := &Snapshot{
		GuildID:   "g1",
		GuildName: "Guild One",
		Members:   []MemberEntry{{UserID: "1001", Username: "alice", Roles: []string{"r1"}}},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	firstID, err := snaps.Save(ctx, first)
	require.NoError(t, err)

	second := &Snapshot{
		GuildID:   "g1",
		GuildName: "Guild One",
		Members:   []MemberEntry{{UserID: "1002", Username: "bob"}},
		CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	_, err = snaps.Save(ctx, second)
	require.NoError(t, err)

	got, err := snaps.Get(ctx, firstID)
	require.NoError(t, err)
	require.Len(t, got.Members, 1)
	require.Equal(t, "alice", got.Members[0].Username)
}

func TestSnapshotLatestReturnsNewest(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshotStore(openTestDB(t))

	_, err := snaps.Save(ctx, &Snapshot{
		GuildID:   "g1",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	newestID, err := snaps.Save(ctx, &Snapshot{
		GuildID:   "g1",
		CreatedAt: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	// Another guild's newer snapshot must not leak into g1's answer.
	_, err = snaps.Save(ctx, &Snapshot{
		GuildID:   "g2",
		CreatedAt: time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	latest, err := snaps.Latest(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, newestID, latest.ID)
}

func TestSnapshotLatestNotFound(t *testing.T) {
	snaps := NewSnapshotStore(openTestDB(t))

	_, err := snaps.Latest(context.Background(), "never-backed-up")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotListOrderedByRecency(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshotStore(openTestDB(t))

	var ids []string
	for day := 1; day <= 4; day++ {
		id, err := snaps.Save(ctx, &Snapshot{
			GuildID:   "g1",
			CreatedAt: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := snaps.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, ids[3], all[0].ID)
	require.Equal(t, ids[0], all[3].ID)

	page, err := snaps.List(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[2], page[0].ID)
	require.Equal(t, ids[1], page[1].ID)
}

func TestSnapshotCountByGuild(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshotStore(openTestDB(t))

	for day := 1; day <= 3; day++ {
		_, err := snaps.Save(ctx, &Snapshot{
			GuildID:   "g1",
			CreatedAt: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}
	_, err := snaps.Save(ctx, &Snapshot{GuildID: "g2"})
	require.NoError(t, err)

	count, err := snaps.CountByGuild(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	count, err = snaps.CountByGuild(ctx, "g3")
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
