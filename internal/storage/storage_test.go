package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	episode := EpisodeSummary{
		ID:       "episode-1",
		ActorID:  "actor-1",
		Steps:    57,
		Reward:   5703,
		Survived: true,
		EndedAt:  time.Now(),
	}
	require.NoError(t, store.SaveEpisode(ctx, episode))

	got, err := store.GetEpisode(ctx, "episode-1")
	require.NoError(t, err)
	assert.Equal(t, episode, got)

	assert.ErrorIs(t, store.SaveEpisode(ctx, episode), ErrConflict)

	_, err = store.GetEpisode(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListEpisodes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		actor := "actor-1"
		if i%2 == 1 {
			actor = "actor-2"
		}
		require.NoError(t, store.SaveEpisode(ctx, EpisodeSummary{
			ID:      fmt.Sprintf("episode-%d", i),
			ActorID: actor,
			EndedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := store.ListEpisodes(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "episode-4", all[0].ID)
	assert.Equal(t, "episode-0", all[4].ID)

	actor2, err := store.ListEpisodes(ctx, "actor-2", 0)
	require.NoError(t, err)
	require.Len(t, actor2, 2)
	assert.Equal(t, "episode-3", actor2[0].ID)

	limited, err := store.ListEpisodes(ctx, "actor-1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "episode-4", limited[0].ID)
	assert.Equal(t, "episode-2", limited[1].ID)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(fmt.Errorf("boom")))
}
