package leaderboard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agilitytrack/core"
)

func TestSkipListBasic(t *testing.T) {
	s := NewSkipList()
	s.Update("a", "Ace", 10)
	s.Update("b", "Bolt", 20)
	s.Update("c", "Cricket", 15)
	top := s.TopN(3)
	if len(top) != 3 || top[0].Dog != "b" || top[1].Dog != "c" || top[2].Dog != "a" {
		t.Fatalf("unexpected order: %#v", top)
	}
	s.Update("a", "Ace", 25)
	top = s.TopN(1)
	if top[0].Dog != "a" {
		t.Fatalf("top should be a, got %#v", top)
	}
}

func TestSkipListTiesRankByID(t *testing.T) {
	s := NewSkipList()
	s.Update("zed", "Zed", 100)
	s.Update("abe", "Abe", 100)
	s.Update("moe", "Moe", 50)

	rank, ok := s.Rank("abe")
	require.True(t, ok)
	assert.Equal(t, 1, rank)
	rank, _ = s.Rank("zed")
	assert.Equal(t, 2, rank)

	s.Remove("abe")
	_, ok = s.Get("abe")
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
	rank, _ = s.Rank("moe")
	assert.Equal(t, 2, rank)
}

func TestSkipListRenameKeepsPosition(t *testing.T) {
	s := NewSkipList()
	s.Update("rex", "Rex", 40)
	s.Update("rex", "Rex II", 40)
	e, ok := s.Get("rex")
	require.True(t, ok)
	assert.Equal(t, "Rex II", e.Name)
	assert.Equal(t, 1, s.Len())
}

func TestTrackerRefreshesFromEvents(t *testing.T) {
	scores := map[core.DogID]int64{"rex": 120, "bo": 300}
	score := func(_ context.Context, dog core.DogID) (string, int64, bool, error) {
		if dog == "broken" {
			return "", 0, false, errors.New("boom")
		}
		v, ok := scores[dog]
		return string(dog), v, ok, nil
	}
	board := NewSkipList()
	tr := NewTracker(board, score, nil)

	tr.OnEvent(context.Background(), core.NewRunDeleted("rex", "r1"))
	tr.OnEvent(context.Background(), core.NewRunDeleted("bo", "r2"))
	tr.OnEvent(context.Background(), core.NewRunDeleted("broken", "r3"))
	top := board.TopN(10)
	require.Len(t, top, 2)
	assert.Equal(t, core.DogID("bo"), top[0].Dog)

	delete(scores, "bo")
	require.NoError(t, tr.Refresh(context.Background(), "bo"))
	assert.Equal(t, 1, board.Len())
}
