package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agilitytrack/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDog(id core.DogID, name string) core.Dog {
	return core.Dog{
		ID:      id,
		Name:    name,
		Classes: []core.ClassLevel{{Class: core.ClassStandard, Level: core.LevelNovice}},
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestStore_DogLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateDog(ctx, testDog("b", "Zed")))
	require.NoError(t, s.CreateDog(ctx, testDog("a", "Ace")))
	assert.ErrorIs(t, s.CreateDog(ctx, testDog("a", "Ace")), core.ErrDuplicateDog)

	dogs, err := s.ListDogs(ctx)
	require.NoError(t, err)
	require.Len(t, dogs, 2)
	assert.Equal(t, "Ace", dogs[0].Name)

	require.NoError(t, s.DeleteDog(ctx, "a"))
	_, err = s.GetDog(ctx, "a")
	assert.ErrorIs(t, err, core.ErrDogNotFound)
	assert.ErrorIs(t, s.DeleteDog(ctx, "a"), core.ErrDogNotFound)
}

func TestStore_RunsAndCounting(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreateDog(ctx, testDog("rex", "Rex")))

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var last core.Run
	for i, id := range []core.RunID{"z", "m", "a"} {
		r, err := s.AddRun(ctx, core.Run{ID: id, DogID: "rex", Date: day, Class: core.ClassStandard, Level: core.LevelNovice, Qualified: i != 1})
		require.NoError(t, err)
		assert.Greater(t, r.Seq, last.Seq)
		last = r
	}

	runs, err := s.GetRunsForDog(ctx, "rex")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []core.RunID{"z", "m", "a"}, []core.RunID{runs[0].ID, runs[1].ID, runs[2].ID})

	n, err := s.CountQualifyingRuns(ctx, "rex", core.ClassStandard, core.LevelNovice)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	m := runs[1]
	m.Qualified = true
	require.NoError(t, s.UpdateRun(ctx, m))
	got, err := s.GetRun(ctx, "rex", "m")
	require.NoError(t, err)
	assert.True(t, got.Qualified)
	assert.Equal(t, runs[1].Seq, got.Seq)

	require.NoError(t, s.DeleteRun(ctx, "rex", "z"))
	assert.ErrorIs(t, s.DeleteRun(ctx, "rex", "z"), core.ErrRunNotFound)

	_, err = s.AddRun(ctx, core.Run{ID: "x", DogID: "ghost"})
	assert.ErrorIs(t, err, core.ErrDogNotFound)
}

func TestStore_SetClassLevels(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreateDog(ctx, testDog("rex", "Rex")))

	require.NoError(t, s.SetClassLevels(ctx, "rex", []core.ClassLevel{
		{Class: core.ClassStandard, Level: core.LevelExcellent},
		{Class: core.ClassFAST, Level: core.LevelNovice},
	}))
	dog, err := s.GetDog(ctx, "rex")
	require.NoError(t, err)
	assert.Equal(t, []core.ClassLevel{
		{Class: core.ClassStandard, Level: core.LevelExcellent},
		{Class: core.ClassFAST, Level: core.LevelNovice},
	}, dog.Classes)

	assert.ErrorIs(t, s.SetClassLevels(ctx, "ghost", nil), core.ErrDogNotFound)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false
	cfg.GCInterval = 0

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.CreateDog(ctx, testDog("rex", "Rex")))
	first, err := s.AddRun(ctx, core.Run{ID: "r1", DogID: "rex", Class: core.ClassStandard, Level: core.LevelNovice})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	dog, err := s.GetDog(ctx, "rex")
	require.NoError(t, err)
	assert.Equal(t, "Rex", dog.Name)
	next, err := s.AddRun(ctx, core.Run{ID: "r2", DogID: "rex", Class: core.ClassStandard, Level: core.LevelNovice})
	require.NoError(t, err)
	assert.Greater(t, next.Seq, first.Seq)
}
