package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "agilitytrack/adapters/memory"
	"agilitytrack/core"
)

var _ Storage = (*mem.Store)(nil)

func newService(t *testing.T, store Storage, opts ...Option) *TrackerService {
	t.Helper()
	svc := NewTrackerService(store, NewEventBus(DispatchSync), opts...)
	t.Cleanup(svc.Close)
	return svc
}

func runIn(class core.Class, level core.Level, d int, q bool) RunInput {
	return RunInput{Date: day(d), Class: class, Level: level, Qualified: q}
}

func TestRecordRunLevelUp(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, mem.New())

	levelUps := 0
	svc.Subscribe(core.EventLevelUp, func(ctx context.Context, e core.Event) { levelUps++ })

	dog, err := svc.CreateDog(ctx, NewDog{Name: " Rex ", Classes: []core.Class{core.ClassStandard}})
	require.NoError(t, err)
	assert.Equal(t, "Rex", dog.Name)
	assert.Equal(t, []core.ClassLevel{{Class: core.ClassStandard, Level: core.LevelNovice}}, dog.Classes)

	for d := 1; d <= 2; d++ {
		res, err := svc.RecordRun(ctx, dog.ID, runIn(core.ClassStandard, core.LevelNovice, d, true))
		require.NoError(t, err)
		assert.Nil(t, res.LevelUp)
	}
	res, err := svc.RecordRun(ctx, dog.ID, runIn(core.ClassStandard, core.LevelNovice, 3, true))
	require.NoError(t, err)
	require.NotNil(t, res.LevelUp)
	assert.Equal(t, "Rex", res.LevelUp.DogName)
	assert.Equal(t, core.LevelOpen, res.LevelUp.ToLevel)
	assert.Equal(t, 1, levelUps)

	// a fourth Novice Q neither advances nor counts toward Open
	res, err = svc.RecordRun(ctx, dog.ID, runIn(core.ClassStandard, core.LevelNovice, 4, true))
	require.NoError(t, err)
	assert.Nil(t, res.LevelUp)

	p, err := svc.Progress(ctx, dog.ID)
	require.NoError(t, err)
	require.Len(t, p.Levels, 1)
	assert.Equal(t, core.LevelOpen, p.Levels[0].CurrentLevel)
	assert.Equal(t, 0, p.Levels[0].QualifyingRunsAtCurrentLevel)
}

func TestCreateDogDefaultsAndValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, mem.New())

	dog, err := svc.CreateDog(ctx, NewDog{ID: "rex", Name: "Rex"})
	require.NoError(t, err)
	assert.Len(t, dog.Classes, len(core.AllClasses()))
	lvl, _ := dog.LevelFor(core.ClassPremierStandard)
	assert.Equal(t, core.LevelOpen, lvl)

	_, err = svc.CreateDog(ctx, NewDog{Name: "  "})
	assert.ErrorIs(t, err, core.ErrInvalidDog)

	_, err = svc.CreateDog(ctx, NewDog{ID: "rex", Name: "Again"})
	assert.ErrorIs(t, err, core.ErrDuplicateDog)

	_, err = svc.CreateDog(ctx, NewDog{Name: "Odd", Classes: []core.Class{"snooker"}})
	assert.ErrorIs(t, err, core.ErrNoRules)
}

func TestRecordRunValidationAndMissingDog(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, mem.New())

	_, err := svc.RecordRun(ctx, "ghost", runIn(core.ClassStandard, core.LevelNovice, 1, true))
	assert.True(t, IsNotFound(err))

	dog, _ := svc.CreateDog(ctx, NewDog{Name: "Rex", Classes: []core.Class{core.ClassStandard}})
	_, err = svc.RecordRun(ctx, dog.ID, RunInput{Class: core.ClassStandard, Level: core.LevelNovice})
	assert.ErrorIs(t, err, core.ErrInvalidRun)
}

func TestRecordRunEntersMissingClass(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, mem.New())
	dog, _ := svc.CreateDog(ctx, NewDog{Name: "Rex", Classes: []core.Class{core.ClassStandard}})

	_, err := svc.RecordRun(ctx, dog.ID, runIn(core.ClassFAST, core.LevelNovice, 1, false))
	require.NoError(t, err)
	got, _ := svc.GetDog(ctx, dog.ID)
	lvl, ok := got.LevelFor(core.ClassFAST)
	assert.True(t, ok)
	assert.Equal(t, core.LevelNovice, lvl)
}

type flakyStore struct {
	*mem.Store
	countErr error
}

func (f *flakyStore) CountQualifyingRuns(context.Context, core.DogID, core.Class, core.Level) (int, error) {
	return 0, f.countErr
}

func TestProgressionFailureKeepsRun(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: mem.New(), countErr: errors.New("replica lag")}
	svc := newService(t, store)

	var failed []core.Event
	svc.Subscribe(core.EventProgressionFailed, func(ctx context.Context, e core.Event) { failed = append(failed, e) })

	dog, _ := svc.CreateDog(ctx, NewDog{Name: "Rex", Classes: []core.Class{core.ClassStandard}})
	res, err := svc.RecordRun(ctx, dog.ID, runIn(core.ClassStandard, core.LevelNovice, 1, true))
	require.NoError(t, err)
	assert.Nil(t, res.LevelUp)
	require.Len(t, failed, 1)
	assert.Equal(t, res.Run.ID, failed[0].RunID)

	runs, _ := svc.GetRuns(ctx, dog.ID)
	assert.Len(t, runs, 1)
}

func TestImportRecalculatesOutOfOrderHistory(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, mem.New())
	dog, _ := svc.CreateDog(ctx, NewDog{Name: "Rex", Classes: []core.Class{core.ClassStandard}})

	inputs := []RunInput{runIn(core.ClassStandard, core.LevelMasters, 1, true)}
	for _, lvl := range []core.Level{core.LevelNovice, core.LevelOpen, core.LevelExcellent} {
		base := map[core.Level]int{core.LevelNovice: 2, core.LevelOpen: 5, core.LevelExcellent: 8}[lvl]
		for i := 0; i < 3; i++ {
			inputs = append(inputs, runIn(core.ClassStandard, lvl, base+i, true))
		}
	}
	// shuffle input order; dates decide
	inputs[1], inputs[9] = inputs[9], inputs[1]

	res, err := svc.ImportRuns(ctx, dog.ID, inputs)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Imported)
	assert.Equal(t, 1, res.Recalculation.Ignored)
	assert.Equal(t, []LevelChange{{Class: core.ClassStandard, From: core.LevelNovice, To: core.LevelMasters}}, res.Recalculation.Changes)

	got, _ := svc.GetDog(ctx, dog.ID)
	lvl, _ := got.LevelFor(core.ClassStandard)
	assert.Equal(t, core.LevelMasters, lvl)
}

func TestRecalculateLogsOffChainRuns(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	svc := newService(t, mem.New(), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	dog, _ := svc.CreateDog(ctx, NewDog{Name: "Rex", Classes: []core.Class{core.ClassPremierJumpers}})

	res, err := svc.ImportRuns(ctx, dog.ID, []RunInput{
		runIn(core.ClassPremierJumpers, core.LevelNovice, 1, true),
		runIn(core.ClassPremierJumpers, core.LevelOpen, 2, true),
	})
	require.NoError(t, err)
	assert.Len(t, res.Recalculation.Excluded[core.ClassPremierJumpers], 1)
	assert.Equal(t, 1, res.Recalculation.Counted)
	assert.Equal(t, 0, res.Recalculation.Ignored)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "excluded")
	assert.Contains(t, out, "class=premier_jumpers")
}

func TestImportValidatesBeforeWriting(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, mem.New())
	dog, _ := svc.CreateDog(ctx, NewDog{Name: "Rex", Classes: []core.Class{core.ClassStandard}})

	_, err := svc.ImportRuns(ctx, dog.ID, []RunInput{
		runIn(core.ClassStandard, core.LevelNovice, 1, true),
		{Class: core.ClassStandard, Level: "Expert", Date: day(2)},
	})
	assert.ErrorIs(t, err, core.ErrInvalidRun)
	runs, _ := svc.GetRuns(ctx, dog.ID)
	assert.Empty(t, runs)
}

func TestUpdateAndDeleteRunRecalculate(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, mem.New())
	dog, _ := svc.CreateDog(ctx, NewDog{Name: "Rex", Classes: []core.Class{core.ClassJumpers}})

	var ids []core.RunID
	for d := 1; d <= 3; d++ {
		res, err := svc.RecordRun(ctx, dog.ID, runIn(core.ClassJumpers, core.LevelNovice, d, true))
		require.NoError(t, err)
		ids = append(ids, res.Run.ID)
	}
	got, _ := svc.GetDog(ctx, dog.ID)
	lvl, _ := got.LevelFor(core.ClassJumpers)
	require.Equal(t, core.LevelOpen, lvl)

	// notes-only edit does not recalculate
	in := runIn(core.ClassJumpers, core.LevelNovice, 1, true)
	in.Notes = "great weaves"
	upd, err := svc.UpdateRun(ctx, dog.ID, ids[0], in)
	require.NoError(t, err)
	assert.Nil(t, upd.Recalculation)
	assert.Equal(t, "great weaves", upd.Run.Notes)

	// un-qualifying a run drops the dog back to Novice
	in.Qualified = false
	upd, err = svc.UpdateRun(ctx, dog.ID, ids[0], in)
	require.NoError(t, err)
	require.NotNil(t, upd.Recalculation)
	got, _ = svc.GetDog(ctx, dog.ID)
	lvl, _ = got.LevelFor(core.ClassJumpers)
	assert.Equal(t, core.LevelNovice, lvl)

	del, err := svc.DeleteRun(ctx, dog.ID, ids[1])
	require.NoError(t, err)
	require.NotNil(t, del.Recalculation)
	assert.Empty(t, del.Recalculation.Changes)

	_, err = svc.DeleteRun(ctx, dog.ID, ids[1])
	assert.True(t, IsNotFound(err))
}

func TestDiagnoseReportsDivergence(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, mem.New())
	dog, _ := svc.CreateDog(ctx, NewDog{Name: "Rex", Classes: []core.Class{core.ClassStandard}})

	var inputs []RunInput
	for d := 1; d <= 3; d++ {
		inputs = append(inputs, runIn(core.ClassStandard, core.LevelOpen, d, true))
	}
	for d := 4; d <= 6; d++ {
		inputs = append(inputs, runIn(core.ClassStandard, core.LevelNovice, d, true))
	}
	_, err := svc.ImportRuns(ctx, dog.ID, inputs)
	require.NoError(t, err)

	diags, err := svc.Diagnose(ctx, dog.ID)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	d := diags[0]
	assert.Equal(t, core.LevelOpen, d.Persisted)
	assert.True(t, d.Consistent)
	assert.True(t, d.Divergent)
	assert.Equal(t, core.LevelExcellent, d.EverMet.CurrentLevel)
}

func TestProgressCacheInvalidatedOnWrite(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, mem.New(), WithReportCache(time.Minute))
	dog, _ := svc.CreateDog(ctx, NewDog{Name: "Rex", Classes: []core.Class{core.ClassStandard}})

	p, err := svc.Progress(ctx, dog.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Summary.Runs)

	_, err = svc.RecordRun(ctx, dog.ID, runIn(core.ClassStandard, core.LevelNovice, 1, true))
	require.NoError(t, err)
	p, err = svc.Progress(ctx, dog.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Summary.Runs)
}

// loadHookStore runs onLoad while the service is reading a dog's runs.
type loadHookStore struct {
	Storage
	onLoad func()
}

func (s *loadHookStore) GetRunsForDog(ctx context.Context, id core.DogID) ([]core.Run, error) {
	runs, err := s.Storage.GetRunsForDog(ctx, id)
	if s.onLoad != nil {
		s.onLoad()
	}
	return runs, err
}

func TestProgressSkipsCacheWhenWriteRacesBuild(t *testing.T) {
	ctx := context.Background()
	store := &loadHookStore{Storage: mem.New()}
	svc := newService(t, store, WithReportCache(time.Minute))
	dog, _ := svc.CreateDog(ctx, NewDog{Name: "Rex", Classes: []core.Class{core.ClassStandard}})

	// a write for the dog lands after the runs were read
	store.onLoad = func() {
		store.onLoad = nil
		_, err := store.Storage.AddRun(ctx, core.Run{ID: "late", DogID: dog.ID, Date: day(1), Class: core.ClassStandard, Level: core.LevelNovice, Qualified: true})
		require.NoError(t, err)
		svc.invalidate(dog.ID)
	}
	stale, err := svc.Progress(ctx, dog.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stale.Summary.Runs)

	fresh, err := svc.Progress(ctx, dog.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Summary.Runs)
}

func TestPremierReportAgreesWithEngine(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, mem.New())
	dog, _ := svc.CreateDog(ctx, NewDog{Name: "Rex", Classes: []core.Class{core.ClassPremierStandard}})

	var inputs []RunInput
	d := 1
	for _, step := range []struct {
		level core.Level
		n     int
	}{{core.LevelOpen, 3}, {core.LevelExcellent, 3}, {core.LevelMasters, 19}} {
		for i := 0; i < step.n; i++ {
			inputs = append(inputs, runIn(core.ClassPremierStandard, step.level, d, true))
			d++
		}
	}
	_, err := svc.ImportRuns(ctx, dog.ID, inputs)
	require.NoError(t, err)

	p, err := svc.Progress(ctx, dog.ID)
	require.NoError(t, err)
	require.Len(t, p.Levels, 1)
	assert.Equal(t, core.LevelMasters, p.Levels[0].CurrentLevel)
	assert.Equal(t, 19, p.Levels[0].QualifyingRunsAtCurrentLevel)
	assert.Empty(t, p.Levels[0].TitlesEarned)
	assert.NotContains(t, p.Titles, "PAD")
	require.NotEmpty(t, p.Ladders)
	assert.Equal(t, "PAD", p.Ladders[0].Title)
	assert.Equal(t, 19, p.Ladders[0].Progress)
	assert.False(t, p.Ladders[0].Earned)
}

func TestProgressReturnsIndependentCopies(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, mem.New(), WithReportCache(time.Minute))
	dog, _ := svc.CreateDog(ctx, NewDog{Name: "Rex", Classes: []core.Class{core.ClassStandard}})
	for d := 1; d <= 3; d++ {
		_, err := svc.RecordRun(ctx, dog.ID, runIn(core.ClassStandard, core.LevelNovice, d, true))
		require.NoError(t, err)
	}

	first, err := svc.Progress(ctx, dog.ID)
	require.NoError(t, err)
	require.NotEmpty(t, first.Levels[0].TitlesEarned)
	require.NotEmpty(t, first.Ladders)
	first.Classes[0].Level = core.LevelMasters
	first.Levels[0].TitlesEarned[0] = "tampered"
	first.Ladders[0].Progress = 99
	first.Summary.ByClass[0].Runs = 99

	second, err := svc.Progress(ctx, dog.ID)
	require.NoError(t, err)
	assert.Equal(t, core.LevelOpen, second.Classes[0].Level)
	assert.Equal(t, "NA", second.Levels[0].TitlesEarned[0])
	assert.Equal(t, 0, second.Ladders[0].Progress)
	assert.Equal(t, 3, second.Summary.ByClass[0].Runs)
}

func TestRecalculateMissingDog(t *testing.T) {
	svc := newService(t, mem.New())
	_, err := svc.Recalculate(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrDogNotFound)
}
