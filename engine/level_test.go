package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agilitytrack/core"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n-1)
}

// qs returns n qualifying runs at level starting on day from.
func qs(class core.Class, level core.Level, from, n int) []core.Run {
	out := make([]core.Run, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, core.Run{
			ID:        core.RunID(string(class) + "-" + string(level) + "-" + day(from+i).Format("0102")),
			DogID:     "rex",
			Date:      day(from + i),
			Class:     class,
			Level:     level,
			Qualified: true,
		})
	}
	return out
}

func concat(parts ...[]core.Run) []core.Run {
	var out []core.Run
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestOrderedBelowThresholdNeverAdvances(t *testing.T) {
	for _, class := range []core.Class{core.ClassStandard, core.ClassJumpers, core.ClassFAST, core.ClassT2B} {
		lc, err := ComputeLevelAssumingOrderedHistory(qs(class, core.LevelNovice, 1, 2), class)
		require.NoError(t, err)
		assert.Equal(t, core.LevelNovice, lc.CurrentLevel, class)
		assert.Equal(t, 2, lc.QualifyingRunsAtCurrentLevel, class)
		assert.False(t, lc.HasProgressed, class)
		require.NotNil(t, lc.NextRule, class)
		assert.Equal(t, 3, lc.NextRule.Required, class)
	}
}

func TestOrderedAtThresholdAdvancesOnce(t *testing.T) {
	lc, err := ComputeLevelAssumingOrderedHistory(qs(core.ClassStandard, core.LevelNovice, 1, 3), core.ClassStandard)
	require.NoError(t, err)

	want := LevelComputation{
		Class:                        core.ClassStandard,
		StartingLevel:                core.LevelNovice,
		CurrentLevel:                 core.LevelOpen,
		TitlesEarned:                 []string{"NA"},
		QualifyingRunsAtCurrentLevel: 0,
		HasProgressed:                true,
	}
	rs, _ := core.Rules(core.ClassStandard)
	open, _ := rs.RuleFor(core.LevelOpen)
	want.NextRule = &open

	if diff := cmp.Diff(want, lc); diff != "" {
		t.Fatalf("unexpected computation (-want +got):\n%s", diff)
	}
}

func TestOrderedIgnoresPassedLevel(t *testing.T) {
	runs := concat(
		qs(core.ClassStandard, core.LevelNovice, 1, 3),
		qs(core.ClassStandard, core.LevelNovice, 4, 1),
	)
	lc, err := ComputeLevelAssumingOrderedHistory(runs, core.ClassStandard)
	require.NoError(t, err)
	assert.Equal(t, core.LevelOpen, lc.CurrentLevel)
	assert.Equal(t, 0, lc.QualifyingRunsAtCurrentLevel)
}

func TestOrderedIsIdempotent(t *testing.T) {
	runs := concat(
		qs(core.ClassStandard, core.LevelMasters, 1, 2),
		qs(core.ClassStandard, core.LevelNovice, 3, 3),
		qs(core.ClassStandard, core.LevelOpen, 6, 2),
	)
	a, err := ComputeLevelAssumingOrderedHistory(runs, core.ClassStandard)
	require.NoError(t, err)
	b, err := ComputeLevelAssumingOrderedHistory(runs, core.ClassStandard)
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("not idempotent:\n%s", diff)
	}
	c, _ := ComputeLevelByThresholdsEverMet(runs, core.ClassStandard)
	d, _ := ComputeLevelByThresholdsEverMet(runs, core.ClassStandard)
	if diff := cmp.Diff(c, d); diff != "" {
		t.Fatalf("ever-met not idempotent:\n%s", diff)
	}
}

func TestComputationsDivergeOnOutOfOrderHistory(t *testing.T) {
	// Open Qs logged before the Novice Qs that unlock Open.
	runs := concat(
		qs(core.ClassStandard, core.LevelOpen, 1, 3),
		qs(core.ClassStandard, core.LevelNovice, 4, 3),
	)

	ordered, err := ComputeLevelAssumingOrderedHistory(runs, core.ClassStandard)
	require.NoError(t, err)
	assert.Equal(t, core.LevelOpen, ordered.CurrentLevel)
	assert.Equal(t, []string{"NA"}, ordered.TitlesEarned)

	everMet, err := ComputeLevelByThresholdsEverMet(runs, core.ClassStandard)
	require.NoError(t, err)
	assert.Equal(t, core.LevelExcellent, everMet.CurrentLevel)
	assert.Equal(t, []string{"NA", "OA"}, everMet.TitlesEarned)
}

func TestMastersIsTerminal(t *testing.T) {
	runs := concat(
		qs(core.ClassStandard, core.LevelNovice, 1, 3),
		qs(core.ClassStandard, core.LevelOpen, 4, 3),
		qs(core.ClassStandard, core.LevelExcellent, 7, 3),
		qs(core.ClassStandard, core.LevelMasters, 10, 12),
	)
	lc, err := ComputeLevelAssumingOrderedHistory(runs, core.ClassStandard)
	require.NoError(t, err)
	assert.Equal(t, core.LevelMasters, lc.CurrentLevel)
	assert.Equal(t, []string{"NA", "OA", "AX", "MX"}, lc.TitlesEarned)
	assert.Equal(t, 12, lc.QualifyingRunsAtCurrentLevel)
	assert.Nil(t, lc.NextRule)
}

func TestNonQualifyingRunsDoNotCount(t *testing.T) {
	runs := qs(core.ClassJumpers, core.LevelNovice, 1, 3)
	runs[1].Qualified = false
	lc, err := ComputeLevelAssumingOrderedHistory(runs, core.ClassJumpers)
	require.NoError(t, err)
	assert.Equal(t, core.LevelNovice, lc.CurrentLevel)
	assert.Equal(t, 2, lc.QualifyingRunsAtCurrentLevel)
}

func TestRunsOutsideChainAreExcluded(t *testing.T) {
	runs := qs(core.ClassPremierStandard, core.LevelOpen, 1, 3)
	bad := core.Run{ID: "bad", Date: day(2), Class: core.ClassPremierStandard, Level: core.LevelNovice, Qualified: true}
	runs = append(runs, bad)

	lc, err := ComputeLevelAssumingOrderedHistory(runs, core.ClassPremierStandard)
	require.NoError(t, err)
	assert.Equal(t, core.LevelOpen, lc.StartingLevel)
	assert.Equal(t, core.LevelExcellent, lc.CurrentLevel)
	assert.Equal(t, []core.RunID{"bad"}, lc.Excluded)
}

func TestUnknownClassIsConfigurationError(t *testing.T) {
	_, err := ComputeLevelAssumingOrderedHistory(nil, core.Class("snooker"))
	assert.True(t, errors.Is(err, core.ErrNoRules))
	_, err = ComputeLevelByThresholdsEverMet(nil, core.Class("snooker"))
	assert.True(t, errors.Is(err, core.ErrNoRules))
	_, err = ComputeAll(nil, []core.Class{core.ClassStandard, "snooker"}, ComputeLevelAssumingOrderedHistory)
	assert.ErrorIs(t, err, core.ErrNoRules)
}

func TestSortRunsBreaksTiesBySeq(t *testing.T) {
	runs := []core.Run{
		{ID: "b", Date: day(1), Seq: 2},
		{ID: "c", Date: day(0)},
		{ID: "a", Date: day(1), Seq: 1},
	}
	sorted := SortRuns(runs)
	got := []core.RunID{sorted[0].ID, sorted[1].ID, sorted[2].ID}
	assert.Equal(t, []core.RunID{"c", "a", "b"}, got)
	assert.Equal(t, core.RunID("b"), runs[0].ID, "input must not be reordered")
}

func TestComputeAllKeepsClassOrder(t *testing.T) {
	runs := concat(qs(core.ClassStandard, core.LevelNovice, 1, 3), qs(core.ClassJumpers, core.LevelNovice, 1, 1))
	all, err := ComputeAll(runs, []core.Class{core.ClassJumpers, core.ClassStandard}, ComputeLevelAssumingOrderedHistory)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, core.ClassJumpers, all[0].Class)
	assert.Equal(t, core.LevelNovice, all[0].CurrentLevel)
	assert.Equal(t, core.LevelOpen, all[1].CurrentLevel)
}
