package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agilitytrack/core"
)

func mrun(class core.Class, date time.Time, score int) core.Run {
	return core.Run{Date: date, Class: class, Level: core.LevelMasters, Qualified: true, Score: score}
}

var (
	jan1 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	jan2 = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
)

func TestDoubleQsRequireSameDay(t *testing.T) {
	runs := []core.Run{
		mrun(core.ClassStandard, jan1, 10),
		mrun(core.ClassJumpers, jan1.Add(4*time.Hour), 10),
		mrun(core.ClassStandard, jan2, 10),
		mrun(core.ClassJumpers, jan2.AddDate(0, 0, 1), 10),
	}
	dq := DoubleQs(runs)
	assert.Equal(t, 1, dq.Count)
	assert.Equal(t, []string{"2024-01-01"}, dq.Dates)
}

func TestDoubleQsPairOnUTCDay(t *testing.T) {
	east := time.FixedZone("UTC+10", 10*3600)
	std := mrun(core.ClassStandard, time.Date(2024, 1, 2, 8, 0, 0, 0, east), 0)
	jww := mrun(core.ClassJumpers, time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC), 0)
	dq := DoubleQs([]core.Run{std, jww})
	assert.Equal(t, 1, dq.Count)
	assert.Equal(t, []string{"2024-01-01"}, dq.Dates)
}

func TestDoubleQsIgnoreNonMastersAndNQ(t *testing.T) {
	nq := mrun(core.ClassJumpers, jan1, 0)
	nq.Qualified = false
	exc := mrun(core.ClassJumpers, jan2, 0)
	exc.Level = core.LevelExcellent
	runs := []core.Run{mrun(core.ClassStandard, jan1, 0), nq, mrun(core.ClassStandard, jan2, 0), exc}
	assert.Equal(t, 0, DoubleQs(runs).Count)
}

func TestMachPointsExcludeFAST(t *testing.T) {
	open := mrun(core.ClassStandard, jan1, 50)
	open.Level = core.LevelOpen
	nq := mrun(core.ClassJumpers, jan1, 30)
	nq.Qualified = false
	runs := []core.Run{
		mrun(core.ClassStandard, jan1, 12),
		mrun(core.ClassJumpers, jan1, 8),
		mrun(core.ClassFAST, jan1, 100),
		open,
		nq,
	}
	assert.Equal(t, 20, MachPoints(runs))
}

func TestMultiMach(t *testing.T) {
	m := MultiMach(1500, 15)
	assert.Equal(t, 0, m.Complete)
	assert.Equal(t, "", m.Title)
	assert.Equal(t, 1500, m.PointsTowardNext)

	m = MultiMach(1600, 45)
	assert.Equal(t, 2, m.Complete)
	assert.Equal(t, "MACH2", m.Title)
	assert.Equal(t, 100, m.PointsTowardNext)
	assert.Equal(t, 5, m.DoubleQsTowardNext)

	assert.Equal(t, "MACH", MachTitle(1))
	assert.Equal(t, "", MachTitle(0))
}

func TestTitleLaddersGatedOnMasters(t *testing.T) {
	var runs []core.Run
	for i := 0; i < 10; i++ {
		runs = append(runs, mrun(core.ClassStandard, jan1.AddDate(0, 0, i), 0))
	}
	lp := TitleLadders(runs, []core.ClassLevel{{Class: core.ClassStandard, Level: core.LevelExcellent}})
	require.Len(t, lp, 5)
	assert.Equal(t, "MX", lp[0].Title)
	assert.Equal(t, 10, lp[0].Progress)
	assert.False(t, lp[0].Earned)

	lp = TitleLadders(runs, []core.ClassLevel{{Class: core.ClassStandard, Level: core.LevelMasters}})
	assert.True(t, lp[0].Earned)
	assert.Equal(t, []string{"MX"}, EarnedTitles(lp))
	assert.Equal(t, 10, lp[1].Progress)
	assert.False(t, lp[1].Earned)
}

func TestPremierLadderCapsProgress(t *testing.T) {
	var runs []core.Run
	for i := 0; i < 31; i++ {
		runs = append(runs, mrun(core.ClassPremierStandard, jan1.AddDate(0, 0, i), 0))
	}
	lp := TitleLadders(runs, []core.ClassLevel{{Class: core.ClassPremierStandard, Level: core.LevelMasters}})
	assert.Equal(t, "PAD", lp[0].Title)
	assert.Equal(t, 25, lp[0].Progress)
	assert.True(t, lp[0].Earned)
	assert.Equal(t, 31, lp[1].Progress)
	assert.False(t, lp[1].Earned)
}

func TestPremierLadderCountsOnlyMastersQs(t *testing.T) {
	var runs []core.Run
	day := jan1
	add := func(level core.Level, n int) {
		for range n {
			r := mrun(core.ClassPremierStandard, day, 0)
			r.Level = level
			runs = append(runs, r)
			day = day.AddDate(0, 0, 1)
		}
	}
	add(core.LevelOpen, 3)
	add(core.LevelExcellent, 3)
	add(core.LevelMasters, 19)

	assert.Equal(t, 19, LadderQs(runs, core.ClassPremierStandard))
	lp := TitleLadders(runs, []core.ClassLevel{{Class: core.ClassPremierStandard, Level: core.LevelMasters}})
	assert.Equal(t, "PAD", lp[0].Title)
	assert.Equal(t, 19, lp[0].Progress)
	assert.False(t, lp[0].Earned)
	assert.Empty(t, EarnedTitles(lp))

	rs, ok := core.Rules(core.ClassPremierStandard)
	require.True(t, ok)
	assert.Equal(t, rs.Terminal().Required, lp[0].Threshold)
}

func TestLadderReturnsCopy(t *testing.T) {
	l, ok := Ladder(core.ClassT2B)
	require.True(t, ok)
	l[0].Threshold = 1
	again, _ := Ladder(core.ClassT2B)
	assert.Equal(t, 15, again[0].Threshold)

	_, ok = Ladder("snooker")
	assert.False(t, ok)
}

func TestBuildReport(t *testing.T) {
	dog := core.Dog{ID: "rex", Name: "Rex", Classes: []core.ClassLevel{
		{Class: core.ClassStandard, Level: core.LevelMasters},
		{Class: core.ClassJumpers, Level: core.LevelMasters},
	}}
	std := mrun(core.ClassStandard, jan1, 10)
	std.Placement = 1
	jww := mrun(core.ClassJumpers, jan1, 5)
	jww.Placement = 3
	fast := core.Run{Date: jan2, Class: core.ClassFAST, Level: core.LevelNovice}

	rep := BuildReport(dog, []core.Run{std, jww, fast})
	assert.Equal(t, 1, rep.DoubleQs.Count)
	assert.Equal(t, 15, rep.MachPoints)
	assert.Equal(t, 3, rep.Summary.Runs)
	assert.Equal(t, 2, rep.Summary.Qualifying)
	assert.Equal(t, 1, rep.Summary.FirstPlaces)
	assert.Equal(t, 2, rep.Summary.Placements)
	assert.InDelta(t, 2.0/3.0, rep.Summary.QRate, 1e-9)
	require.NotNil(t, rep.Summary.FirstRun)
	assert.True(t, rep.Summary.FirstRun.Equal(jan1))
	assert.True(t, rep.Summary.LastRun.Equal(jan2))
	assert.Len(t, rep.Ladders, 10)
	assert.Empty(t, rep.Titles)

	var classes []core.Class
	for _, cs := range rep.Summary.ByClass {
		classes = append(classes, cs.Class)
	}
	assert.Equal(t, []core.Class{core.ClassStandard, core.ClassJumpers, core.ClassFAST}, classes)
}
