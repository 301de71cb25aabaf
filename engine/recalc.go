package engine

import (
	"context"
	"fmt"

	"agilitytrack/core"
)

// Replay is the result of a from-scratch sequential replay over all classes.
type Replay struct {
	Levels []core.ClassLevel `json:"levels"`
	// Counted is the number of qualifying runs that counted toward a level.
	Counted int `json:"counted"`
	// Ignored is the number of qualifying runs logged at a level the dog had
	// already passed or had not yet reached.
	Ignored int `json:"ignored"`
	// Excluded lists, per class, the runs logged at a level outside the
	// class's chain. They are neither counted nor ignored.
	Excluded map[core.Class][]core.RunID `json:"excluded,omitempty"`
}

// ReplayLevels recomputes levels for classes from the full run history.
// Qualifying runs are walked in date order; a run only counts when its level
// equals the class's currently tracked level. Runs for classes not listed
// are skipped and runs at a level the chain lacks land in Excluded. Any class
// without rules fails the whole replay.
func ReplayLevels(classes []core.Class, runs []core.Run) (Replay, error) {
	replays := make(map[core.Class]*classReplay, len(classes))
	for _, c := range classes {
		rs, err := core.LookupRules(c)
		if err != nil {
			return Replay{}, err
		}
		replays[c] = newClassReplay(rs)
	}

	var out Replay
	for _, r := range SortRuns(runs) {
		rp, ok := replays[r.Class]
		if !ok {
			continue
		}
		if !rp.rules.HasLevel(r.Level) {
			if out.Excluded == nil {
				out.Excluded = map[core.Class][]core.RunID{}
			}
			out.Excluded[r.Class] = append(out.Excluded[r.Class], r.ID)
			continue
		}
		if !r.Qualified {
			continue
		}
		if counted, _ := rp.apply(r); counted {
			out.Counted++
		} else {
			out.Ignored++
		}
	}

	out.Levels = make([]core.ClassLevel, 0, len(classes))
	for _, c := range classes {
		out.Levels = append(out.Levels, core.ClassLevel{Class: c, Level: replays[c].level})
	}
	return out, nil
}

// LevelChange is a persisted level that a recalculation moved.
type LevelChange struct {
	Class core.Class `json:"class"`
	From  core.Level `json:"from"`
	To    core.Level `json:"to"`
}

// Recalculation reports what a batch recalculation persisted.
type Recalculation struct {
	Replay
	Changes []LevelChange `json:"changes"`
}

// Recalculator is the batch path: it rebuilds every class level of a dog from
// history and writes them in a single all-or-nothing call.
type Recalculator struct {
	writer DogWriter
}

func NewRecalculator(writer DogWriter) *Recalculator {
	if writer == nil {
		panic("NewRecalculator requires a non-nil writer")
	}
	return &Recalculator{writer: writer}
}

// RecalculateLevels replays allRuns for the dog's classes and persists the
// result. On error nothing has been written and the caller may retry.
func (r *Recalculator) RecalculateLevels(ctx context.Context, dog core.Dog, allRuns []core.Run) (Recalculation, error) {
	replay, err := ReplayLevels(dog.ClassList(), allRuns)
	if err != nil {
		return Recalculation{}, fmt.Errorf("recalculate %s: %w", dog.ID, err)
	}
	if len(replay.Levels) > 0 {
		if err := r.writer.SetClassLevels(ctx, dog.ID, replay.Levels); err != nil {
			return Recalculation{}, fmt.Errorf("persist recalculated levels for %s: %w", dog.ID, err)
		}
	}

	res := Recalculation{Replay: replay, Changes: []LevelChange{}}
	for _, cl := range replay.Levels {
		prev, _ := dog.LevelFor(cl.Class)
		if prev != cl.Level {
			res.Changes = append(res.Changes, LevelChange{Class: cl.Class, From: prev, To: cl.Level})
		}
	}
	return res, nil
}
