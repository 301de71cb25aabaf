package engine

import (
	"cmp"
	"slices"

	"agilitytrack/core"
)

// LevelComputation is the derived progression state of one dog in one class.
type LevelComputation struct {
	Class                        core.Class   `json:"class"`
	StartingLevel                core.Level   `json:"starting_level"`
	CurrentLevel                 core.Level   `json:"current_level"`
	TitlesEarned                 []string     `json:"titles_earned"`
	QualifyingRunsAtCurrentLevel int          `json:"qualifying_runs_at_current_level"`
	NextRule                     *core.Rule   `json:"next_rule,omitempty"`
	HasProgressed                bool         `json:"has_progressed"`
	Excluded                     []core.RunID `json:"excluded,omitempty"`
}

// LevelFunc is either of the two level computations.
type LevelFunc func(runs []core.Run, class core.Class) (LevelComputation, error)

// SortRuns returns a copy of runs in ascending date order. Same-date runs are
// ordered by store sequence, then by their position in the input.
func SortRuns(runs []core.Run) []core.Run {
	out := slices.Clone(runs)
	slices.SortStableFunc(out, func(a, b core.Run) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out
}

// classRuns filters sorted runs to class and splits off runs whose level is
// not part of the class's chain.
func classRuns(sorted []core.Run, rs core.RuleSet) (kept []core.Run, excluded []core.RunID) {
	for _, r := range sorted {
		if r.Class != rs.Class {
			continue
		}
		if !rs.HasLevel(r.Level) {
			excluded = append(excluded, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	return kept, excluded
}

func nextRule(rs core.RuleSet, level core.Level, count int) *core.Rule {
	r, ok := rs.RuleFor(level)
	if !ok || count >= r.Required {
		return nil
	}
	return &r
}

// ComputeLevelByThresholdsEverMet evaluates every rule of the chain against
// the whole history: a rule fires when the dog has ever logged Required Qs at
// its From level, regardless of when it reached that level. This is the
// "current info" diagnostic view; it can disagree with
// ComputeLevelAssumingOrderedHistory when runs were logged out of sequence.
func ComputeLevelByThresholdsEverMet(runs []core.Run, class core.Class) (LevelComputation, error) {
	rs, err := core.LookupRules(class)
	if err != nil {
		return LevelComputation{}, err
	}
	kept, excluded := classRuns(SortRuns(runs), rs)

	counts := make(map[core.Level]int, len(rs.Rules))
	for _, r := range kept {
		if r.Qualified {
			counts[r.Level]++
		}
	}

	current := rs.Start
	titles := []string{}
	for _, rule := range rs.Rules {
		if counts[rule.From] < rule.Required {
			continue
		}
		if rule.Title != "" {
			titles = append(titles, rule.Title)
		}
		if rule.To != nil {
			current = *rule.To
		}
	}

	q := counts[current]
	return LevelComputation{
		Class:                        class,
		StartingLevel:                rs.Start,
		CurrentLevel:                 current,
		TitlesEarned:                 titles,
		QualifyingRunsAtCurrentLevel: q,
		NextRule:                     nextRule(rs, current, q),
		HasProgressed:                current != rs.Start,
		Excluded:                     excluded,
	}, nil
}

// ComputeLevelAssumingOrderedHistory replays the class history in date order.
// A Q counts only when logged at the level the dog held at that moment; this
// is the authoritative semantics used for persisted levels.
func ComputeLevelAssumingOrderedHistory(runs []core.Run, class core.Class) (LevelComputation, error) {
	rs, err := core.LookupRules(class)
	if err != nil {
		return LevelComputation{}, err
	}
	kept, excluded := classRuns(SortRuns(runs), rs)

	rp := newClassReplay(rs)
	for _, r := range kept {
		rp.apply(r)
	}

	return LevelComputation{
		Class:                        class,
		StartingLevel:                rs.Start,
		CurrentLevel:                 rp.level,
		TitlesEarned:                 rp.titles,
		QualifyingRunsAtCurrentLevel: rp.count,
		NextRule:                     nextRule(rs, rp.level, rp.count),
		HasProgressed:                rp.level != rs.Start,
		Excluded:                     excluded,
	}, nil
}

// ComputeAll applies fn to each class. The first configuration error aborts.
func ComputeAll(runs []core.Run, classes []core.Class, fn LevelFunc) ([]LevelComputation, error) {
	out := make([]LevelComputation, 0, len(classes))
	for _, c := range classes {
		lc, err := fn(runs, c)
		if err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, nil
}

// classReplay is the sequential, level-gated state machine for one class.
type classReplay struct {
	rules  core.RuleSet
	level  core.Level
	count  int
	titles []string
}

func newClassReplay(rs core.RuleSet) *classReplay {
	return &classReplay{rules: rs, level: rs.Start, titles: []string{}}
}

// apply feeds one run to the replay and reports whether it counted toward
// the current level and whether it advanced the level.
func (c *classReplay) apply(r core.Run) (counted, advanced bool) {
	if !r.Qualified || r.Level != c.level {
		return false, false
	}
	rule, ok := c.rules.RuleFor(c.level)
	if !ok {
		return false, false
	}
	c.count++
	if c.count != rule.Required {
		return true, false
	}
	if rule.Title != "" {
		c.titles = append(c.titles, rule.Title)
	}
	if rule.Terminal() {
		return true, false
	}
	c.level = rule.Next()
	c.count = 0
	return true, true
}
