package engine

import (
	"context"
	"fmt"

	"agilitytrack/core"
)

// Trigger is the incremental progression path run right after a qualifying
// run is stored. It only looks at the affected class and trusts the persisted
// level, so it is exact only when runs are entered in chronological order
// relative to that level; out-of-order history needs the Recalculator.
type Trigger struct {
	counter RunCounter
	writer  DogWriter
}

func NewTrigger(counter RunCounter, writer DogWriter) *Trigger {
	if counter == nil || writer == nil {
		panic("NewTrigger requires non-nil counter and writer")
	}
	return &Trigger{counter: counter, writer: writer}
}

// OnRunRecorded advances the run's class by one level when the dog has met
// the threshold at its current level. It returns nil when nothing changed.
// Masters runs never change the level.
func (t *Trigger) OnRunRecorded(ctx context.Context, dog core.Dog, run core.Run) (*core.ProgressionEvent, error) {
	if !run.Qualified {
		return nil, nil
	}
	rs, err := core.LookupRules(run.Class)
	if err != nil {
		return nil, err
	}
	current, ok := dog.LevelFor(run.Class)
	if !ok {
		current = rs.Start
	}
	rule, ok := rs.RuleFor(current)
	if !ok {
		return nil, fmt.Errorf("persisted level %q is not in the %s chain", current, run.Class)
	}
	if rule.Terminal() {
		return nil, nil
	}

	count, err := t.counter.CountQualifyingRuns(ctx, dog.ID, run.Class, current)
	if err != nil {
		return nil, fmt.Errorf("count qualifying runs: %w", err)
	}
	if count < rule.Required {
		return nil, nil
	}

	next := rule.Next()
	// single-class write; last writer wins against a concurrent recalculation
	if err := t.writer.SetClassLevels(ctx, dog.ID, []core.ClassLevel{{Class: run.Class, Level: next}}); err != nil {
		return nil, fmt.Errorf("persist level %s for %s: %w", next, run.Class, err)
	}
	return &core.ProgressionEvent{
		DogID:     dog.ID,
		DogName:   dog.Name,
		Class:     run.Class,
		FromLevel: current,
		ToLevel:   next,
	}, nil
}
