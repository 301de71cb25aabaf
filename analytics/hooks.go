package analytics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"agilitytrack/core"
)

// Hook receives tracker events for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

// DaySummary holds activity counters for one calendar day (UTC).
type DaySummary struct {
	Day          string               `json:"day"`
	ActiveDogs   int                  `json:"active_dogs"`
	RunsRecorded int64                `json:"runs_recorded"`
	Qualifying   int64                `json:"qualifying"`
	LevelUps     int64                `json:"level_ups"`
	LevelUpsBy   map[core.Class]int64 `json:"level_ups_by_class,omitempty"`
	Reached      map[core.Level]int64 `json:"reached,omitempty"`
	Recalculated int64                `json:"recalculated"`
	Failures     int64                `json:"progression_failures"`
}

type dayCounters struct {
	dogs         map[core.DogID]struct{}
	runs         int64
	qualifying   int64
	levelUps     int64
	byClass      map[core.Class]int64
	reached      map[core.Level]int64
	recalculated int64
	failures     int64
}

func newDayCounters() *dayCounters {
	return &dayCounters{
		dogs:    map[core.DogID]struct{}{},
		byClass: map[core.Class]int64{},
		reached: map[core.Level]int64{},
	}
}

// ActivityTracker counts runs, Qs and level-ups per day, week and month.
type ActivityTracker struct {
	mu     sync.RWMutex
	days   map[string]*dayCounters
	weeks  map[string]map[core.DogID]struct{}
	months map[string]map[core.DogID]struct{}
}

func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		days:   map[string]*dayCounters{},
		weeks:  map[string]map[core.DogID]struct{}{},
		months: map[string]map[core.DogID]struct{}{},
	}
}

func (a *ActivityTracker) OnEvent(e core.Event) {
	if e.DogID == "" {
		return
	}
	day := dayKey(e.Time)
	a.mu.Lock()
	defer a.mu.Unlock()

	d := a.days[day]
	if d == nil {
		d = newDayCounters()
		a.days[day] = d
	}
	d.dogs[e.DogID] = struct{}{}
	mark(a.weeks, weekKey(e.Time), e.DogID)
	mark(a.months, monthKey(e.Time), e.DogID)

	switch e.Type {
	case core.EventRunRecorded:
		d.runs++
		if e.Qualified {
			d.qualifying++
		}
	case core.EventLevelUp:
		d.levelUps++
		d.byClass[e.Class]++
		d.reached[e.ToLevel]++
	case core.EventLevelsRecalculated:
		d.recalculated++
	case core.EventProgressionFailed:
		d.failures++
	}
}

func mark(m map[string]map[core.DogID]struct{}, key string, dog core.DogID) {
	set := m[key]
	if set == nil {
		set = map[core.DogID]struct{}{}
		m[key] = set
	}
	set[dog] = struct{}{}
}

// Day returns the summary for a "2006-01-02" key.
func (a *ActivityTracker) Day(day string) DaySummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.summaryLocked(day)
}

func (a *ActivityTracker) summaryLocked(day string) DaySummary {
	s := DaySummary{Day: day}
	d, ok := a.days[day]
	if !ok {
		return s
	}
	s.ActiveDogs = len(d.dogs)
	s.RunsRecorded = d.runs
	s.Qualifying = d.qualifying
	s.LevelUps = d.levelUps
	s.Recalculated = d.recalculated
	s.Failures = d.failures
	if len(d.byClass) > 0 {
		s.LevelUpsBy = make(map[core.Class]int64, len(d.byClass))
		for k, v := range d.byClass {
			s.LevelUpsBy[k] = v
		}
	}
	if len(d.reached) > 0 {
		s.Reached = make(map[core.Level]int64, len(d.reached))
		for k, v := range d.reached {
			s.Reached[k] = v
		}
	}
	return s
}

// Days returns every tracked day, oldest first.
func (a *ActivityTracker) Days() []DaySummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.days))
	for k := range a.days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]DaySummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, a.summaryLocked(k))
	}
	return out
}

func (a *ActivityTracker) WeeklyActiveDogs(week string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.weeks[week])
}

func (a *ActivityTracker) MonthlyActiveDogs(month string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.months[month])
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }
