package progress

import (
	"time"

	"agilitytrack/core"
)

// ClassSummary holds per-class run totals.
type ClassSummary struct {
	Class      core.Class `json:"class"`
	Runs       int        `json:"runs"`
	Qualifying int        `json:"qualifying"`
}

// Summary aggregates run totals across all classes.
type Summary struct {
	Runs        int            `json:"runs"`
	Qualifying  int            `json:"qualifying"`
	QRate       float64        `json:"q_rate"`
	FirstPlaces int            `json:"first_places"`
	Placements  int            `json:"placements"`
	FirstRun    *time.Time     `json:"first_run,omitempty"`
	LastRun     *time.Time     `json:"last_run,omitempty"`
	ByClass     []ClassSummary `json:"by_class"`
}

// Summarize counts runs, Qs and placements. Classes appear in display order.
func Summarize(runs []core.Run) Summary {
	s := Summary{ByClass: []ClassSummary{}}
	perClass := map[core.Class]*ClassSummary{}
	for _, r := range runs {
		s.Runs++
		if r.Qualified {
			s.Qualifying++
		}
		if r.Placement == 1 {
			s.FirstPlaces++
		}
		if r.Placement > 0 {
			s.Placements++
		}
		d := r.Date
		if s.FirstRun == nil || d.Before(*s.FirstRun) {
			s.FirstRun = &d
		}
		if s.LastRun == nil || d.After(*s.LastRun) {
			last := d
			s.LastRun = &last
		}
		cs := perClass[r.Class]
		if cs == nil {
			cs = &ClassSummary{Class: r.Class}
			perClass[r.Class] = cs
		}
		cs.Runs++
		if r.Qualified {
			cs.Qualifying++
		}
	}
	if s.Runs > 0 {
		s.QRate = float64(s.Qualifying) / float64(s.Runs)
	}
	for _, c := range core.AllClasses() {
		if cs, ok := perClass[c]; ok {
			s.ByClass = append(s.ByClass, *cs)
		}
	}
	return s
}

// Report is the full progress view for a dog.
type Report struct {
	DogID      core.DogID        `json:"dog_id"`
	DogName    string            `json:"dog_name"`
	Classes    []core.ClassLevel `json:"classes"`
	DoubleQs   DoubleQResult     `json:"double_qs"`
	MachPoints int               `json:"mach_points"`
	Mach       MachProgress      `json:"mach"`
	Ladders    []LadderProgress  `json:"ladders"`
	Titles     []string          `json:"titles"`
	Summary    Summary           `json:"summary"`
}

// BuildReport derives every aggregate for dog from runs. Ladders use the
// dog's current class levels.
func BuildReport(dog core.Dog, runs []core.Run) Report {
	dq := DoubleQs(runs)
	points := MachPoints(runs)
	ladder := TitleLadders(runs, dog.Classes)

	titles := EarnedTitles(ladder)
	if m := MultiMach(points, dq.Count); m.Title != "" {
		titles = append(titles, m.Title)
	}

	return Report{
		DogID:      dog.ID,
		DogName:    dog.Name,
		Classes:    append([]core.ClassLevel{}, dog.Classes...),
		DoubleQs:   dq,
		MachPoints: points,
		Mach:       MultiMach(points, dq.Count),
		Ladders:    ladder,
		Titles:     titles,
		Summary:    Summarize(runs),
	}
}
