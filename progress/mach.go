// Package progress derives reporting data (Double Qs, MACH points and title
// ladders) from a dog's run history. Nothing here is persisted.
package progress

import (
	"fmt"
	"sort"

	"agilitytrack/core"
)

const (
	// MachPointsRequired is the point total needed for each MACH.
	MachPointsRequired = 750
	// MachDoubleQsRequired is the Double Q count needed for each MACH.
	MachDoubleQsRequired = 20
)

// DoubleQResult lists the days on which the dog earned a Double Q.
type DoubleQResult struct {
	Count int      `json:"count"`
	Dates []string `json:"dates"`
}

func isMachRun(r core.Run) bool {
	return r.Qualified &&
		r.Level == core.LevelMasters &&
		(r.Class == core.ClassStandard || r.Class == core.ClassJumpers)
}

// DoubleQs counts the distinct days with both a qualifying Masters Standard
// run and a qualifying Masters Jumpers run.
func DoubleQs(runs []core.Run) DoubleQResult {
	std := map[string]bool{}
	jww := map[string]bool{}
	for _, r := range runs {
		if !isMachRun(r) {
			continue
		}
		if r.Class == core.ClassStandard {
			std[r.DateKey()] = true
		} else {
			jww[r.DateKey()] = true
		}
	}
	dates := []string{}
	for d := range std {
		if jww[d] {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	return DoubleQResult{Count: len(dates), Dates: dates}
}

// MachPoints sums the score of qualifying Masters Standard and Jumpers runs.
// No other class or level contributes.
func MachPoints(runs []core.Run) int {
	total := 0
	for _, r := range runs {
		if isMachRun(r) {
			total += r.Score
		}
	}
	return total
}

// MachProgress describes completed MACHs and the remainder toward the next.
type MachProgress struct {
	Complete           int    `json:"complete"`
	Title              string `json:"title,omitempty"`
	Points             int    `json:"points"`
	DoubleQs           int    `json:"double_qs"`
	PointsTowardNext   int    `json:"points_toward_next"`
	DoubleQsTowardNext int    `json:"double_qs_toward_next"`
	PointsRequired     int    `json:"points_required"`
	DoubleQsRequired   int    `json:"double_qs_required"`
}

// MultiMach computes how many MACHs the totals complete. Each MACH needs both
// thresholds, so the smaller of the two quotients wins.
func MultiMach(points, doubleQs int) MachProgress {
	complete := min(points/MachPointsRequired, doubleQs/MachDoubleQsRequired)
	if complete < 0 {
		complete = 0
	}
	return MachProgress{
		Complete:           complete,
		Title:              MachTitle(complete),
		Points:             points,
		DoubleQs:           doubleQs,
		PointsTowardNext:   points - complete*MachPointsRequired,
		DoubleQsTowardNext: doubleQs - complete*MachDoubleQsRequired,
		PointsRequired:     MachPointsRequired,
		DoubleQsRequired:   MachDoubleQsRequired,
	}
}

// MachTitle returns "MACH", "MACH2", ... for n completed MACHs, or "" for none.
func MachTitle(n int) string {
	switch {
	case n <= 0:
		return ""
	case n == 1:
		return "MACH"
	default:
		return fmt.Sprintf("MACH%d", n)
	}
}
