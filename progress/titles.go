package progress

import "agilitytrack/core"

// Step is one title on a ladder.
type Step struct {
	Title     string `json:"title"`
	Threshold int    `json:"threshold"`
}

// ladders holds the advanced title ladders. Read-only.
var ladders = map[core.Class][]Step{
	core.ClassStandard: {
		{"MX", 10}, {"MXB", 25}, {"MXS", 50}, {"MXG", 75}, {"MXC", 100},
	},
	core.ClassJumpers: {
		{"MXJ", 10}, {"MJB", 25}, {"MJS", 50}, {"MJG", 75}, {"MJC", 100},
	},
	core.ClassFAST: {
		{"MXF", 10}, {"MFB", 25}, {"MFS", 50}, {"MFG", 75}, {"MFC", 100},
	},
	core.ClassT2B: {
		{"T2B", 15}, {"T2B2", 30}, {"T2B3", 45}, {"T2B4", 60}, {"T2B5", 75},
	},
	core.ClassPremierStandard: {
		{"PAD", 25}, {"PADB", 50}, {"PADS", 75}, {"PADG", 100}, {"PADC", 125},
	},
	core.ClassPremierJumpers: {
		{"PJD", 25}, {"PJDB", 50}, {"PJDS", 75}, {"PJDG", 100}, {"PJDC", 125},
	},
}

// Ladder returns a copy of the title ladder for class.
func Ladder(class core.Class) ([]Step, bool) {
	l, ok := ladders[class]
	if !ok {
		return nil, false
	}
	return append([]Step(nil), l...), true
}

// LadderProgress is the state of one title on a ladder.
type LadderProgress struct {
	Class     core.Class `json:"class"`
	Title     string     `json:"title"`
	Threshold int        `json:"threshold"`
	// Progress is the qualifying-run count capped at Threshold.
	Progress int  `json:"progress"`
	Earned   bool `json:"earned"`
}

// LadderQs counts the Masters Qs in class, the terminal level every ladder
// is built on.
func LadderQs(runs []core.Run, class core.Class) int {
	n := 0
	for _, r := range runs {
		if r.Class == class && r.Qualified && r.Level == core.LevelMasters {
			n++
		}
	}
	return n
}

// TitleLadders reports every ladder title for the classes the dog is entered
// in. A non-Premier title is only earned once the class level is Masters;
// Premier titles need only the Masters Qs.
func TitleLadders(runs []core.Run, classes []core.ClassLevel) []LadderProgress {
	out := []LadderProgress{}
	for _, cl := range classes {
		steps, ok := ladders[cl.Class]
		if !ok {
			continue
		}
		qs := LadderQs(runs, cl.Class)
		eligible := cl.Class.IsPremier() || cl.Level == core.LevelMasters
		for _, s := range steps {
			out = append(out, LadderProgress{
				Class:     cl.Class,
				Title:     s.Title,
				Threshold: s.Threshold,
				Progress:  min(qs, s.Threshold),
				Earned:    eligible && qs >= s.Threshold,
			})
		}
	}
	return out
}

// EarnedTitles returns the earned ladder titles in ladder order.
func EarnedTitles(ladder []LadderProgress) []string {
	out := []string{}
	for _, lp := range ladder {
		if lp.Earned {
			out = append(out, lp.Title)
		}
	}
	return out
}
