package core

import "strings"

// Class is a competition class. The set is fixed; classes are not user-defined.
type Class string

const (
	ClassStandard        Class = "standard"
	ClassJumpers         Class = "jumpers"
	ClassT2B             Class = "t2b"
	ClassFAST            Class = "fast"
	ClassPremierStandard Class = "premier_standard"
	ClassPremierJumpers  Class = "premier_jumpers"
)

// AllClasses lists every known class in display order.
func AllClasses() []Class {
	return []Class{
		ClassStandard,
		ClassJumpers,
		ClassFAST,
		ClassT2B,
		ClassPremierStandard,
		ClassPremierJumpers,
	}
}

// IsPremier reports whether the class is one of the Premier variants.
func (c Class) IsPremier() bool {
	return c == ClassPremierStandard || c == ClassPremierJumpers
}

var classAliases = map[string]Class{
	"standard":         ClassStandard,
	"std":              ClassStandard,
	"jumpers":          ClassJumpers,
	"jww":              ClassJumpers,
	"t2b":              ClassT2B,
	"time 2 beat":      ClassT2B,
	"time2beat":        ClassT2B,
	"fast":             ClassFAST,
	"premier_standard": ClassPremierStandard,
	"premier standard": ClassPremierStandard,
	"premier-standard": ClassPremierStandard,
	"premier-std":      ClassPremierStandard,
	"premier_jumpers":  ClassPremierJumpers,
	"premier jumpers":  ClassPremierJumpers,
	"premier-jumpers":  ClassPremierJumpers,
	"premier-jww":      ClassPremierJumpers,
}

// ParseClass resolves a canonical class value or a common display alias.
func ParseClass(s string) (Class, bool) {
	c, ok := classAliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// Level is a competency tier within a class. Levels are ordered.
type Level string

const (
	LevelNovice    Level = "Novice"
	LevelOpen      Level = "Open"
	LevelExcellent Level = "Excellent"
	LevelMasters   Level = "Masters"
)

var levelRank = map[Level]int{
	LevelNovice:    1,
	LevelOpen:      2,
	LevelExcellent: 3,
	LevelMasters:   4,
}

// Rank returns the level's position in the ordering, or 0 for unknown levels.
func (l Level) Rank() int { return levelRank[l] }

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool { return l.Rank() > 0 }

// Less reports whether l is ranked below other.
func (l Level) Less(other Level) bool { return l.Rank() < other.Rank() }

// ParseLevel resolves a level name case-insensitively.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "novice":
		return LevelNovice, true
	case "open":
		return LevelOpen, true
	case "excellent":
		return LevelExcellent, true
	case "masters", "master":
		return LevelMasters, true
	}
	return "", false
}
