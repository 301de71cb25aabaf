package core

import "fmt"

// Rule is one link in a class's progression chain: Required qualifying runs
// at From earn Title and, unless To is nil, advance the dog to *To.
type Rule struct {
	From     Level  `json:"from"`
	Required int    `json:"required"`
	To       *Level `json:"to,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Terminal reports whether the rule ends the chain (no further level).
func (r Rule) Terminal() bool { return r.To == nil }

// Next returns the level the rule advances to, or "" for terminal rules.
func (r Rule) Next() Level {
	if r.To == nil {
		return ""
	}
	return *r.To
}

// RuleSet is the progression chain for one class.
type RuleSet struct {
	Class Class  `json:"class"`
	Start Level  `json:"start"`
	Rules []Rule `json:"rules"`
}

// RuleFor returns the rule whose From level is level.
func (rs RuleSet) RuleFor(level Level) (Rule, bool) {
	for _, r := range rs.Rules {
		if r.From == level {
			return r, true
		}
	}
	return Rule{}, false
}

// HasLevel reports whether level is part of the chain.
func (rs RuleSet) HasLevel(level Level) bool {
	_, ok := rs.RuleFor(level)
	return ok
}

// Terminal returns the last rule of the chain.
func (rs RuleSet) Terminal() Rule {
	return rs.Rules[len(rs.Rules)-1]
}

func lvl(l Level) *Level { return &l }

// chain builds the usual Novice/Open/Excellent -> Masters chain with three
// Qs per level. titles holds the title for each of the four levels in order.
func chain(class Class, mastersRequired int, titles [4]string) RuleSet {
	return RuleSet{
		Class: class,
		Start: LevelNovice,
		Rules: []Rule{
			{From: LevelNovice, Required: 3, To: lvl(LevelOpen), Title: titles[0]},
			{From: LevelOpen, Required: 3, To: lvl(LevelExcellent), Title: titles[1]},
			{From: LevelExcellent, Required: 3, To: lvl(LevelMasters), Title: titles[2]},
			{From: LevelMasters, Required: mastersRequired, Title: titles[3]},
		},
	}
}

func premierChain(class Class, title string) RuleSet {
	return RuleSet{
		Class: class,
		Start: LevelOpen,
		Rules: []Rule{
			{From: LevelOpen, Required: 3, To: lvl(LevelExcellent)},
			{From: LevelExcellent, Required: 3, To: lvl(LevelMasters)},
			{From: LevelMasters, Required: 25, Title: title},
		},
	}
}

// ruleTable is read-only after package initialisation.
var ruleTable = map[Class]RuleSet{
	ClassStandard:        chain(ClassStandard, 10, [4]string{"NA", "OA", "AX", "MX"}),
	ClassJumpers:         chain(ClassJumpers, 10, [4]string{"NAJ", "OAJ", "AXJ", "MXJ"}),
	ClassFAST:            chain(ClassFAST, 10, [4]string{"NF", "OF", "XF", "MXF"}),
	ClassT2B:             chain(ClassT2B, 15, [4]string{"", "", "", "T2B"}),
	ClassPremierStandard: premierChain(ClassPremierStandard, "PAD"),
	ClassPremierJumpers:  premierChain(ClassPremierJumpers, "PJD"),
}

// Rules looks up the progression chain for class. The returned RuleSet is a
// copy; callers cannot modify the table through it.
func Rules(class Class) (RuleSet, bool) {
	rs, ok := ruleTable[class]
	if !ok {
		return RuleSet{}, false
	}
	cp := rs
	cp.Rules = make([]Rule, len(rs.Rules))
	for i, r := range rs.Rules {
		cp.Rules[i] = r
		if r.To != nil {
			cp.Rules[i].To = lvl(*r.To)
		}
	}
	return cp, true
}

// LookupRules is Rules reporting an unknown class as ErrNoRules.
func LookupRules(class Class) (RuleSet, error) {
	rs, ok := Rules(class)
	if !ok {
		return RuleSet{}, fmt.Errorf("%w %q", ErrNoRules, class)
	}
	return rs, nil
}

// StartingLevel returns the level a dog enters class at.
func StartingLevel(class Class) (Level, error) {
	rs, err := LookupRules(class)
	if err != nil {
		return "", err
	}
	return rs.Start, nil
}
