package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DogID uniquely identifies a dog within the account.
type DogID string

// RunID uniquely identifies a single competition run.
type RunID string

// NewDogID returns a random dog identifier.
func NewDogID() DogID { return DogID(uuid.NewString()) }

// NewRunID returns a random run identifier.
func NewRunID() RunID { return RunID(uuid.NewString()) }

// ClassLevel is a dog's current level in one competition class.
type ClassLevel struct {
	Class Class `json:"class"`
	Level Level `json:"level"`
}

// Dog is a snapshot of a dog and its class entries.
// Implementations should return deep copies to maintain immutability guarantees.
type Dog struct {
	ID        DogID        `json:"id"`
	Name      string       `json:"name"`
	CallName  string       `json:"call_name,omitempty"`
	Breed     string       `json:"breed,omitempty"`
	Handler   string       `json:"handler,omitempty"`
	Classes   []ClassLevel `json:"classes"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Clone returns a deep copy of the dog.
func (d Dog) Clone() Dog {
	cp := d
	cp.Classes = append([]ClassLevel(nil), d.Classes...)
	return cp
}

// LevelFor returns the persisted level for class, if the dog is entered in it.
func (d Dog) LevelFor(class Class) (Level, bool) {
	for _, cl := range d.Classes {
		if cl.Class == class {
			return cl.Level, true
		}
	}
	return "", false
}

// ApplyLevels upserts the given entries into the dog's class list, keeping
// existing order and appending classes the dog was not yet entered in.
func (d *Dog) ApplyLevels(updates []ClassLevel) {
	for _, u := range updates {
		found := false
		for i := range d.Classes {
			if d.Classes[i].Class == u.Class {
				d.Classes[i].Level = u.Level
				found = true
				break
			}
		}
		if !found {
			d.Classes = append(d.Classes, u)
		}
	}
}

// ClassList returns the classes the dog is entered in.
func (d Dog) ClassList() []Class {
	out := make([]Class, 0, len(d.Classes))
	for _, cl := range d.Classes {
		out = append(out, cl.Class)
	}
	return out
}

// Run is a single competition result. Once recorded it is a historical fact;
// Level is the level the dog competed at when the run took place.
type Run struct {
	ID        RunID     `json:"id"`
	DogID     DogID     `json:"dog_id"`
	Date      time.Time `json:"date"`
	Class     Class     `json:"class"`
	Level     Level     `json:"level"`
	Qualified bool      `json:"qualified"`
	Placement int       `json:"placement,omitempty"`
	Score     int       `json:"score,omitempty"`
	Time      float64   `json:"time,omitempty"`
	Faults    int       `json:"faults,omitempty"`
	Location  string    `json:"location,omitempty"`
	Judge     string    `json:"judge,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	// Seq is the store-assigned insertion order, used to break ties between
	// runs on the same date.
	Seq int64 `json:"seq"`
}

// DateKey returns the UTC calendar day of the run.
func (r Run) DateKey() string { return r.Date.UTC().Format(time.DateOnly) }

// ProgressionChanged reports whether an edit from r to next touches any field
// that feeds level computation.
func (r Run) ProgressionChanged(next Run) bool {
	return r.Class != next.Class ||
		r.Level != next.Level ||
		!r.Date.Equal(next.Date) ||
		r.Qualified != next.Qualified
}

// NormalizeDogID trims dog identifiers.
func NormalizeDogID(id DogID) (DogID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty dog id")
	}
	return DogID(s), nil
}

// ValidateRun checks the fields every stored run must carry. A level that is
// not part of the class's progression chain is accepted here; the engine
// excludes such runs when counting.
func ValidateRun(r Run) error {
	var errs []string
	if _, ok := Rules(r.Class); !ok {
		errs = append(errs, fmt.Sprintf("unknown class %q", r.Class))
	}
	if !r.Level.Valid() {
		errs = append(errs, fmt.Sprintf("unknown level %q", r.Level))
	}
	if r.Date.IsZero() {
		errs = append(errs, "date is required")
	}
	if r.Placement < 0 {
		errs = append(errs, "placement cannot be negative")
	}
	if r.Score < 0 {
		errs = append(errs, "score cannot be negative")
	}
	if r.Faults < 0 {
		errs = append(errs, "faults cannot be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRun, strings.Join(errs, "; "))
	}
	return nil
}
