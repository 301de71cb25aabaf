package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventDogCreated         EventType = "dog_created"
	EventDogDeleted         EventType = "dog_deleted"
	EventRunRecorded        EventType = "run_recorded"
	EventRunUpdated         EventType = "run_updated"
	EventRunDeleted         EventType = "run_deleted"
	EventLevelUp            EventType = "level_up"
	EventLevelsRecalculated EventType = "levels_recalculated"
	EventProgressionFailed  EventType = "progression_failed"
)

// AllEventTypes lists every event the tracker publishes.
func AllEventTypes() []EventType {
	return []EventType{
		EventDogCreated, EventDogDeleted,
		EventRunRecorded, EventRunUpdated, EventRunDeleted,
		EventLevelUp, EventLevelsRecalculated, EventProgressionFailed,
	}
}

// Event represents an immutable domain event.
type Event struct {
	Type      EventType      `json:"type"`
	Time      time.Time      `json:"time"`
	DogID     DogID          `json:"dog_id"`
	DogName   string         `json:"dog_name,omitempty"`
	Class     Class          `json:"class,omitempty"`
	FromLevel Level          `json:"from_level,omitempty"`
	ToLevel   Level          `json:"to_level,omitempty"`
	RunID     RunID          `json:"run_id,omitempty"`
	Qualified bool           `json:"qualified,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ProgressionEvent is reported to the caller that recorded a run when the
// run moved the dog up a level.
type ProgressionEvent struct {
	DogID     DogID  `json:"dog_id"`
	DogName   string `json:"dog_name"`
	Class     Class  `json:"class"`
	FromLevel Level  `json:"from_level"`
	ToLevel   Level  `json:"to_level"`
}

// Event converts the progression into a bus event.
func (p ProgressionEvent) Event() Event {
	return NewLevelUp(p.DogID, p.DogName, p.Class, p.FromLevel, p.ToLevel)
}

func NewDogCreated(dog Dog) Event {
	return Event{Type: EventDogCreated, Time: time.Now().UTC(), DogID: dog.ID, DogName: dog.Name}
}

func NewDogDeleted(id DogID) Event {
	return Event{Type: EventDogDeleted, Time: time.Now().UTC(), DogID: id}
}

func NewRunRecorded(run Run) Event {
	return Event{Type: EventRunRecorded, Time: time.Now().UTC(), DogID: run.DogID, Class: run.Class, ToLevel: run.Level, RunID: run.ID, Qualified: run.Qualified}
}

func NewRunUpdated(run Run) Event {
	return Event{Type: EventRunUpdated, Time: time.Now().UTC(), DogID: run.DogID, Class: run.Class, ToLevel: run.Level, RunID: run.ID, Qualified: run.Qualified}
}

func NewRunDeleted(dog DogID, run RunID) Event {
	return Event{Type: EventRunDeleted, Time: time.Now().UTC(), DogID: dog, RunID: run}
}

func NewLevelUp(dog DogID, name string, class Class, from, to Level) Event {
	return Event{Type: EventLevelUp, Time: time.Now().UTC(), DogID: dog, DogName: name, Class: class, FromLevel: from, ToLevel: to}
}

func NewLevelsRecalculated(dog Dog, changed int) Event {
	return Event{
		Type:     EventLevelsRecalculated,
		Time:     time.Now().UTC(),
		DogID:    dog.ID,
		DogName:  dog.Name,
		Metadata: map[string]any{"changed": changed},
	}
}

func NewProgressionFailed(run Run, err error) Event {
	return Event{
		Type:     EventProgressionFailed,
		Time:     time.Now().UTC(),
		DogID:    run.DogID,
		Class:    run.Class,
		RunID:    run.ID,
		Metadata: map[string]any{"error": err.Error()},
	}
}
