package engine

import (
	"context"

	"agilitytrack/core"
)

// RunReader returns a dog's complete run history. Order is not significant;
// the engine sorts.
type RunReader interface {
	GetRunsForDog(ctx context.Context, dog core.DogID) ([]core.Run, error)
}

// RunCounter answers the single-class query the incremental trigger needs.
type RunCounter interface {
	CountQualifyingRuns(ctx context.Context, dog core.DogID, class core.Class, level core.Level) (int, error)
}

// DogReader loads a dog with its persisted class levels.
type DogReader interface {
	GetDog(ctx context.Context, dog core.DogID) (core.Dog, error)
}

// DogWriter persists class levels. SetClassLevels upserts every entry or, on
// error, none of them.
type DogWriter interface {
	SetClassLevels(ctx context.Context, dog core.DogID, updates []core.ClassLevel) error
}

// Storage abstracts persistence for dogs and runs.
type Storage interface {
	RunReader
	RunCounter
	DogReader
	DogWriter

	CreateDog(ctx context.Context, dog core.Dog) error
	ListDogs(ctx context.Context) ([]core.Dog, error)
	DeleteDog(ctx context.Context, dog core.DogID) error

	// AddRun stores a new run and returns it with Seq assigned.
	AddRun(ctx context.Context, run core.Run) (core.Run, error)
	GetRun(ctx context.Context, dog core.DogID, run core.RunID) (core.Run, error)
	UpdateRun(ctx context.Context, run core.Run) error
	DeleteRun(ctx context.Context, dog core.DogID, run core.RunID) error
}
