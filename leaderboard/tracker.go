package leaderboard

import (
	"context"
	"log/slog"

	"agilitytrack/core"
)

// ScoreFunc resolves a dog's current name and score. found is false when the
// dog no longer exists.
type ScoreFunc func(ctx context.Context, dog core.DogID) (name string, score int64, found bool, err error)

// Tracker keeps a Board current from tracker events.
type Tracker struct {
	board  Board
	score  ScoreFunc
	logger *slog.Logger
}

func NewTracker(board Board, score ScoreFunc, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{board: board, score: score, logger: logger}
}

// Events lists the event types that can move a dog's score.
func (t *Tracker) Events() []core.EventType {
	return []core.EventType{
		core.EventDogCreated,
		core.EventDogDeleted,
		core.EventRunRecorded,
		core.EventRunUpdated,
		core.EventRunDeleted,
		core.EventLevelsRecalculated,
	}
}

// Refresh re-reads one dog's score into the board.
func (t *Tracker) Refresh(ctx context.Context, dog core.DogID) error {
	name, score, found, err := t.score(ctx, dog)
	if err != nil {
		return err
	}
	if !found {
		t.board.Remove(dog)
		return nil
	}
	t.board.Update(dog, name, score)
	return nil
}

// OnEvent is the event-bus handler.
func (t *Tracker) OnEvent(ctx context.Context, e core.Event) {
	if e.DogID == "" {
		return
	}
	if err := t.Refresh(ctx, e.DogID); err != nil {
		t.logger.Warn("leaderboard refresh failed", "dog_id", e.DogID, "error", err)
	}
}

func (t *Tracker) Board() Board { return t.board }
