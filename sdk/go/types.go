package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"agilitytrack/core"
)

// NewDog is the body of a create-dog call.
type NewDog struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name"`
	CallName string   `json:"call_name,omitempty"`
	Breed    string   `json:"breed,omitempty"`
	Handler  string   `json:"handler,omitempty"`
	Classes  []string `json:"classes,omitempty"`
}

// RunRequest is the body of a record or update run call. Date is YYYY-MM-DD.
type RunRequest struct {
	Date      string  `json:"date"`
	Class     string  `json:"class"`
	Level     string  `json:"level"`
	Qualified bool    `json:"qualified"`
	Placement int     `json:"placement,omitempty"`
	Score     int     `json:"score,omitempty"`
	Time      float64 `json:"time,omitempty"`
	Faults    int     `json:"faults,omitempty"`
	Location  string  `json:"location,omitempty"`
	Judge     string  `json:"judge,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

// Run builds a RunRequest for a calendar date.
func Run(date time.Time, class core.Class, level core.Level, qualified bool) RunRequest {
	return RunRequest{Date: date.Format(time.DateOnly), Class: string(class), Level: string(level), Qualified: qualified}
}

// RunResult mirrors the record-run response.
type RunResult struct {
	Run     core.Run               `json:"run"`
	LevelUp *core.ProgressionEvent `json:"level_up,omitempty"`
}

// LevelChange is one class whose level a recalculation moved.
type LevelChange struct {
	Class core.Class `json:"class"`
	From  core.Level `json:"from"`
	To    core.Level `json:"to"`
}

// Recalculation mirrors the batch recalculation summary.
type Recalculation struct {
	Levels   []core.ClassLevel           `json:"levels"`
	Counted  int                         `json:"counted"`
	Ignored  int                         `json:"ignored"`
	Excluded map[core.Class][]core.RunID `json:"excluded,omitempty"`
	Changes  []LevelChange               `json:"changes"`
}

type ImportResult struct {
	Imported      int           `json:"imported"`
	Recalculation Recalculation `json:"recalculation"`
}

// MachProgress mirrors the MACH section of a progress report.
type MachProgress struct {
	Complete           int    `json:"complete"`
	Title              string `json:"title,omitempty"`
	Points             int    `json:"points"`
	DoubleQs           int    `json:"double_qs"`
	PointsTowardNext   int    `json:"points_toward_next"`
	DoubleQsTowardNext int    `json:"double_qs_toward_next"`
}

// LadderProgress mirrors one title ladder.
type LadderProgress struct {
	Class     core.Class `json:"class"`
	Title     string     `json:"title"`
	Threshold int        `json:"threshold"`
	Progress  int        `json:"progress"`
	Earned    bool       `json:"earned"`
}

// Progress mirrors the public JSON of a dog's progress report.
type Progress struct {
	DogID      string            `json:"dog_id"`
	DogName    string            `json:"dog_name"`
	Classes    []core.ClassLevel `json:"classes"`
	MachPoints int               `json:"mach_points"`
	Mach       MachProgress      `json:"mach"`
	Ladders    []LadderProgress  `json:"ladders"`
	Titles     []string          `json:"titles"`
}

// LeaderboardEntry is one ranked dog.
type LeaderboardEntry struct {
	Rank       int    `json:"rank"`
	DogID      string `json:"dog_id"`
	DogName    string `json:"dog_name"`
	MachPoints int64  `json:"mach_points"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

// APIError is the server's error body.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyDogID is returned when dog id is empty.
var ErrEmptyDogID = errors.New("dog id is required")
