package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"agilitytrack/core"
	"agilitytrack/engine"
)

const maxBodyBytes = 4 << 20

type createDogRequest struct {
	ID       string   `json:"id" validate:"omitempty,max=64"`
	Name     string   `json:"name" validate:"required,max=100"`
	CallName string   `json:"call_name" validate:"max=100"`
	Breed    string   `json:"breed" validate:"max=100"`
	Handler  string   `json:"handler" validate:"max=100"`
	Classes  []string `json:"classes" validate:"omitempty,dive,agility_class"`
}

type runRequest struct {
	Date      string  `json:"date" validate:"required,agility_date"`
	Class     string  `json:"class" validate:"required,agility_class"`
	Level     string  `json:"level" validate:"required,agility_level"`
	Qualified bool    `json:"qualified"`
	Placement int     `json:"placement" validate:"gte=0"`
	Score     int     `json:"score" validate:"gte=0"`
	Time      float64 `json:"time" validate:"gte=0"`
	Faults    int     `json:"faults" validate:"gte=0"`
	Location  string  `json:"location" validate:"max=200"`
	Judge     string  `json:"judge" validate:"max=100"`
	Notes     string  `json:"notes" validate:"max=2000"`
}

type importRequest struct {
	Runs []runRequest `json:"runs" validate:"required,min=1,dive"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("agility_class", func(fl validator.FieldLevel) bool {
		_, ok := core.ParseClass(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("agility_level", func(fl validator.FieldLevel) bool {
		_, ok := core.ParseLevel(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("agility_date", func(fl validator.FieldLevel) bool {
		_, err := parseDate(fl.Field().String())
		return err == nil
	})
	return v
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (r runRequest) input() engine.RunInput {
	class, _ := core.ParseClass(r.Class)
	level, _ := core.ParseLevel(r.Level)
	date, _ := parseDate(r.Date)
	return engine.RunInput{
		Date:      date,
		Class:     class,
		Level:     level,
		Qualified: r.Qualified,
		Placement: r.Placement,
		Score:     r.Score,
		Time:      r.Time,
		Faults:    r.Faults,
		Location:  r.Location,
		Judge:     r.Judge,
		Notes:     r.Notes,
	}
}

// decode reads a JSON body into dst and validates it. On failure the error
// response has already been written.
func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Namespace()] = fe.Tag()
			}
			writeError(w, http.StatusBadRequest, "invalid_input", "request validation failed", details)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return false
	}
	return true
}

// fail maps service errors onto HTTP statuses.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrDogNotFound), errors.Is(err, core.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, core.ErrDuplicateDog):
		writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, core.ErrInvalidDog), errors.Is(err, core.ErrInvalidRun), errors.Is(err, core.ErrNoRules):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	default:
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func dogID(r *http.Request) core.DogID { return core.DogID(r.PathValue("id")) }

// healthCheck verifies storage answers a list query.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{"storage": "ok", "dropped_events": a.svc.DroppedEvents()}
	status := map[string]any{"status": "healthy", "checks": checks}
	if _, err := a.svc.ListDogs(r.Context()); err != nil {
		status["status"] = "unhealthy"
		checks["storage"] = "failed"
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *api) listDogs(w http.ResponseWriter, r *http.Request) {
	dogs, err := a.svc.ListDogs(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if dogs == nil {
		dogs = []core.Dog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dogs": dogs})
}

func (a *api) createDog(w http.ResponseWriter, r *http.Request) {
	var req createDogRequest
	if !a.decode(w, r, &req) {
		return
	}
	in := engine.NewDog{
		ID:       core.DogID(req.ID),
		Name:     req.Name,
		CallName: req.CallName,
		Breed:    req.Breed,
		Handler:  req.Handler,
	}
	for _, c := range req.Classes {
		class, _ := core.ParseClass(c)
		in.Classes = append(in.Classes, class)
	}
	dog, err := a.svc.CreateDog(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dog)
}

func (a *api) getDog(w http.ResponseWriter, r *http.Request) {
	dog, err := a.svc.GetDog(r.Context(), dogID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dog)
}

func (a *api) deleteDog(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteDog(r.Context(), dogID(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := a.svc.GetRuns(r.Context(), dogID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []core.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (a *api) recordRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.svc.RecordRun(r.Context(), dogID(r), req.input())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *api) importRuns(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !a.decode(w, r, &req) {
		return
	}
	inputs := make([]engine.RunInput, 0, len(req.Runs))
	for _, rr := range req.Runs {
		inputs = append(inputs, rr.input())
	}
	res, err := a.svc.ImportRuns(r.Context(), dogID(r), inputs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) updateRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.svc.UpdateRun(r.Context(), dogID(r), core.RunID(r.PathValue("runId")), req.input())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) deleteRun(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.DeleteRun(r.Context(), dogID(r), core.RunID(r.PathValue("runId")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) recalculate(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.Recalculate(r.Context(), dogID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) progress(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.Progress(r.Context(), dogID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) diagnose(w http.ResponseWriter, r *http.Request) {
	d, err := a.svc.Diagnose(r.Context(), dogID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"classes": d})
}

type rankedEntry struct {
	Rank  int        `json:"rank"`
	Dog   core.DogID `json:"dog_id"`
	Name  string     `json:"dog_name,omitempty"`
	Score int64      `json:"mach_points"`
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit", fmt.Sprintf("limit must be 1..1000, got %q", s), nil)
			return
		}
		limit = n
	}
	top := a.board.TopN(limit)
	out := make([]rankedEntry, 0, len(top))
	for i, e := range top {
		out = append(out, rankedEntry{Rank: i + 1, Dog: e.Dog, Name: e.Name, Score: e.Score})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out, "total": a.board.Len()})
}
