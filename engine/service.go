package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"agilitytrack/core"
	"agilitytrack/progress"
)

// NewDog describes a dog to create. When Classes is empty the dog is entered
// in every known class.
type NewDog struct {
	ID       core.DogID   `json:"id,omitempty"`
	Name     string       `json:"name"`
	CallName string       `json:"call_name,omitempty"`
	Breed    string       `json:"breed,omitempty"`
	Handler  string       `json:"handler,omitempty"`
	Classes  []core.Class `json:"classes,omitempty"`
}

// RunInput carries the user-supplied fields of a run.
type RunInput struct {
	Date      time.Time  `json:"date"`
	Class     core.Class `json:"class"`
	Level     core.Level `json:"level"`
	Qualified bool       `json:"qualified"`
	Placement int        `json:"placement,omitempty"`
	Score     int        `json:"score,omitempty"`
	Time      float64    `json:"time,omitempty"`
	Faults    int        `json:"faults,omitempty"`
	Location  string     `json:"location,omitempty"`
	Judge     string     `json:"judge,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

func (in RunInput) apply(r core.Run) core.Run {
	r.Date = in.Date
	r.Class = in.Class
	r.Level = in.Level
	r.Qualified = in.Qualified
	r.Placement = in.Placement
	r.Score = in.Score
	r.Time = in.Time
	r.Faults = in.Faults
	r.Location = strings.TrimSpace(in.Location)
	r.Judge = strings.TrimSpace(in.Judge)
	r.Notes = in.Notes
	return r
}

// RunResult is returned from RecordRun. LevelUp is set when the run moved the
// dog up a level.
type RunResult struct {
	Run     core.Run               `json:"run"`
	LevelUp *core.ProgressionEvent `json:"level_up,omitempty"`
}

// UpdateResult is returned from UpdateRun and DeleteRun.
type UpdateResult struct {
	Run           *core.Run      `json:"run,omitempty"`
	Recalculation *Recalculation `json:"recalculation,omitempty"`
}

// ImportResult is returned from ImportRuns.
type ImportResult struct {
	Imported      int           `json:"imported"`
	Recalculation Recalculation `json:"recalculation"`
}

// Diagnosis compares the persisted level with both level computations.
type Diagnosis struct {
	Class     core.Class       `json:"class"`
	Persisted core.Level       `json:"persisted"`
	Ordered   LevelComputation `json:"ordered"`
	EverMet   LevelComputation `json:"ever_met"`
	// Consistent is false when the persisted level differs from the ordered
	// replay, meaning a recalculation is due.
	Consistent bool `json:"consistent"`
	// Divergent is true when the two computations disagree.
	Divergent bool `json:"divergent"`
}

// DogProgress is the progress report plus the authoritative per-class state.
type DogProgress struct {
	progress.Report
	Levels []LevelComputation `json:"levels"`
}

// TrackerService wires storage, the progression engine and the event bus into
// a cohesive API.
type TrackerService struct {
	storage Storage
	bus     *EventBus
	trigger *Trigger
	recalc  *Recalculator
	logger  *slog.Logger
	reports *cache.Cache

	// genMu guards gens, the per-dog write generation. A report is only
	// cached when no write landed while it was being built.
	genMu sync.Mutex
	gens  map[core.DogID]uint64
}

// Option configures a TrackerService.
type Option func(*TrackerService)

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *TrackerService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReportCache caches progress reports per dog for ttl. Any write for a
// dog drops its entry. A non-positive ttl disables caching.
func WithReportCache(ttl time.Duration) Option {
	return func(s *TrackerService) {
		if ttl <= 0 {
			s.reports = nil
			return
		}
		s.reports = cache.New(ttl, 2*ttl)
	}
}

func NewTrackerService(storage Storage, bus *EventBus, opts ...Option) *TrackerService {
	if storage == nil || bus == nil {
		panic("NewTrackerService requires non-nil storage and bus")
	}
	s := &TrackerService{
		storage: storage,
		bus:     bus,
		trigger: NewTrigger(storage, storage),
		recalc:  NewRecalculator(storage),
		logger:  slog.Default(),
		gens:    map[core.DogID]uint64{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe convenience method.
func (s *TrackerService) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

// SubscribeAll registers handler for each listed type, or every type when
// none are given.
func (s *TrackerService) SubscribeAll(handler func(context.Context, core.Event), types ...core.EventType) func() {
	if len(types) == 0 {
		types = core.AllEventTypes()
	}
	return s.bus.SubscribeAll(handler, types...)
}

func (s *TrackerService) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

func (s *TrackerService) Close() { s.bus.Close() }

// DroppedEvents reports async events discarded on a full queue.
func (s *TrackerService) DroppedEvents() int64 { return s.bus.Dropped() }

// CreateDog stores a new dog entered at each class's starting level.
func (s *TrackerService) CreateDog(ctx context.Context, in NewDog) (core.Dog, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return core.Dog{}, fmt.Errorf("%w: name is required", core.ErrInvalidDog)
	}
	id := in.ID
	if strings.TrimSpace(string(id)) == "" {
		id = core.NewDogID()
	}
	id, err := core.NormalizeDogID(id)
	if err != nil {
		return core.Dog{}, fmt.Errorf("%w: %v", core.ErrInvalidDog, err)
	}

	classes := in.Classes
	if len(classes) == 0 {
		classes = core.AllClasses()
	}
	now := time.Now().UTC()
	dog := core.Dog{
		ID:        id,
		Name:      name,
		CallName:  strings.TrimSpace(in.CallName),
		Breed:     strings.TrimSpace(in.Breed),
		Handler:   strings.TrimSpace(in.Handler),
		CreatedAt: now,
		UpdatedAt: now,
	}
	seen := map[core.Class]bool{}
	for _, c := range classes {
		if seen[c] {
			continue
		}
		seen[c] = true
		start, err := core.StartingLevel(c)
		if err != nil {
			return core.Dog{}, err
		}
		dog.Classes = append(dog.Classes, core.ClassLevel{Class: c, Level: start})
	}

	if err := s.storage.CreateDog(ctx, dog); err != nil {
		return core.Dog{}, err
	}
	s.bus.Publish(ctx, core.NewDogCreated(dog))
	return dog, nil
}

func (s *TrackerService) GetDog(ctx context.Context, id core.DogID) (core.Dog, error) {
	normalized, err := core.NormalizeDogID(id)
	if err != nil {
		return core.Dog{}, err
	}
	return s.storage.GetDog(ctx, normalized)
}

func (s *TrackerService) ListDogs(ctx context.Context) ([]core.Dog, error) {
	return s.storage.ListDogs(ctx)
}

func (s *TrackerService) DeleteDog(ctx context.Context, id core.DogID) error {
	normalized, err := core.NormalizeDogID(id)
	if err != nil {
		return err
	}
	if err := s.storage.DeleteDog(ctx, normalized); err != nil {
		return err
	}
	s.invalidate(normalized)
	s.bus.Publish(ctx, core.NewDogDeleted(normalized))
	return nil
}

// GetRuns returns the dog's runs in date order.
func (s *TrackerService) GetRuns(ctx context.Context, id core.DogID) ([]core.Run, error) {
	dog, err := s.GetDog(ctx, id)
	if err != nil {
		return nil, err
	}
	runs, err := s.storage.GetRunsForDog(ctx, dog.ID)
	if err != nil {
		return nil, err
	}
	return SortRuns(runs), nil
}

// RecordRun stores a run and then runs the incremental trigger. The stored
// run is authoritative: a progression failure is logged and never fails the
// call.
func (s *TrackerService) RecordRun(ctx context.Context, id core.DogID, in RunInput) (RunResult, error) {
	dog, err := s.GetDog(ctx, id)
	if err != nil {
		return RunResult{}, err
	}
	run := in.apply(core.Run{ID: core.NewRunID(), DogID: dog.ID, CreatedAt: time.Now().UTC()})
	if err := core.ValidateRun(run); err != nil {
		return RunResult{}, err
	}
	if err := s.enterClasses(ctx, &dog, run.Class); err != nil {
		return RunResult{}, err
	}

	stored, err := s.storage.AddRun(ctx, run)
	if err != nil {
		return RunResult{}, err
	}
	s.invalidate(dog.ID)
	s.bus.Publish(ctx, core.NewRunRecorded(stored))

	res := RunResult{Run: stored}
	ev, err := s.trigger.OnRunRecorded(ctx, dog, stored)
	if err != nil {
		s.logger.Error("auto-progression failed, run kept",
			"dog_id", dog.ID, "run_id", stored.ID, "class", stored.Class, "error", err)
		s.bus.Publish(ctx, core.NewProgressionFailed(stored, err))
		return res, nil
	}
	if ev != nil {
		s.invalidate(dog.ID)
		s.logger.Info("dog leveled up",
			"dog_id", ev.DogID, "class", ev.Class, "from", ev.FromLevel, "to", ev.ToLevel)
		res.LevelUp = ev
		s.bus.Publish(ctx, ev.Event())
	}
	return res, nil
}

// UpdateRun replaces the user-supplied fields of a run. An edit that touches
// class, level, date or qualification is treated as removing the old fact and
// adding the new one, so levels are rebuilt with a batch recalculation.
func (s *TrackerService) UpdateRun(ctx context.Context, id core.DogID, runID core.RunID, in RunInput) (UpdateResult, error) {
	dog, err := s.GetDog(ctx, id)
	if err != nil {
		return UpdateResult{}, err
	}
	old, err := s.storage.GetRun(ctx, dog.ID, runID)
	if err != nil {
		return UpdateResult{}, err
	}
	next := in.apply(old)
	if err := core.ValidateRun(next); err != nil {
		return UpdateResult{}, err
	}
	if err := s.enterClasses(ctx, &dog, next.Class); err != nil {
		return UpdateResult{}, err
	}
	if err := s.storage.UpdateRun(ctx, next); err != nil {
		return UpdateResult{}, err
	}
	s.invalidate(dog.ID)
	s.bus.Publish(ctx, core.NewRunUpdated(next))

	res := UpdateResult{Run: &next}
	if old.ProgressionChanged(next) {
		res.Recalculation = s.recalculateBestEffort(ctx, dog.ID)
	}
	return res, nil
}

// DeleteRun removes a run and rebuilds the dog's levels.
func (s *TrackerService) DeleteRun(ctx context.Context, id core.DogID, runID core.RunID) (UpdateResult, error) {
	dog, err := s.GetDog(ctx, id)
	if err != nil {
		return UpdateResult{}, err
	}
	if err := s.storage.DeleteRun(ctx, dog.ID, runID); err != nil {
		return UpdateResult{}, err
	}
	s.invalidate(dog.ID)
	s.bus.Publish(ctx, core.NewRunDeleted(dog.ID, runID))
	return UpdateResult{Recalculation: s.recalculateBestEffort(ctx, dog.ID)}, nil
}

// ImportRuns stores runs in bulk without the incremental trigger, then
// rebuilds levels from the complete history. All inputs are validated before
// anything is written.
func (s *TrackerService) ImportRuns(ctx context.Context, id core.DogID, inputs []RunInput) (ImportResult, error) {
	dog, err := s.GetDog(ctx, id)
	if err != nil {
		return ImportResult{}, err
	}
	runs := make([]core.Run, 0, len(inputs))
	var classes []core.Class
	now := time.Now().UTC()
	for i, in := range inputs {
		r := in.apply(core.Run{ID: core.NewRunID(), DogID: dog.ID, CreatedAt: now})
		if err := core.ValidateRun(r); err != nil {
			return ImportResult{}, fmt.Errorf("run %d: %w", i, err)
		}
		runs = append(runs, r)
		classes = append(classes, r.Class)
	}
	if err := s.enterClasses(ctx, &dog, classes...); err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	for _, r := range runs {
		if _, err := s.storage.AddRun(ctx, r); err != nil {
			s.invalidate(dog.ID)
			s.logger.Error("import aborted, levels need recalculation",
				"dog_id", dog.ID, "imported", res.Imported, "error", err)
			return res, fmt.Errorf("import run %d of %d: %w", res.Imported+1, len(runs), err)
		}
		res.Imported++
	}
	s.invalidate(dog.ID)

	rc, err := s.Recalculate(ctx, dog.ID)
	if err != nil {
		return res, err
	}
	res.Recalculation = rc
	return res, nil
}

// Recalculate rebuilds every class level of the dog from its full history.
// Errors are returned so the caller can retry; nothing is half-written.
func (s *TrackerService) Recalculate(ctx context.Context, id core.DogID) (Recalculation, error) {
	dog, err := s.GetDog(ctx, id)
	if err != nil {
		return Recalculation{}, err
	}
	runs, err := s.storage.GetRunsForDog(ctx, dog.ID)
	if err != nil {
		return Recalculation{}, fmt.Errorf("load runs for %s: %w", dog.ID, err)
	}
	rc, err := s.recalc.RecalculateLevels(ctx, dog, runs)
	if err != nil {
		return Recalculation{}, err
	}
	s.invalidate(dog.ID)
	for _, c := range dog.ClassList() {
		if ids := rc.Excluded[c]; len(ids) > 0 {
			s.logExcluded(dog.ID, LevelComputation{Class: c, Excluded: ids})
		}
	}
	s.logger.Info("levels recalculated",
		"dog_id", dog.ID, "changed", len(rc.Changes), "counted", rc.Counted, "ignored", rc.Ignored)
	s.bus.Publish(ctx, core.NewLevelsRecalculated(dog, len(rc.Changes)))
	return rc, nil
}

func (s *TrackerService) recalculateBestEffort(ctx context.Context, id core.DogID) *Recalculation {
	rc, err := s.Recalculate(ctx, id)
	if err != nil {
		s.logger.Error("recalculation after edit failed, levels may be stale",
			"dog_id", id, "error", err)
		return nil
	}
	return &rc
}

// Diagnose evaluates both level computations per class next to the persisted
// level.
func (s *TrackerService) Diagnose(ctx context.Context, id core.DogID) ([]Diagnosis, error) {
	dog, runs, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Diagnosis, 0, len(dog.Classes))
	for _, cl := range dog.Classes {
		ordered, err := ComputeLevelAssumingOrderedHistory(runs, cl.Class)
		if err != nil {
			return nil, err
		}
		everMet, err := ComputeLevelByThresholdsEverMet(runs, cl.Class)
		if err != nil {
			return nil, err
		}
		s.logExcluded(dog.ID, ordered)
		out = append(out, Diagnosis{
			Class:      cl.Class,
			Persisted:  cl.Level,
			Ordered:    ordered,
			EverMet:    everMet,
			Consistent: cl.Level == ordered.CurrentLevel,
			Divergent:  ordered.CurrentLevel != everMet.CurrentLevel,
		})
	}
	return out, nil
}

// Progress builds the dog's progress report. Reports are cached per dog when
// a cache is configured; callers always get their own copy.
func (s *TrackerService) Progress(ctx context.Context, id core.DogID) (DogProgress, error) {
	normalized, err := core.NormalizeDogID(id)
	if err != nil {
		return DogProgress{}, err
	}
	if s.reports != nil {
		if v, ok := s.reports.Get(string(normalized)); ok {
			return v.(DogProgress).clone(), nil
		}
	}
	gen := s.generation(normalized)
	dog, runs, err := s.load(ctx, normalized)
	if err != nil {
		return DogProgress{}, err
	}
	levels, err := ComputeAll(runs, dog.ClassList(), ComputeLevelAssumingOrderedHistory)
	if err != nil {
		return DogProgress{}, err
	}
	for _, lc := range levels {
		s.logExcluded(dog.ID, lc)
	}
	out := DogProgress{Report: progress.BuildReport(dog, runs), Levels: levels}
	if s.reports != nil {
		s.cacheReport(normalized, gen, out)
		return out.clone(), nil
	}
	return out, nil
}

func (s *TrackerService) generation(id core.DogID) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[id]
}

// cacheReport stores p unless a write for the dog bumped its generation
// after gen was read.
func (s *TrackerService) cacheReport(id core.DogID, gen uint64, p DogProgress) bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gens[id] != gen {
		return false
	}
	s.reports.SetDefault(string(id), p)
	return true
}

func (p DogProgress) clone() DogProgress {
	out := p
	out.Classes = slices.Clone(p.Classes)
	out.DoubleQs.Dates = slices.Clone(p.DoubleQs.Dates)
	out.Ladders = slices.Clone(p.Ladders)
	out.Titles = slices.Clone(p.Titles)
	out.Summary.ByClass = slices.Clone(p.Summary.ByClass)
	if p.Summary.FirstRun != nil {
		t := *p.Summary.FirstRun
		out.Summary.FirstRun = &t
	}
	if p.Summary.LastRun != nil {
		t := *p.Summary.LastRun
		out.Summary.LastRun = &t
	}
	out.Levels = make([]LevelComputation, len(p.Levels))
	for i, lc := range p.Levels {
		lc.TitlesEarned = slices.Clone(lc.TitlesEarned)
		lc.Excluded = slices.Clone(lc.Excluded)
		if lc.NextRule != nil {
			r := *lc.NextRule
			if r.To != nil {
				to := *r.To
				r.To = &to
			}
			lc.NextRule = &r
		}
		out.Levels[i] = lc
	}
	return out
}

func (s *TrackerService) load(ctx context.Context, id core.DogID) (core.Dog, []core.Run, error) {
	dog, err := s.GetDog(ctx, id)
	if err != nil {
		return core.Dog{}, nil, err
	}
	runs, err := s.storage.GetRunsForDog(ctx, dog.ID)
	if err != nil {
		return core.Dog{}, nil, err
	}
	return dog, runs, nil
}

// enterClasses enters the dog in any of classes it is missing, at the class's
// starting level.
func (s *TrackerService) enterClasses(ctx context.Context, dog *core.Dog, classes ...core.Class) error {
	var missing []core.ClassLevel
	seen := map[core.Class]bool{}
	for _, c := range classes {
		if seen[c] {
			continue
		}
		seen[c] = true
		if _, ok := dog.LevelFor(c); ok {
			continue
		}
		start, err := core.StartingLevel(c)
		if err != nil {
			return err
		}
		missing = append(missing, core.ClassLevel{Class: c, Level: start})
	}
	if len(missing) == 0 {
		return nil
	}
	if err := s.storage.SetClassLevels(ctx, dog.ID, missing); err != nil {
		return fmt.Errorf("enter classes for %s: %w", dog.ID, err)
	}
	dog.ApplyLevels(missing)
	return nil
}

func (s *TrackerService) logExcluded(dog core.DogID, lc LevelComputation) {
	if len(lc.Excluded) == 0 {
		return
	}
	s.logger.Warn("runs logged at a level outside the class chain were excluded",
		"dog_id", dog, "class", lc.Class, "runs", lc.Excluded)
}

func (s *TrackerService) invalidate(id core.DogID) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gens[id]++
	if s.reports != nil {
		s.reports.Delete(string(id))
	}
}

// IsNotFound reports whether err means a dog or run does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, core.ErrDogNotFound) || errors.Is(err, core.ErrRunNotFound)
}
