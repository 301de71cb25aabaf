package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"agilitytrack/core"
)

// Store is a concurrent in-memory Storage implementation.
type Store struct {
	dogs sync.Map // map[core.DogID]*dogRecord
	seq  atomic.Int64
}

type dogRecord struct {
	mu      sync.Mutex
	dog     core.Dog
	runs    []core.Run
	deleted bool
}

func New() *Store { return &Store{} }

func (s *Store) record(id core.DogID) (*dogRecord, error) {
	v, ok := s.dogs.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrDogNotFound, id)
	}
	return v.(*dogRecord), nil
}

// lock returns the dog's record locked. Callers must unlock.
func (s *Store) lock(id core.DogID) (*dogRecord, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	if rec.deleted {
		rec.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", core.ErrDogNotFound, id)
	}
	return rec, nil
}

func (s *Store) CreateDog(_ context.Context, dog core.Dog) error {
	rec := &dogRecord{dog: dog.Clone()}
	if _, loaded := s.dogs.LoadOrStore(dog.ID, rec); loaded {
		return fmt.Errorf("%w: %s", core.ErrDuplicateDog, dog.ID)
	}
	return nil
}

func (s *Store) GetDog(_ context.Context, id core.DogID) (core.Dog, error) {
	rec, err := s.lock(id)
	if err != nil {
		return core.Dog{}, err
	}
	defer rec.mu.Unlock()
	return rec.dog.Clone(), nil
}

// ListDogs returns all dogs ordered by name.
func (s *Store) ListDogs(_ context.Context) ([]core.Dog, error) {
	out := []core.Dog{}
	s.dogs.Range(func(_, v any) bool {
		rec := v.(*dogRecord)
		rec.mu.Lock()
		if !rec.deleted {
			out = append(out, rec.dog.Clone())
		}
		rec.mu.Unlock()
		return true
	})
	slices.SortFunc(out, func(a, b core.Dog) int {
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

// DeleteDog removes the dog and its runs.
func (s *Store) DeleteDog(_ context.Context, id core.DogID) error {
	rec, err := s.lock(id)
	if err != nil {
		return err
	}
	rec.deleted = true
	rec.runs = nil
	s.dogs.Delete(id)
	rec.mu.Unlock()
	return nil
}

// SetClassLevels applies every entry under the dog's lock, so readers never
// observe a partial update.
func (s *Store) SetClassLevels(_ context.Context, id core.DogID, levels []core.ClassLevel) error {
	rec, err := s.lock(id)
	if err != nil {
		return err
	}
	defer rec.mu.Unlock()
	rec.dog.ApplyLevels(levels)
	rec.dog.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AddRun(_ context.Context, run core.Run) (core.Run, error) {
	rec, err := s.lock(run.DogID)
	if err != nil {
		return core.Run{}, err
	}
	defer rec.mu.Unlock()
	run.Seq = s.seq.Add(1)
	rec.runs = append(rec.runs, run)
	return run, nil
}

func (s *Store) GetRun(_ context.Context, dog core.DogID, id core.RunID) (core.Run, error) {
	rec, err := s.lock(dog)
	if err != nil {
		return core.Run{}, err
	}
	defer rec.mu.Unlock()
	i := rec.indexOf(id)
	if i < 0 {
		return core.Run{}, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	return rec.runs[i], nil
}

// UpdateRun replaces a stored run. Seq and CreatedAt are preserved.
func (s *Store) UpdateRun(_ context.Context, run core.Run) error {
	rec, err := s.lock(run.DogID)
	if err != nil {
		return err
	}
	defer rec.mu.Unlock()
	i := rec.indexOf(run.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", core.ErrRunNotFound, run.ID)
	}
	run.Seq = rec.runs[i].Seq
	run.CreatedAt = rec.runs[i].CreatedAt
	rec.runs[i] = run
	return nil
}

func (s *Store) DeleteRun(_ context.Context, dog core.DogID, id core.RunID) error {
	rec, err := s.lock(dog)
	if err != nil {
		return err
	}
	defer rec.mu.Unlock()
	i := rec.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	rec.runs = slices.Delete(rec.runs, i, i+1)
	return nil
}

// GetRunsForDog returns the dog's runs in insertion order.
func (s *Store) GetRunsForDog(_ context.Context, id core.DogID) ([]core.Run, error) {
	rec, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer rec.mu.Unlock()
	return slices.Clone(rec.runs), nil
}

func (s *Store) CountQualifyingRuns(_ context.Context, id core.DogID, class core.Class, level core.Level) (int, error) {
	rec, err := s.lock(id)
	if err != nil {
		return 0, err
	}
	defer rec.mu.Unlock()
	n := 0
	for _, r := range rec.runs {
		if r.Qualified && r.Class == class && r.Level == level {
			n++
		}
	}
	return n, nil
}

func (r *dogRecord) indexOf(id core.RunID) int {
	return slices.IndexFunc(r.runs, func(run core.Run) bool { return run.ID == id })
}
