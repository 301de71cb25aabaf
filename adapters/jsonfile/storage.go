package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"agilitytrack/core"
)

// Store persists all dogs and runs to a single JSON file.
// Suitable for a single handler's records and for demos.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory copy of the file
	data fileState
}

type fileState struct {
	Seq  int64                     `json:"seq"`
	Dogs map[core.DogID]*dogRecord `json:"dogs"`
}

type dogRecord struct {
	Dog  core.Dog   `json:"dog"`
	Runs []core.Run `json:"runs"`
}

func (r *dogRecord) clone() *dogRecord {
	return &dogRecord{Dog: r.Dog.Clone(), Runs: slices.Clone(r.Runs)}
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: fileState{Dogs: map[core.DogID]*dogRecord{}}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	if st.Dogs == nil {
		st.Dogs = map[core.DogID]*dogRecord{}
	}
	s.data = st
	return nil
}

// persist writes the whole state through a temp file and rename so a crash
// never leaves a truncated file behind.
func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// mutate applies fn to a copy of the dog's record and only swaps it in once
// the file has been written.
func (s *Store) mutate(id core.DogID, fn func(*dogRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.Dogs[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrDogNotFound, id)
	}
	next := rec.clone()
	seq := s.data.Seq
	if err := fn(next); err != nil {
		s.data.Seq = seq
		return err
	}
	s.data.Dogs[id] = next
	if err := s.persist(); err != nil {
		s.data.Dogs[id] = rec
		s.data.Seq = seq
		return err
	}
	return nil
}

func (s *Store) view(id core.DogID) (*dogRecord, error) {
	rec, ok := s.data.Dogs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrDogNotFound, id)
	}
	return rec, nil
}

func (s *Store) CreateDog(_ context.Context, dog core.Dog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Dogs[dog.ID]; ok {
		return fmt.Errorf("%w: %s", core.ErrDuplicateDog, dog.ID)
	}
	s.data.Dogs[dog.ID] = &dogRecord{Dog: dog.Clone(), Runs: []core.Run{}}
	if err := s.persist(); err != nil {
		delete(s.data.Dogs, dog.ID)
		return err
	}
	return nil
}

func (s *Store) GetDog(_ context.Context, id core.DogID) (core.Dog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.view(id)
	if err != nil {
		return core.Dog{}, err
	}
	return rec.Dog.Clone(), nil
}

// ListDogs returns all dogs ordered by name.
func (s *Store) ListDogs(_ context.Context) ([]core.Dog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Dog, 0, len(s.data.Dogs))
	for _, rec := range s.data.Dogs {
		out = append(out, rec.Dog.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteDog(_ context.Context, id core.DogID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.Dogs[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrDogNotFound, id)
	}
	delete(s.data.Dogs, id)
	if err := s.persist(); err != nil {
		s.data.Dogs[id] = rec
		return err
	}
	return nil
}

func (s *Store) SetClassLevels(_ context.Context, id core.DogID, levels []core.ClassLevel) error {
	return s.mutate(id, func(rec *dogRecord) error {
		rec.Dog.ApplyLevels(levels)
		rec.Dog.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (s *Store) AddRun(_ context.Context, run core.Run) (core.Run, error) {
	err := s.mutate(run.DogID, func(rec *dogRecord) error {
		s.data.Seq++
		run.Seq = s.data.Seq
		rec.Runs = append(rec.Runs, run)
		return nil
	})
	if err != nil {
		return core.Run{}, err
	}
	return run, nil
}

func (s *Store) GetRun(_ context.Context, dog core.DogID, id core.RunID) (core.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.view(dog)
	if err != nil {
		return core.Run{}, err
	}
	for _, r := range rec.Runs {
		if r.ID == id {
			return r, nil
		}
	}
	return core.Run{}, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
}

func (s *Store) UpdateRun(_ context.Context, run core.Run) error {
	return s.mutate(run.DogID, func(rec *dogRecord) error {
		for i := range rec.Runs {
			if rec.Runs[i].ID == run.ID {
				run.Seq = rec.Runs[i].Seq
				run.CreatedAt = rec.Runs[i].CreatedAt
				rec.Runs[i] = run
				return nil
			}
		}
		return fmt.Errorf("%w: %s", core.ErrRunNotFound, run.ID)
	})
}

func (s *Store) DeleteRun(_ context.Context, dog core.DogID, id core.RunID) error {
	return s.mutate(dog, func(rec *dogRecord) error {
		i := slices.IndexFunc(rec.Runs, func(r core.Run) bool { return r.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
		}
		rec.Runs = slices.Delete(rec.Runs, i, i+1)
		return nil
	})
}

func (s *Store) GetRunsForDog(_ context.Context, id core.DogID) ([]core.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.view(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(rec.Runs), nil
}

func (s *Store) CountQualifyingRuns(_ context.Context, id core.DogID, class core.Class, level core.Level) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.view(id)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rec.Runs {
		if r.Qualified && r.Class == class && r.Level == level {
			n++
		}
	}
	return n, nil
}
