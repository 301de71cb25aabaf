// Package badger stores dogs and runs in an embedded BadgerDB.
//
// Keys:
//
//	dog/{dog_id}          -> JSON Dog
//	run/{dog_id}/{run_id} -> JSON Run
//	seq                   -> badger sequence for Run.Seq
//
// Every write runs in a single badger transaction, so multi-class level
// updates are all-or-nothing.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"agilitytrack/core"
)

// Config holds configuration for the embedded store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM; used by tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration
	// GCDiscardRatio is the minimum garbage ratio before GC rewrites a file.
	GCDiscardRatio float64
	// Logger receives badger's internal logs. Nil silences them.
	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Path:           "data/badger",
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store implements engine.Storage on BadgerDB.
type Store struct {
	db     *badgerdb.DB
	seq    *badgerdb.Sequence
	logger *slog.Logger
	stopGC chan struct{}
	gcDone chan struct{}
	once   sync.Once
}

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence([]byte("seq"), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open run sequence: %w", err)
	}

	s := &Store{db: db, seq: seq, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) && s.logger != nil {
				s.logger.Warn("badger value log GC error", "error", err)
			}
		}
	}
}

// Close stops GC, releases the sequence lease and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		if relErr := s.seq.Release(); relErr != nil {
			err = relErr
		}
		if closeErr := s.db.Close(); closeErr != nil {
			err = closeErr
		}
	})
	return err
}

func dogKey(id core.DogID) []byte { return []byte("dog/" + string(id)) }

func runPrefix(id core.DogID) []byte { return []byte("run/" + string(id) + "/") }

func runKey(dog core.DogID, id core.RunID) []byte {
	return append(runPrefix(dog), string(id)...)
}

func getJSON(txn *badgerdb.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error { return json.Unmarshal(val, v) })
}

func setJSON(txn *badgerdb.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

func loadDog(txn *badgerdb.Txn, id core.DogID) (core.Dog, error) {
	var dog core.Dog
	err := getJSON(txn, dogKey(id), &dog)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return core.Dog{}, fmt.Errorf("%w: %s", core.ErrDogNotFound, id)
	}
	if err != nil {
		return core.Dog{}, fmt.Errorf("get dog: %w", err)
	}
	return dog, nil
}

func (s *Store) CreateDog(_ context.Context, dog core.Dog) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(dogKey(dog.ID))
		if err == nil {
			return fmt.Errorf("%w: %s", core.ErrDuplicateDog, dog.ID)
		}
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, dogKey(dog.ID), dog)
	})
}

func (s *Store) GetDog(_ context.Context, id core.DogID) (core.Dog, error) {
	var dog core.Dog
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		dog, err = loadDog(txn, id)
		return err
	})
	return dog, err
}

// ListDogs returns all dogs ordered by name.
func (s *Store) ListDogs(_ context.Context) ([]core.Dog, error) {
	out := []core.Dog{}
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte("dog/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var dog core.Dog
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &dog) }); err != nil {
				return err
			}
			out = append(out, dog)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list dogs: %w", err)
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
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := loadDog(txn, id); err != nil {
			return err
		}
		keys, err := s.runKeys(txn, id)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(dogKey(id))
	})
}

func (s *Store) runKeys(txn *badgerdb.Txn, id core.DogID) ([][]byte, error) {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = runPrefix(id)
	it := txn.NewIterator(opts)
	defer it.Close()
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

// SetClassLevels rewrites the dog inside one transaction; badger aborts the
// commit with ErrConflict if another transaction touched the dog meanwhile.
func (s *Store) SetClassLevels(_ context.Context, id core.DogID, levels []core.ClassLevel) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		dog, err := loadDog(txn, id)
		if err != nil {
			return err
		}
		dog.ApplyLevels(levels)
		dog.UpdatedAt = time.Now().UTC()
		return setJSON(txn, dogKey(id), dog)
	})
}

func (s *Store) AddRun(_ context.Context, run core.Run) (core.Run, error) {
	n, err := s.seq.Next()
	if err != nil {
		return core.Run{}, fmt.Errorf("allocate run sequence: %w", err)
	}
	run.Seq = int64(n) + 1
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := loadDog(txn, run.DogID); err != nil {
			return err
		}
		return setJSON(txn, runKey(run.DogID, run.ID), run)
	})
	if err != nil {
		return core.Run{}, err
	}
	return run, nil
}

func (s *Store) GetRun(_ context.Context, dog core.DogID, id core.RunID) (core.Run, error) {
	var run core.Run
	err := s.db.View(func(txn *badgerdb.Txn) error {
		err := getJSON(txn, runKey(dog, id), &run)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
		}
		return err
	})
	return run, err
}

// UpdateRun replaces a stored run. Seq and CreatedAt are preserved.
func (s *Store) UpdateRun(_ context.Context, run core.Run) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		var old core.Run
		err := getJSON(txn, runKey(run.DogID, run.ID), &old)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", core.ErrRunNotFound, run.ID)
		}
		if err != nil {
			return err
		}
		run.Seq = old.Seq
		run.CreatedAt = old.CreatedAt
		return setJSON(txn, runKey(run.DogID, run.ID), run)
	})
}

func (s *Store) DeleteRun(_ context.Context, dog core.DogID, id core.RunID) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		key := runKey(dog, id)
		if _, err := txn.Get(key); errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

func (s *Store) GetRunsForDog(_ context.Context, id core.DogID) ([]core.Run, error) {
	out := []core.Run{}
	err := s.db.View(func(txn *badgerdb.Txn) error {
		if _, err := loadDog(txn, id); err != nil {
			return err
		}
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = runPrefix(id)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var r core.Run
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &r) }); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// keys iterate by run id; return insertion order like the other stores
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) CountQualifyingRuns(ctx context.Context, id core.DogID, class core.Class, level core.Level) (int, error) {
	runs, err := s.GetRunsForDog(ctx, id)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range runs {
		if r.Qualified && r.Class == class && r.Level == level {
			n++
		}
	}
	return n, nil
}
