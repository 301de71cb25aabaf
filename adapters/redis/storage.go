package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"agilitytrack/core"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// KeyPrefix namespaces every key the store writes.
	KeyPrefix string
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "agility",
	}
}

// maxTxRetries bounds optimistic-lock retries for SetClassLevels.
const maxTxRetries = 5

// Store implements the engine.Storage interface using Redis as the backend.
// Data structure:
// - {prefix}:dogs -> set of dog ids
// - {prefix}:dog:{dog_id} -> JSON blob of Dog
// - {prefix}:dog:{dog_id}:runs -> hash of run id -> JSON blob of Run
// - {prefix}:seq -> int64 run sequence
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, prefix: prefixOrDefault(config.KeyPrefix)}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefixOrDefault(prefix)}
}

func prefixOrDefault(p string) string {
	if p == "" {
		return DefaultConfig().KeyPrefix
	}
	return p
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) dogsKey() string { return s.prefix + ":dogs" }

func (s *Store) seqKey() string { return s.prefix + ":seq" }

func (s *Store) dogKey(id core.DogID) string {
	return fmt.Sprintf("%s:dog:%s", s.prefix, id)
}

func (s *Store) runsKey(id core.DogID) string {
	return fmt.Sprintf("%s:dog:%s:runs", s.prefix, id)
}

func (s *Store) CreateDog(ctx context.Context, dog core.Dog) error {
	data, err := json.Marshal(dog)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.dogKey(dog.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create dog: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrDuplicateDog, dog.ID)
	}
	if err := s.client.SAdd(ctx, s.dogsKey(), string(dog.ID)).Err(); err != nil {
		return fmt.Errorf("failed to index dog: %w", err)
	}
	return nil
}

func (s *Store) GetDog(ctx context.Context, id core.DogID) (core.Dog, error) {
	return s.getDog(ctx, s.client, id)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) getDog(ctx context.Context, c getter, id core.DogID) (core.Dog, error) {
	data, err := c.Get(ctx, s.dogKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Dog{}, fmt.Errorf("%w: %s", core.ErrDogNotFound, id)
	}
	if err != nil {
		return core.Dog{}, fmt.Errorf("failed to get dog: %w", err)
	}
	var dog core.Dog
	if err := json.Unmarshal(data, &dog); err != nil {
		return core.Dog{}, fmt.Errorf("decode dog %s: %w", id, err)
	}
	return dog, nil
}

// ListDogs returns all dogs ordered by name. Ids whose record vanished are
// skipped.
func (s *Store) ListDogs(ctx context.Context) ([]core.Dog, error) {
	ids, err := s.client.SMembers(ctx, s.dogsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dogs: %w", err)
	}
	out := make([]core.Dog, 0, len(ids))
	for _, id := range ids {
		dog, err := s.GetDog(ctx, core.DogID(id))
		if errors.Is(err, core.ErrDogNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, dog)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteDog(ctx context.Context, id core.DogID) error {
	n, err := s.client.Del(ctx, s.dogKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete dog: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrDogNotFound, id)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.runsKey(id))
		pipe.SRem(ctx, s.dogsKey(), string(id))
		return nil
	})
	return err
}

// SetClassLevels rewrites the dog record under WATCH so a concurrent writer
// forces a retry instead of a lost update. Either every entry lands or none.
func (s *Store) SetClassLevels(ctx context.Context, id core.DogID, levels []core.ClassLevel) error {
	key := s.dogKey(id)
	txf := func(tx *redis.Tx) error {
		dog, err := s.getDog(ctx, tx, id)
		if err != nil {
			return err
		}
		dog.ApplyLevels(levels)
		dog.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(dog)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, core.ErrDogNotFound) {
			return fmt.Errorf("failed to set class levels: %w", err)
		}
		return err
	}
	return fmt.Errorf("failed to set class levels for %s: too much contention", id)
}

func (s *Store) AddRun(ctx context.Context, run core.Run) (core.Run, error) {
	exists, err := s.client.Exists(ctx, s.dogKey(run.DogID)).Result()
	if err != nil {
		return core.Run{}, fmt.Errorf("failed to check dog: %w", err)
	}
	if exists == 0 {
		return core.Run{}, fmt.Errorf("%w: %s", core.ErrDogNotFound, run.DogID)
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return core.Run{}, fmt.Errorf("failed to allocate run sequence: %w", err)
	}
	run.Seq = seq
	if err := s.putRun(ctx, run); err != nil {
		return core.Run{}, err
	}
	return run, nil
}

func (s *Store) putRun(ctx context.Context, run core.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.runsKey(run.DogID), string(run.ID), data).Err(); err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, dog core.DogID, id core.RunID) (core.Run, error) {
	data, err := s.client.HGet(ctx, s.runsKey(dog), string(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Run{}, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	if err != nil {
		return core.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	var run core.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return core.Run{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, nil
}

// UpdateRun replaces a stored run. Seq and CreatedAt are preserved.
func (s *Store) UpdateRun(ctx context.Context, run core.Run) error {
	old, err := s.GetRun(ctx, run.DogID, run.ID)
	if err != nil {
		return err
	}
	run.Seq = old.Seq
	run.CreatedAt = old.CreatedAt
	return s.putRun(ctx, run)
}

func (s *Store) DeleteRun(ctx context.Context, dog core.DogID, id core.RunID) error {
	n, err := s.client.HDel(ctx, s.runsKey(dog), string(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	return nil
}

func (s *Store) GetRunsForDog(ctx context.Context, id core.DogID) ([]core.Run, error) {
	exists, err := s.client.Exists(ctx, s.dogKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check dog: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrDogNotFound, id)
	}
	vals, err := s.client.HVals(ctx, s.runsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get runs: %w", err)
	}
	out := make([]core.Run, 0, len(vals))
	for _, v := range vals {
		var r core.Run
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, r)
	}
	// hash order is arbitrary; return insertion order like the other stores
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
