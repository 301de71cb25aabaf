// Package sqlx stores dogs and runs in PostgreSQL or MySQL through sqlx.
package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"agilitytrack/core"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds database connection settings.
type Config struct {
	Driver          Driver
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns pool defaults for driver. MySQL DSNs must carry
// parseTime=true so DATETIME columns scan into time.Time, and
// clientFoundRows=true so an update that changes nothing still counts as a
// match.
func DefaultConfig(driver Driver) Config {
	dsn := "postgres://localhost:5432/agility?sslmode=disable"
	if driver == DriverMySQL {
		dsn = "root@tcp(localhost:3306)/agility?parseTime=true&clientFoundRows=true"
	}
	return Config{
		Driver:          driver,
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Store implements engine.Storage on a relational database.
// Tables:
// - dogs: one row per dog
// - dog_classes: (dog_id, class) -> level, position keeps entry order
// - runs: one row per run; seq is an auto-increment column
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens a connection pool and verifies it.
func New(cfg Config) (*Store, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	db, err := sqlx.Connect(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return NewWithDB(db, cfg.Driver), nil
}

// NewWithDB wraps an existing handle (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if s.driver == DriverMySQL {
		stmts = mysqlSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS dogs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		call_name TEXT NOT NULL DEFAULT '',
		breed TEXT NOT NULL DEFAULT '',
		handler TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dog_classes (
		dog_id TEXT NOT NULL REFERENCES dogs(id) ON DELETE CASCADE,
		class TEXT NOT NULL,
		level TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (dog_id, class)
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		dog_id TEXT NOT NULL REFERENCES dogs(id) ON DELETE CASCADE,
		run_date TIMESTAMPTZ NOT NULL,
		class TEXT NOT NULL,
		level TEXT NOT NULL,
		qualified BOOLEAN NOT NULL,
		placement INTEGER NOT NULL DEFAULT 0,
		score INTEGER NOT NULL DEFAULT 0,
		run_time DOUBLE PRECISION NOT NULL DEFAULT 0,
		faults INTEGER NOT NULL DEFAULT 0,
		location TEXT NOT NULL DEFAULT '',
		judge TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS runs_dog_class_level ON runs (dog_id, class, level)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS dogs (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		call_name VARCHAR(255) NOT NULL DEFAULT '',
		breed VARCHAR(255) NOT NULL DEFAULT '',
		handler VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dog_classes (
		dog_id VARCHAR(64) NOT NULL,
		class VARCHAR(32) NOT NULL,
		level VARCHAR(32) NOT NULL,
		position INT NOT NULL,
		PRIMARY KEY (dog_id, class),
		FOREIGN KEY (dog_id) REFERENCES dogs(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		seq BIGINT AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(64) NOT NULL UNIQUE,
		dog_id VARCHAR(64) NOT NULL,
		run_date DATETIME(6) NOT NULL,
		class VARCHAR(32) NOT NULL,
		level VARCHAR(32) NOT NULL,
		qualified BOOLEAN NOT NULL,
		placement INT NOT NULL DEFAULT 0,
		score INT NOT NULL DEFAULT 0,
		run_time DOUBLE NOT NULL DEFAULT 0,
		faults INT NOT NULL DEFAULT 0,
		location VARCHAR(255) NOT NULL DEFAULT '',
		judge VARCHAR(255) NOT NULL DEFAULT '',
		notes TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX runs_dog_class_level (dog_id, class, level),
		FOREIGN KEY (dog_id) REFERENCES dogs(id) ON DELETE CASCADE
	)`,
}

type dogRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	CallName  string    `db:"call_name"`
	Breed     string    `db:"breed"`
	Handler   string    `db:"handler"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type classRow struct {
	Class string `db:"class"`
	Level string `db:"level"`
}

type runRow struct {
	Seq       int64     `db:"seq"`
	ID        string    `db:"id"`
	DogID     string    `db:"dog_id"`
	Date      time.Time `db:"run_date"`
	Class     string    `db:"class"`
	Level     string    `db:"level"`
	Qualified bool      `db:"qualified"`
	Placement int       `db:"placement"`
	Score     int       `db:"score"`
	Time      float64   `db:"run_time"`
	Faults    int       `db:"faults"`
	Location  string    `db:"location"`
	Judge     string    `db:"judge"`
	Notes     string    `db:"notes"`
	CreatedAt time.Time `db:"created_at"`
}

func (r runRow) run() core.Run {
	return core.Run{
		ID:        core.RunID(r.ID),
		DogID:     core.DogID(r.DogID),
		Date:      r.Date,
		Class:     core.Class(r.Class),
		Level:     core.Level(r.Level),
		Qualified: r.Qualified,
		Placement: r.Placement,
		Score:     r.Score,
		Time:      r.Time,
		Faults:    r.Faults,
		Location:  r.Location,
		Judge:     r.Judge,
		Notes:     r.Notes,
		CreatedAt: r.CreatedAt,
		Seq:       r.Seq,
	}
}

const runColumns = `seq, id, dog_id, run_date, class, level, qualified, placement, score, run_time, faults, location, judge, notes, created_at`

// withTx runs fn in a transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) dogExists(ctx context.Context, q sqlx.QueryerContext, id core.DogID) error {
	var exists bool
	query := s.db.Rebind(`SELECT EXISTS (SELECT 1 FROM dogs WHERE id = ?)`)
	if err := sqlx.GetContext(ctx, q, &exists, query, string(id)); err != nil {
		return fmt.Errorf("check dog: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", core.ErrDogNotFound, id)
	}
	return nil
}

func (s *Store) CreateDog(ctx context.Context, dog core.Dog) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT EXISTS (SELECT 1 FROM dogs WHERE id = ?)`), string(dog.ID)); err != nil {
			return fmt.Errorf("check dog: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: %s", core.ErrDuplicateDog, dog.ID)
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO dogs (id, name, call_name, breed, handler, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			string(dog.ID), dog.Name, dog.CallName, dog.Breed, dog.Handler, dog.CreatedAt, dog.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert dog: %w", err)
		}
		for i, cl := range dog.Classes {
			if err := insertClass(ctx, tx, dog.ID, cl, i); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertClass(ctx context.Context, tx *sqlx.Tx, id core.DogID, cl core.ClassLevel, position int) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO dog_classes (dog_id, class, level, position) VALUES (?, ?, ?, ?)`),
		string(id), string(cl.Class), string(cl.Level), position)
	if err != nil {
		return fmt.Errorf("insert class %s: %w", cl.Class, err)
	}
	return nil
}

func (s *Store) GetDog(ctx context.Context, id core.DogID) (core.Dog, error) {
	var row dogRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT id, name, call_name, breed, handler, created_at, updated_at FROM dogs WHERE id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Dog{}, fmt.Errorf("%w: %s", core.ErrDogNotFound, id)
	}
	if err != nil {
		return core.Dog{}, fmt.Errorf("get dog: %w", err)
	}
	classes, err := s.classes(ctx, s.db, id)
	if err != nil {
		return core.Dog{}, err
	}
	return core.Dog{
		ID:        core.DogID(row.ID),
		Name:      row.Name,
		CallName:  row.CallName,
		Breed:     row.Breed,
		Handler:   row.Handler,
		Classes:   classes,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (s *Store) classes(ctx context.Context, q sqlx.QueryerContext, id core.DogID) ([]core.ClassLevel, error) {
	var rows []classRow
	query := s.db.Rebind(`SELECT class, level FROM dog_classes WHERE dog_id = ? ORDER BY position`)
	if err := sqlx.SelectContext(ctx, q, &rows, query, string(id)); err != nil {
		return nil, fmt.Errorf("get classes: %w", err)
	}
	out := make([]core.ClassLevel, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.ClassLevel{Class: core.Class(r.Class), Level: core.Level(r.Level)})
	}
	return out, nil
}

// ListDogs returns all dogs ordered by name.
func (s *Store) ListDogs(ctx context.Context) ([]core.Dog, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM dogs ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("list dogs: %w", err)
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
	return out, nil
}

func (s *Store) DeleteDog(ctx context.Context, id core.DogID) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM runs WHERE dog_id = ?`), string(id)); err != nil {
			return fmt.Errorf("delete runs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM dog_classes WHERE dog_id = ?`), string(id)); err != nil {
			return fmt.Errorf("delete classes: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM dogs WHERE id = ?`), string(id))
		if err != nil {
			return fmt.Errorf("delete dog: %w", err)
		}
		return expectOne(res, fmt.Errorf("%w: %s", core.ErrDogNotFound, id))
	})
}

// SetClassLevels applies every entry inside one transaction. A failure on
// any class rolls back all of them.
func (s *Store) SetClassLevels(ctx context.Context, id core.DogID, levels []core.ClassLevel) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.dogExists(ctx, tx, id); err != nil {
			return err
		}
		current, err := s.classes(ctx, tx, id)
		if err != nil {
			return err
		}
		have := make(map[core.Class]bool, len(current))
		for _, cl := range current {
			have[cl.Class] = true
		}
		next := len(current)
		for _, cl := range levels {
			if have[cl.Class] {
				_, err := tx.ExecContext(ctx, tx.Rebind(
					`UPDATE dog_classes SET level = ? WHERE dog_id = ? AND class = ?`),
					string(cl.Level), string(id), string(cl.Class))
				if err != nil {
					return fmt.Errorf("update class %s: %w", cl.Class, err)
				}
				continue
			}
			if err := insertClass(ctx, tx, id, cl, next); err != nil {
				return err
			}
			have[cl.Class] = true
			next++
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE dogs SET updated_at = ? WHERE id = ?`), time.Now().UTC(), string(id))
		if err != nil {
			return fmt.Errorf("touch dog: %w", err)
		}
		return nil
	})
}

func (s *Store) AddRun(ctx context.Context, run core.Run) (core.Run, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.dogExists(ctx, tx, run.DogID); err != nil {
			return err
		}
		args := []any{
			string(run.ID), string(run.DogID), run.Date, string(run.Class), string(run.Level), run.Qualified,
			run.Placement, run.Score, run.Time, run.Faults, run.Location, run.Judge, run.Notes, run.CreatedAt,
		}
		const insert = `INSERT INTO runs (id, dog_id, run_date, class, level, qualified, placement, score, run_time, faults, location, judge, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if s.driver == DriverPostgres {
			if err := tx.GetContext(ctx, &run.Seq, tx.Rebind(insert+` RETURNING seq`), args...); err != nil {
				return fmt.Errorf("insert run: %w", err)
			}
			return nil
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(insert), args...)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		run.Seq, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return core.Run{}, err
	}
	return run, nil
}

func (s *Store) GetRun(ctx context.Context, dog core.DogID, id core.RunID) (core.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT `+runColumns+` FROM runs WHERE dog_id = ? AND id = ?`), string(dog), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Run{}, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	if err != nil {
		return core.Run{}, fmt.Errorf("get run: %w", err)
	}
	return row.run(), nil
}

// UpdateRun rewrites the user-supplied columns. Seq and created_at stay.
func (s *Store) UpdateRun(ctx context.Context, run core.Run) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE runs SET run_date = ?, class = ?, level = ?, qualified = ?, placement = ?, score = ?, run_time = ?, faults = ?, location = ?, judge = ?, notes = ?
		WHERE dog_id = ? AND id = ?`),
		run.Date, string(run.Class), string(run.Level), run.Qualified, run.Placement, run.Score, run.Time, run.Faults,
		run.Location, run.Judge, run.Notes, string(run.DogID), string(run.ID))
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return expectOne(res, fmt.Errorf("%w: %s", core.ErrRunNotFound, run.ID))
}

func (s *Store) DeleteRun(ctx context.Context, dog core.DogID, id core.RunID) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM runs WHERE dog_id = ? AND id = ?`), string(dog), string(id))
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return expectOne(res, fmt.Errorf("%w: %s", core.ErrRunNotFound, id))
}

func (s *Store) GetRunsForDog(ctx context.Context, id core.DogID) ([]core.Run, error) {
	if err := s.dogExists(ctx, s.db, id); err != nil {
		return nil, err
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT `+runColumns+` FROM runs WHERE dog_id = ? ORDER BY seq`), string(id))
	if err != nil {
		return nil, fmt.Errorf("get runs: %w", err)
	}
	out := make([]core.Run, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.run())
	}
	return out, nil
}

func (s *Store) CountQualifyingRuns(ctx context.Context, id core.DogID, class core.Class, level core.Level) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(
		`SELECT COUNT(*) FROM runs WHERE dog_id = ? AND class = ? AND level = ? AND qualified = ?`),
		string(id), string(class), string(level), true)
	if err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
