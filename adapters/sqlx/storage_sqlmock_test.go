package sqlx_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "agilitytrack/adapters/sqlx"
	"agilitytrack/core"
)

func newMockStore(t *testing.T, driver storage.Driver) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, string(driver)), driver)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func existsRows(v bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"exists"}).AddRow(v)
}

func TestSQLMock_CreateDog(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	now := time.Now().UTC()
	dog := core.Dog{
		ID: "rex", Name: "Rex", CreatedAt: now, UpdatedAt: now,
		Classes: []core.ClassLevel{{Class: core.ClassStandard, Level: core.LevelNovice}},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("rex").WillReturnRows(existsRows(false))
	mock.ExpectExec(`INSERT INTO dogs`).
		WithArgs("rex", "Rex", "", "", "", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO dog_classes`).
		WithArgs("rex", "standard", "Novice", 0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.CreateDog(context.Background(), dog))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_CreateDog_Duplicate(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("rex").WillReturnRows(existsRows(true))
	mock.ExpectRollback()

	err := store.CreateDog(context.Background(), core.Dog{ID: "rex", Name: "Rex"})
	require.ErrorIs(t, err, core.ErrDuplicateDog)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetDog(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, name, call_name, breed, handler, created_at, updated_at FROM dogs`).
		WithArgs("rex").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "call_name", "breed", "handler", "created_at", "updated_at"}).
			AddRow("rex", "Rex", "Rexy", "Border Collie", "Sam", now, now))
	mock.ExpectQuery(`SELECT class, level FROM dog_classes`).
		WithArgs("rex").
		WillReturnRows(sqlmock.NewRows([]string{"class", "level"}).
			AddRow("standard", "Open").
			AddRow("jumpers", "Novice"))

	dog, err := store.GetDog(context.Background(), "rex")
	require.NoError(t, err)
	require.Equal(t, "Border Collie", dog.Breed)
	require.Equal(t, []core.ClassLevel{
		{Class: core.ClassStandard, Level: core.LevelOpen},
		{Class: core.ClassJumpers, Level: core.LevelNovice},
	}, dog.Classes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetDog_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(`SELECT id, name`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := store.GetDog(context.Background(), "ghost")
	require.ErrorIs(t, err, core.ErrDogNotFound)
}

func TestSQLMock_SetClassLevels(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("rex").WillReturnRows(existsRows(true))
	mock.ExpectQuery(`SELECT class, level FROM dog_classes`).
		WithArgs("rex").
		WillReturnRows(sqlmock.NewRows([]string{"class", "level"}).AddRow("standard", "Novice"))
	mock.ExpectExec(`UPDATE dog_classes SET level`).
		WithArgs("Open", "rex", "standard").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO dog_classes`).
		WithArgs("rex", "jumpers", "Novice", 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE dogs SET updated_at`).
		WithArgs(sqlmock.AnyArg(), "rex").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SetClassLevels(context.Background(), "rex", []core.ClassLevel{
		{Class: core.ClassStandard, Level: core.LevelOpen},
		{Class: core.ClassJumpers, Level: core.LevelNovice},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_SetClassLevels_RollsBack(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	boom := errors.New("deadlock detected")
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("rex").WillReturnRows(existsRows(true))
	mock.ExpectQuery(`SELECT class, level FROM dog_classes`).
		WithArgs("rex").
		WillReturnRows(sqlmock.NewRows([]string{"class", "level"}).
			AddRow("standard", "Novice").
			AddRow("jumpers", "Novice"))
	mock.ExpectExec(`UPDATE dog_classes SET level`).
		WithArgs("Open", "rex", "standard").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE dog_classes SET level`).
		WithArgs("Open", "rex", "jumpers").
		WillReturnError(boom)
	mock.ExpectRollback()

	err := store.SetClassLevels(context.Background(), "rex", []core.ClassLevel{
		{Class: core.ClassStandard, Level: core.LevelOpen},
		{Class: core.ClassJumpers, Level: core.LevelOpen},
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_AddRun_Postgres(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	run := core.Run{ID: "r1", DogID: "rex", Date: time.Now().UTC(), Class: core.ClassStandard, Level: core.LevelNovice, Qualified: true}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("rex").WillReturnRows(existsRows(true))
	mock.ExpectQuery(`INSERT INTO runs .* RETURNING seq`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(7)))
	mock.ExpectCommit()

	stored, err := store.AddRun(context.Background(), run)
	require.NoError(t, err)
	require.Equal(t, int64(7), stored.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_AddRun_MySQL(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverMySQL)
	defer cleanup()

	run := core.Run{ID: "r1", DogID: "rex", Date: time.Now().UTC(), Class: core.ClassJumpers, Level: core.LevelOpen}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("rex").WillReturnRows(existsRows(true))
	mock.ExpectExec(`INSERT INTO runs`).WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	stored, err := store.AddRun(context.Background(), run)
	require.NoError(t, err)
	require.Equal(t, int64(42), stored.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_CountQualifyingRuns(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM runs`).
		WithArgs("rex", "standard", "Novice", true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.CountQualifyingRuns(context.Background(), "rex", core.ClassStandard, core.LevelNovice)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_DeleteRun_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM runs`).
		WithArgs("rex", "r9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteRun(context.Background(), "rex", "r9")
	require.ErrorIs(t, err, core.ErrRunNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetRunsForDog(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"seq", "id", "dog_id", "run_date", "class", "level", "qualified", "placement", "score", "run_time", "faults", "location", "judge", "notes", "created_at"}

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("rex").WillReturnRows(existsRows(true))
	mock.ExpectQuery(`SELECT seq, id, dog_id`).
		WithArgs("rex").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "r1", "rex", day, "standard", "Masters", true, 1, 18, 41.2, 0, "Ring 2", "Jo", "", day).
			AddRow(int64(2), "r2", "rex", day, "jumpers", "Masters", false, 0, 0, 35.0, 5, "", "", "", day))

	runs, err := store.GetRunsForDog(context.Background(), "rex")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, 18, runs[0].Score)
	require.Equal(t, core.LevelMasters, runs[1].Level)
	require.Equal(t, int64(2), runs[1].Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}
