package postgres

import (
	stderrors "errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
)

// migrationRunner is the subset of *migrate.Migrate the Migrator drives.
type migrationRunner interface {
	Up() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Close() (error, error)
}

// newRunner is a variable to allow mocking in tests.
var newRunner = func(sourceURL, dbURL string) (migrationRunner, error) {
	return migrate.New(sourceURL, dbURL)
}

// MigrationState is the applied schema version.
type MigrationState struct {
	Version uint `json:"version"`
	// Dirty means a migration failed half way and needs Force.
	Dirty bool `json:"dirty"`
}

// Migrator applies the SQL files under a file:// source to one database.
type Migrator struct {
	sourceURL string
	dbURL     string
	logger    logging.Logger
}

// NewMigrator builds a Migrator. sourceURL is e.g.
// "file://internal/infrastructure/database/postgres/migrations".
func NewMigrator(sourceURL, dbURL string, log logging.Logger) *Migrator {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Migrator{sourceURL: sourceURL, dbURL: dbURL, logger: log}
}

func (m *Migrator) open() (migrationRunner, error) {
	r, err := newRunner(m.sourceURL, m.dbURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create migrate instance").
			WithDetail("source=" + m.sourceURL)
	}
	return r, nil
}

// Up applies every pending migration. No pending migrations is not an error.
func (m *Migrator) Up() (MigrationState, error) {
	r, err := m.open()
	if err != nil {
		return MigrationState{}, err
	}
	defer r.Close()

	if err := r.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		st, _ := state(r)
		return st, errors.Wrapf(err, errors.ErrCodeDatabaseError, "failed to run migrations (current version: %d)", st.Version)
	}
	st, err := state(r)
	if err != nil {
		return st, err
	}
	m.logger.Info("database migrations completed",
		logging.Int64("version", int64(st.Version)),
		logging.Bool("dirty", st.Dirty),
	)
	return st, nil
}

// Down rolls back steps migrations.
func (m *Migrator) Down(steps int) (MigrationState, error) {
	if steps <= 0 {
		return MigrationState{}, errors.NewValidationError("steps", "must be greater than 0")
	}
	r, err := m.open()
	if err != nil {
		return MigrationState{}, err
	}
	defer r.Close()

	if err := r.Steps(-steps); err != nil {
		if stderrors.Is(err, migrate.ErrNoChange) {
			return MigrationState{}, errors.New(errors.ErrCodeConflict, "no migrations to roll back")
		}
		return MigrationState{}, errors.Wrapf(err, errors.ErrCodeDatabaseError, "failed to roll back %d step(s)", steps)
	}
	st, err := state(r)
	if err != nil {
		return st, err
	}
	m.logger.Info("database migrations rolled back",
		logging.Int("steps", steps),
		logging.Int64("version", int64(st.Version)),
	)
	return st, nil
}

// Status reports the applied version; an empty database is version 0.
func (m *Migrator) Status() (MigrationState, error) {
	r, err := m.open()
	if err != nil {
		return MigrationState{}, err
	}
	defer r.Close()
	return state(r)
}

// Force records version as applied without running anything. It is the
// recovery path for a dirty schema.
func (m *Migrator) Force(version int) error {
	r, err := m.open()
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Force(version); err != nil {
		return errors.Wrapf(err, errors.ErrCodeDatabaseError, "failed to force version %d", version)
	}
	m.logger.Warn("migration version forced", logging.Int("version", version))
	return nil
}

func state(r migrationRunner) (MigrationState, error) {
	v, dirty, err := r.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return MigrationState{}, nil
	}
	if err != nil {
		return MigrationState{}, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to get migration version")
	}
	return MigrationState{Version: v, Dirty: dirty}, nil
}
