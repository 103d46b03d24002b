package repo

import (
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the schema up to date.
func Migrate(db *sqlx.DB, driver string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "failed to load embedded migrations")
	}

	var target database.Driver
	switch driver {
	case DriverMySQL:
		target, err = mysql.WithInstance(db.DB, &mysql.Config{})
	case DriverSQLite, "":
		target, err = sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	default:
		return errors.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return errors.Wrap(err, "failed to prepare migration driver")
	}

	m, err := migrate.NewWithInstance("iofs", source, driver, target)
	if err != nil {
		return errors.Wrap(err, "failed to initialize migrations")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "failed to apply migrations")
	}
	return nil
}
