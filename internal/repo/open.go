package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shiftcal/ota-server/internal/config"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

// Open connects the configured database driver. sqlite3 is the default
// single-node deployment; mysql serves multi-instance setups.
func Open(conf config.DatabaseConfig) (*sqlx.DB, error) {
	switch conf.Driver {
	case DriverMySQL:
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=True",
			conf.Username,
			conf.Password,
			conf.Host,
			conf.Port,
			conf.Name,
		)
		return sqlx.Connect(DriverMySQL, dsn)

	case DriverSQLite, "":
		path := conf.Path
		if path == "" {
			path = config.DefaultDatabasePath
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, errors.Wrap(err, "failed to create database directory")
			}
		}
		return sqlx.Connect(DriverSQLite, "file:"+path+"?_fk=1&_busy_timeout=5000")

	default:
		return nil, errors.Errorf("unsupported database driver %q", conf.Driver)
	}
}
