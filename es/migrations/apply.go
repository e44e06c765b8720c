package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// database/sql drivers for each dialect.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Apply runs the embedded migrations for dialect against dsn.
// It opens and closes its own connection. Already applied migrations are
// not an error.
func Apply(ctx context.Context, dialect, dsn string) error {
	if dialect == MySQL && !strings.Contains(dsn, "multiStatements=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "multiStatements=true"
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping %s: %w", dialect, err)
	}

	driver, err := databaseDriver(dialect, db)
	if err != nil {
		db.Close()
		return err
	}

	source, err := iofs.New(schemaFS, path.Join("sql", dialect))
	if err != nil {
		db.Close()
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("create migrator: %w", err)
	}
	// Close releases the source and the database driver, which owns db.
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func databaseDriver(dialect string, db *sql.DB) (database.Driver, error) {
	var (
		driver database.Driver
		err    error
	)
	switch dialect {
	case SQLite:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case Postgres:
		driver, err = migratepostgres.WithInstance(db, &migratepostgres.Config{})
	case MySQL:
		driver, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s migration driver: %w", dialect, err)
	}
	return driver, nil
}
