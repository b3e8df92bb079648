package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"cmt-fetcher/logging"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB wraps the database connection
type DB struct {
	conn   *sql.DB
	driver string
	logger zerolog.Logger
}

// Open connects to the database and creates the schema if needed
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// every new connection to :memory: would see an empty database
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn:   conn,
		driver: driver,
		logger: logging.NewLogger("db"),
	}

	if err := db.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// rebind converts $N placeholders to ?N for sqlite
func (db *DB) rebind(query string) string {
	if db.driver == DriverSQLite {
		return strings.ReplaceAll(query, "$", "?")
	}
	return query
}

// initSchema creates the necessary tables if they don't exist
func (db *DB) initSchema(ctx context.Context) error {
	idColumn := "id SERIAL PRIMARY KEY"
	if db.driver == DriverSQLite {
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	tables := []struct {
		name string
		ddl  string
	}{
		{"runs", `
			CREATE TABLE IF NOT EXISTS runs (
				` + idColumn + `,
				query_url TEXT NOT NULL,
				start_date VARCHAR(10) NOT NULL,
				end_date VARCHAR(10) NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'created',
				solutions_count INTEGER NOT NULL DEFAULT 0,
				pages_count INTEGER NOT NULL DEFAULT 0,
				sheet_name VARCHAR(255),
				object_url TEXT,
				last_error TEXT,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				CONSTRAINT valid_status CHECK (status IN ('created', 'in_progress', 'done', 'failed'))
			)`},
		{"run_header_lines", `
			CREATE TABLE IF NOT EXISTS run_header_lines (
				run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				line_no INTEGER NOT NULL,
				line TEXT NOT NULL,
				PRIMARY KEY (run_id, line_no)
			)`},
		{"solutions", `
			CREATE TABLE IF NOT EXISTS solutions (
				` + idColumn + `,
				run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				row_no INTEGER NOT NULL,
				lon DOUBLE PRECISION NOT NULL,
				lat DOUBLE PRECISION NOT NULL,
				depth DOUBLE PRECISION NOT NULL,
				mrr DOUBLE PRECISION NOT NULL,
				mtt DOUBLE PRECISION NOT NULL,
				mpp DOUBLE PRECISION NOT NULL,
				mrt DOUBLE PRECISION NOT NULL,
				mrp DOUBLE PRECISION NOT NULL,
				mtp DOUBLE PRECISION NOT NULL,
				iexp INTEGER NOT NULL,
				coord_x TEXT NOT NULL,
				coord_y TEXT NOT NULL,
				name TEXT NOT NULL
			)`},
	}

	for _, t := range tables {
		if _, err := db.conn.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_solutions_run_id ON solutions(run_id, row_no)`,
		`CREATE INDEX IF NOT EXISTS idx_solutions_name ON solutions(name)`,
	}
	for _, ddl := range indexes {
		if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
			db.logger.Warn().Err(err).Str("ddl", ddl).Msg("Failed to create index")
		}
	}

	db.logger.Debug().Str("driver", db.driver).Msg("Database schema initialized")
	return nil
}
