package covdb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.up.sql
var sqlSchemas embed.FS

// SqliteConfig holds all the config arguments needed to interact with our
// sqlite DB.
type SqliteConfig struct {
	// CreateTables if true, then all the tables will be created on start
	// up if they don't already exist.
	CreateTables bool

	// DatabaseFileName is the full file path where the database file can be
	// found.
	DatabaseFileName string
}

// SqliteStore is a sqlite3 based database for the covenant journal.
type SqliteStore struct {
	cfg *SqliteConfig

	*sql.DB

	*Queries
}

// NewSqliteStore attempts to open a new sqlite database based on the passed
// config.
func NewSqliteStore(cfg *SqliteConfig) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", cfg.DatabaseFileName)
	if err != nil {
		return nil, err
	}

	// Foreign keys are off by default in sqlite. A single connection
	// serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.CreateTables {
		// Now that the database is open, populate the database with
		// our set of schemas based on our embedded in-memory file
		// system.
		err := fs.WalkDir(sqlSchemas, "migrations", func(path string,
			d fs.DirEntry, err error) error {

			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			schema, err := sqlSchemas.ReadFile(path)
			if err != nil {
				return err
			}

			log.Debugf("Applying schema %v", path)

			if _, err := db.Exec(string(schema)); err != nil {
				return fmt.Errorf("unable to create "+
					"schema %v: %w", path, err)
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &SqliteStore{
		DB:      db,
		cfg:     cfg,
		Queries: NewQueries(db),
	}, nil
}

// BeginTx wraps the normal sql specific BeginTx method with the TxOptions
// interface. This interface is then mapped to the concrete sql tx options
// struct.
func (s *SqliteStore) BeginTx(ctx context.Context, opts TxOptions) (Tx, error) {
	sqlOptions := sql.TxOptions{
		ReadOnly: opts.ReadOnly(),
	}
	return s.DB.BeginTx(ctx, &sqlOptions)
}
