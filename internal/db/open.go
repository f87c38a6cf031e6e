package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

type Config struct {
	// File is a sqlite database path, ":memory:" for a throwaway database.
	File string `json:"file"`
	// Url points at a libsql server (libsql://, https:// or http://), it takes
	// precedence over File.
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func wrapOpenDB(err error) error {
	return fmt.Errorf("open db: %w", err)
}

// OpenDB opens the configured database and creates missing tables.
func OpenDB(ctx context.Context, config Config) (*sql.DB, error) {
	var database *sql.DB
	var err error
	if config.Url != "" {
		database, err = openLibsql(config)
	} else {
		database, err = openSqlite(ctx, config.File)
	}
	if err != nil {
		return nil, wrapOpenDB(err)
	}

	for _, stmt := range statements() {
		_, err = database.ExecContext(ctx, stmt)
		if err != nil {
			database.Close()
			return nil, wrapOpenDB(fmt.Errorf("apply schema: %w", err))
		}
	}
	return database, nil
}

func openLibsql(config Config) (*sql.DB, error) {
	dbUrl, err := url.Parse(config.Url)
	if err != nil {
		return nil, err
	}
	if config.AuthToken != "" {
		query := dbUrl.Query()
		query.Set("authToken", config.AuthToken)
		dbUrl.RawQuery = query.Encode()
	}
	return sql.Open("libsql", dbUrl.String())
}

func openSqlite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0777)
		if err != nil {
			return nil, err
		}
	}

	database, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// sqlite allows a single writer, a second connection would also see a
	// different :memory: database
	database.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = database.ExecContext(ctx, "PRAGMA journal_mode=WAL")
		if err != nil {
			database.Close()
			return nil, err
		}
	}
	return database, nil
}
