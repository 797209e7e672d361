package testutil

import (
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"
)

type DBParams struct {
	// if unspecified, no schema is applied
	Schema string
	// if unspecified, it will use `:memory:`
	Path string
}

// OpenDB opens a sqlite database for a single test and closes it when the
// test ends.
func OpenDB(t testing.TB, params DBParams) *sqlx.DB {
	t.Helper()

	path := params.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if params.Schema == "" {
		return db
	}
	_, err = db.Exec(params.Schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		t.Fatal(err)
	}
	return db
}
