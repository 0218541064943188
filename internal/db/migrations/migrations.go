// Package migrations embeds the schema shared by the SQL backends and runs
// it through goose.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

// Dialects accepted by Run.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// Run applies command ("up", "down" or "status") to db.
func Run(db *sql.DB, dialect, command string) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	switch command {
	case "up":
		return goose.Up(db, ".")
	case "down":
		return goose.Down(db, ".")
	case "status":
		return goose.Status(db, ".")
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
}

func Up(db *sql.DB, dialect string) error {
	return Run(db, dialect, "up")
}
