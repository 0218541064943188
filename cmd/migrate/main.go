package main

import (
	"database/sql"
	"flag"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/leafsii/outcome-amm/internal/config"
	"github.com/leafsii/outcome-amm/internal/db/migrations"
)

const usage = `Usage: migrate [-type postgres|sqlite] [-dsn DSN] COMMAND

Commands:
  up
  down
  status`

func main() {
	flags := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbType := flags.String("type", "", "database type, defaults to AMM_DB_TYPE")
	dsn := flags.String("dsn", "", "connection string or sqlite path, defaults to AMM_DB_DSN")
	flags.Parse(os.Args[1:])

	args := flags.Args()
	if len(args) < 1 {
		log.Fatal(usage)
	}

	if *dbType == "" || *dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if *dbType == "" {
			*dbType = cfg.Database.Type
		}
		if *dsn == "" {
			*dsn = cfg.Database.DSN
		}
	}

	var driver, dialect string
	switch *dbType {
	case "postgres":
		driver, dialect = "pgx", migrations.DialectPostgres
	case "sqlite":
		driver, dialect = "sqlite", migrations.DialectSQLite
	default:
		log.Fatalf("Database type %q has no schema to migrate", *dbType)
	}

	db, err := sql.Open(driver, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(db, dialect, args[0]); err != nil {
		log.Fatalf("Migration %s failed: %v", args[0], err)
	}
}
