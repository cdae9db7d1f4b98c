package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand executes a migrate subcommand (up, down, status or
// force <version>) against the database at dbPath and writes a report to
// out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	migrations := migrationsFS()
	switch args[0] {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
	case "status":
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: waterlevel migrate force <version>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number %q", args[1])
		}
		if err := database.MigrateForce(migrations, v); err != nil {
			return err
		}
	case "help":
		PrintMigrateHelp(out)
		return nil
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action %q", args[0])
	}

	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return err
	}
	latest, err := LatestMigrationVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d\nLatest version: %d\nDirty: %v\n", version, latest, dirty)
	if dirty {
		fmt.Fprintln(out, "WARNING: a migration failed mid-way; inspect the database and run: waterlevel migrate force <version>")
	}
	return nil
}

func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: waterlevel migrate <action>

Actions:
  up                 apply all pending migrations
  down               roll back the most recent migration
  status             show the current schema version
  force <version>    set the schema version without running migrations
`)
}
