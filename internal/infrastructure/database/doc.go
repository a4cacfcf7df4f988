// Package database opens the bridge's SQLite journal and applies its schema
// migrations.
//
// The database holds audit data only (power changes and command outcomes).
// The projector session never reads it back to restore state.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.{up,down}.sql and
// are applied in version order, one transaction each.
package database
