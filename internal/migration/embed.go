package migration

import "embed"

const migrationsDir = "migrations"

// Only up migrations are embedded. Rollbacks are operational events
// and run by hand.
//go:embed migrations/*.up.sql
var embeddedMigrations embed.FS
