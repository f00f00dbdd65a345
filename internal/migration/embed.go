package migration

import "embed"

// Migrations ship inside the binary; the runner applies *.up.sql files
// in lexical order.
const migrationsDir = "migrations"

//go:embed migrations/*.up.sql
var embeddedMigrations embed.FS
