// Package migrations embeds the schema migrations for each supported
// database backend.
package migrations

import "embed"

// Migrations are applied in filename order.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
