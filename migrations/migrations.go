// Package migrations embeds the SQL migrations for the call audit log,
// applied by cmd/relay-migrate.
package migrations

import "embed"

// FS holds the embedded .sql migration files for golang-migrate's iofs source.
//
//go:embed *.sql
var FS embed.FS
