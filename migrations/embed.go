// Package migrations embeds the PostgreSQL schema applied at startup when
// STORE_DRIVER=postgres.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
