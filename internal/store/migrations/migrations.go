// Package migrations embeds the SQL schema for the daemon's journal database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
