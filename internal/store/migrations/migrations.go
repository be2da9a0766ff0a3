// Package migrations embeds the Postgres mirror schema migrations.
package migrations

import "embed"

// Files holds the ordered *.sql migrations.
//
//go:embed *.sql
var Files embed.FS
