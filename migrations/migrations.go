// Package migrations embeds the SQL files applied to each tenant schema.
package migrations

import "embed"

// Files holds every numbered migration at its root.
//
//go:embed *.sql
var Files embed.FS
