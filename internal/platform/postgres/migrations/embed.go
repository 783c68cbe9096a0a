// Package migrations embeds the goose SQL migrations for the tasks schema.
package migrations

import "embed"

// FS holds every migration file, rooted at this directory.
//
//go:embed *.sql
var FS embed.FS
