// Package migrations embeds the jobs schema applied by the api service on startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
