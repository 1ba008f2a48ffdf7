// Package migrations embeds the sqlite schema so binaries and tests apply the
// same files.
package migrations

import "embed"

// FS holds the numbered schema files.
//
//go:embed *.sql
var FS embed.FS
