// Package migrations carries the SQL schema for the vault event log.
package migrations

import "embed"

// FS holds {version}_{name}.up.sql / .down.sql pairs.
//
//go:embed *.sql
var FS embed.FS
