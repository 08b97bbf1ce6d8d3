// Package migrations embeds the ledger schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
