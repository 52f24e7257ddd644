// Package schema embeds the journal's schema-creation script.
package schema

import "embed"

// FS contains the embedded schema-creation script for the journal.
//
//go:embed *.sql
var FS embed.FS
