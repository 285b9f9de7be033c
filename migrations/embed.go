// Package migrations embeds the SQL schema for each supported database.
package migrations

import "embed"

// FS holds postgres/*.sql and sqlite/*.sql. Files named *.up.sql are applied in
// lexical order.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
