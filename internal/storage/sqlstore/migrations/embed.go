// Package migrations contains embedded SQL migrations for the SQL store.
// The statements are written in the subset shared by SQLite and MySQL.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
