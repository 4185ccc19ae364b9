//go:build !sqlite_cgo

package store

// Pure Go SQLite, no C compiler required.
//
//	CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

// SQLiteDriverName is the database/sql driver used for DriverSQLite
const SQLiteDriverName = "sqlite"
