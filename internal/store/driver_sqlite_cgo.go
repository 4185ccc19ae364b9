//go:build sqlite_cgo

package store

// CGO SQLite driver.
//
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDriverName is the database/sql driver used for DriverSQLite
const SQLiteDriverName = "sqlite3"
