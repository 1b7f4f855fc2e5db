// Package database selects a vendor driver for a unit-of-work scope.
package database

import "github.com/gaborage/dbscope/database/types"

// Vendor identifiers, re-exported from types.
const (
	PostgreSQL = types.PostgreSQL
	Oracle     = types.Oracle
	SQLServer  = types.SQLServer
	SQLite     = types.SQLite
)
