package database

import (
	"fmt"
	"slices"

	"github.com/gaborage/dbscope/database/oracle"
	"github.com/gaborage/dbscope/database/postgresql"
	"github.com/gaborage/dbscope/database/sqlite"
	"github.com/gaborage/dbscope/database/sqlserver"
	"github.com/gaborage/dbscope/database/types"
)

// NewDriver returns the driver registered for vendor. An unsupported vendor
// yields an error listing the supported ones.
func NewDriver(vendor string) (types.Driver, error) {
	switch vendor {
	case PostgreSQL:
		return postgresql.NewDriver(), nil
	case Oracle:
		return oracle.NewDriver(), nil
	case SQLServer:
		return sqlserver.NewDriver(), nil
	case SQLite:
		return sqlite.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported database vendor: %s (supported: %v)", vendor, SupportedVendors())
	}
}

// ValidateVendor returns nil if vendor is one of the supported vendors.
func ValidateVendor(vendor string) error {
	if !slices.Contains(SupportedVendors(), vendor) {
		return fmt.Errorf("unsupported database vendor: %s (supported: %v)", vendor, SupportedVendors())
	}
	return nil
}

// SupportedVendors returns the list of supported vendors
func SupportedVendors() []string {
	return []string{PostgreSQL, Oracle, SQLServer, SQLite}
}
