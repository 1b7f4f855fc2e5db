// Package sqlite provides the SQLite driver for dbscope, built on the
// cgo-free modernc.org/sqlite.
//
// The server key names the database file, a "file:" URI, or ":memory:", and
// is passed to SQLite untouched. An in-memory
// database lives exactly as long as the scope's session. SQLite has no
// deadlock detector; lock conflicts surface as SQLITE_BUSY ("database is
// locked"), so scopes that want to classify them set the deadlock pattern to
// that message.
package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"modernc.org/sqlite"

	"github.com/gaborage/dbscope/config"
	"github.com/gaborage/dbscope/database/connstr"
	"github.com/gaborage/dbscope/database/sqlconn"
	"github.com/gaborage/dbscope/database/types"
)

const driverName = "sqlite"

// SQLite transactions are always serializable.
var supportedLevels = []types.IsolationLevel{
	types.LevelDefault,
	types.LevelSerializable,
}

// pragmas maps connection string options onto SQLite pragmas.
var pragmas = map[string]string{
	"busy timeout": "busy_timeout",
	"busy_timeout": "busy_timeout",
	"foreign keys": "foreign_keys",
	"foreign_keys": "foreign_keys",
	"journal mode": "journal_mode",
	"journal_mode": "journal_mode",
}

var openSQLiteDB = func(dsn string) (*sql.DB, error) {
	return sql.Open(driverName, dsn)
}

// Driver implements types.Driver for SQLite.
type Driver struct{}

var _ types.Driver = Driver{}

// NewDriver returns the SQLite driver.
func NewDriver() Driver {
	return Driver{}
}

// Vendor returns types.SQLite.
func (Driver) Vendor() types.Vendor {
	return types.SQLite
}

// Validate requires a database path and numeric busy timeouts.
func (Driver) Validate(desc *connstr.Descriptor) error {
	_, err := buildDSN(desc)
	return err
}

// Connect returns an unopened connection for desc.
func (Driver) Connect(desc *connstr.Descriptor) (types.Conn, error) {
	dsn, err := buildDSN(desc)
	if err != nil {
		return nil, err
	}
	return sqlconn.New(func() (*sql.DB, error) {
		db, err := openSQLiteDB(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		return db, nil
	}, sqlconn.Options{Levels: supportedLevels}), nil
}

// IsClientError reports whether err itself is an error returned by SQLite.
func (Driver) IsClientError(err error) bool {
	_, ok := err.(*sqlite.Error)
	return ok
}

// buildDSN renders desc as "path?_pragma=name(value)&...".
func buildDSN(desc *connstr.Descriptor) (string, error) {
	if err := desc.Require(connstr.KeyServer); err != nil {
		return "", err
	}

	options := desc.Options()
	var query []string
	for _, key := range desc.SortedOptionKeys() {
		pragma, ok := pragmas[key]
		if !ok {
			continue
		}
		value := strings.TrimSpace(options[key])
		if pragma == "busy_timeout" {
			if _, err := strconv.Atoi(value); err != nil {
				return "", config.NewInvalidFieldError("database.connectionstring", key+" must be a number of milliseconds", nil)
			}
		}
		query = append(query, "_pragma="+url.QueryEscape(fmt.Sprintf("%s(%s)", pragma, value)))
	}

	dsn := strings.TrimSpace(desc.Value(connstr.KeyServer))
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + strings.Join(query, "&")
	}
	return dsn, nil
}
