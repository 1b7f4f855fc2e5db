// Package postgresql provides the PostgreSQL driver for dbscope, built on
// pgx and its database/sql adapter.
package postgresql

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/gaborage/dbscope/database/connstr"
	"github.com/gaborage/dbscope/database/sqlconn"
	"github.com/gaborage/dbscope/database/types"
)

const defaultPort = 5432

// supportedLevels lists what pgx's database/sql adapter can translate.
var supportedLevels = []types.IsolationLevel{
	types.LevelDefault,
	types.LevelReadUncommitted,
	types.LevelReadCommitted,
	types.LevelRepeatableRead,
	types.LevelSerializable,
}

// optionKeys maps connection string options onto libpq keywords. Options not
// listed here are ignored.
var optionKeys = map[string]string{
	"sslmode":          "sslmode",
	"ssl mode":         "sslmode",
	"sslrootcert":      "sslrootcert",
	"sslcert":          "sslcert",
	"sslkey":           "sslkey",
	"application name": "application_name",
	"application_name": "application_name",
	"connect timeout":  "connect_timeout",
	"connect_timeout":  "connect_timeout",
	"timeout":          "connect_timeout",
	"search path":      "search_path",
	"search_path":      "search_path",
}

var openPostgresDB = func(cfg *pgx.ConnConfig) *sql.DB {
	return stdlib.OpenDB(*cfg)
}

// Driver implements types.Driver for PostgreSQL.
type Driver struct{}

var _ types.Driver = Driver{}

// NewDriver returns the PostgreSQL driver.
func NewDriver() Driver {
	return Driver{}
}

// Vendor returns types.PostgreSQL.
func (Driver) Vendor() types.Vendor {
	return types.PostgreSQL
}

// Validate checks that desc describes a usable PostgreSQL target without
// connecting.
func (Driver) Validate(desc *connstr.Descriptor) error {
	_, err := parseConfig(desc)
	return err
}

// Connect returns an unopened connection for desc.
func (Driver) Connect(desc *connstr.Descriptor) (types.Conn, error) {
	cfg, err := parseConfig(desc)
	if err != nil {
		return nil, err
	}
	return sqlconn.New(func() (*sql.DB, error) {
		return openPostgresDB(cfg), nil
	}, sqlconn.Options{Levels: supportedLevels, IsBroken: isBroken}), nil
}

// IsClientError reports whether err itself is a server error surfaced by pgx.
// Wrapped errors are not unwrapped here.
func (Driver) IsClientError(err error) bool {
	switch err.(type) {
	case *pgconn.PgError:
		return true
	default:
		return false
	}
}

func isBroken(err error) bool {
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}

func parseConfig(desc *connstr.Descriptor) (*pgx.ConnConfig, error) {
	if _, _, err := desc.Endpoint(); err != nil {
		return nil, err
	}
	cfg, err := pgx.ParseConfig(buildDSN(desc))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}
	return cfg, nil
}

// buildDSN renders desc as a libpq keyword/value string.
func buildDSN(desc *connstr.Descriptor) string {
	port := desc.Port()
	if port == 0 {
		port = defaultPort
	}

	parts := []string{
		fmt.Sprintf("host=%s", quoteDSN(desc.Server())),
		fmt.Sprintf("port=%s", strconv.Itoa(port)),
	}
	if v := desc.Database(); v != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", quoteDSN(v)))
	}
	if v := desc.User(); v != "" {
		parts = append(parts, fmt.Sprintf("user=%s", quoteDSN(v)))
	}
	if _, ok := desc.Get(connstr.KeyPassword); ok {
		parts = append(parts, fmt.Sprintf("password=%s", quoteDSN(desc.Password())))
	}

	options := desc.Options()
	for _, key := range desc.SortedOptionKeys() {
		if keyword, ok := optionKeys[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", keyword, quoteDSN(options[key])))
		}
	}
	return strings.Join(parts, " ")
}

// quoteDSN quotes a DSN value according to libpq rules:
// - Returns double single quotes for empty strings (empty value)
// - Escapes backslashes and single quotes
// - Wraps in single quotes when value contains non-alphanumeric/._- characters
func quoteDSN(value string) string {
	if value == "" {
		return "''"
	}

	needsQuoting := false
	for _, r := range value {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') && r != '.' && r != '_' && r != '-' {
			needsQuoting = true
			break
		}
	}

	if !needsQuoting {
		return value
	}

	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "'", "\\'")

	return "'" + escaped + "'"
}
