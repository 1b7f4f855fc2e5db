// Package oracle provides the Oracle driver for dbscope, built on go-ora.
package oracle

import (
	"database/sql"
	"fmt"
	"net/url"

	go_ora "github.com/sijms/go-ora/v2"
	"github.com/sijms/go-ora/v2/network"

	"github.com/gaborage/dbscope/database/connstr"
	"github.com/gaborage/dbscope/database/sqlconn"
	"github.com/gaborage/dbscope/database/types"
)

const (
	defaultPort = 1521
	optionSID   = "sid"
)

// Oracle only offers read committed and serializable.
var supportedLevels = []types.IsolationLevel{
	types.LevelDefault,
	types.LevelReadCommitted,
	types.LevelSerializable,
}

var openOracleDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("oracle", dsn)
}

// Driver implements types.Driver for Oracle.
type Driver struct{}

var _ types.Driver = Driver{}

// NewDriver returns the Oracle driver.
func NewDriver() Driver {
	return Driver{}
}

// Vendor returns types.Oracle.
func (Driver) Vendor() types.Vendor {
	return types.Oracle
}

// Validate requires a server and either a service name (Database) or a SID
// option.
func (Driver) Validate(desc *connstr.Descriptor) error {
	if _, _, err := desc.Endpoint(); err != nil {
		return err
	}
	if desc.Database() == "" && desc.Value(optionSID) == "" {
		return desc.Require(connstr.KeyDatabase)
	}
	return nil
}

// Connect returns an unopened connection for desc.
func (d Driver) Connect(desc *connstr.Descriptor) (types.Conn, error) {
	if err := d.Validate(desc); err != nil {
		return nil, err
	}
	dsn := buildURL(desc)
	return sqlconn.New(func() (*sql.DB, error) {
		db, err := openOracleDB(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open Oracle connection: %w", err)
		}
		return db, nil
	}, sqlconn.Options{Levels: supportedLevels}), nil
}

// IsClientError reports whether err itself is an ORA- error returned by the
// server.
func (Driver) IsClientError(err error) bool {
	_, ok := err.(*network.OracleError)
	return ok
}

// buildURL renders desc as a go-ora URL. A SID option takes precedence over
// the service name; every other option is passed through as a URL option.
func buildURL(desc *connstr.Descriptor) string {
	port := desc.Port()
	if port == 0 {
		port = defaultPort
	}

	service := desc.Database()
	urlOpts := map[string]string{}
	for key, value := range desc.Options() {
		if key == optionSID {
			urlOpts["SID"] = value
			service = ""
			continue
		}
		urlOpts[url.QueryEscape(key)] = value
	}
	if len(urlOpts) == 0 {
		urlOpts = nil
	}

	return go_ora.BuildUrl(desc.Server(), port, service, desc.User(), desc.Password(), urlOpts)
}
