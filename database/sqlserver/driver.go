// Package sqlserver provides the Microsoft SQL Server driver for dbscope,
// built on go-mssqldb.
package sqlserver

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/gaborage/dbscope/config"
	"github.com/gaborage/dbscope/database/connstr"
	"github.com/gaborage/dbscope/database/sqlconn"
	"github.com/gaborage/dbscope/database/types"
)

var openSQLServerDB = func(c driver.Connector) *sql.DB {
	return sql.OpenDB(c)
}

// Driver implements types.Driver for SQL Server. Every isolation level,
// including snapshot, is accepted.
type Driver struct{}

var _ types.Driver = Driver{}

// NewDriver returns the SQL Server driver.
func NewDriver() Driver {
	return Driver{}
}

// Vendor returns types.SQLServer.
func (Driver) Vendor() types.Vendor {
	return types.SQLServer
}

// Validate checks that go-mssqldb accepts desc.
func (Driver) Validate(desc *connstr.Descriptor) error {
	_, err := newConnector(desc)
	return err
}

// Connect returns an unopened connection for desc.
func (Driver) Connect(desc *connstr.Descriptor) (types.Conn, error) {
	connector, err := newConnector(desc)
	if err != nil {
		return nil, err
	}
	return sqlconn.New(func() (*sql.DB, error) {
		return openSQLServerDB(connector), nil
	}, sqlconn.Options{}), nil
}

// IsClientError reports whether err itself is an error returned by the
// server. go-mssqldb returns mssql.Error by value.
func (Driver) IsClientError(err error) bool {
	switch err.(type) {
	case mssql.Error, *mssql.Error:
		return true
	default:
		return false
	}
}

func newConnector(desc *connstr.Descriptor) (*mssql.Connector, error) {
	if _, _, err := desc.Endpoint(); err != nil {
		return nil, err
	}
	if p := desc.Protocol(); p != "" && p != "tcp" {
		return nil, config.NewInvalidFieldError("database.connectionstring",
			fmt.Sprintf("server protocol %q is not supported", p), []string{"tcp"})
	}
	connector, err := mssql.NewConnector(buildURL(desc))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SQL Server config: %w", err)
	}
	return connector, nil
}

// buildURL renders desc as a sqlserver:// URL so that values never need
// ADO quoting. A "tcp:" prefix is dropped and a named instance in Server
// ("host\instance") becomes the path.
func buildURL(desc *connstr.Descriptor) string {
	host, instance, _ := strings.Cut(desc.Server(), `\`)
	if port := desc.Port(); port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}

	u := &url.URL{Scheme: "sqlserver", Host: host}
	if instance != "" {
		u.Path = "/" + instance
	}
	if user := desc.User(); user != "" {
		u.User = url.UserPassword(user, desc.Password())
	}

	q := url.Values{}
	if db := desc.Database(); db != "" {
		q.Set("database", db)
	}
	for key, value := range desc.Options() {
		q.Set(key, value)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
