package connstr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/dbscope/config"
)

const scenarioConnectionString = "Server=x;Database=y;User Id=u;Password=p;"

func TestParseScenario(t *testing.T) {
	d, err := Parse(scenarioConnectionString)
	require.NoError(t, err)

	assert.Equal(t, "x", d.Server())
	assert.Equal(t, "y", d.Database())
	assert.Equal(t, "u", d.User())
	assert.Equal(t, "p", d.Password())
	assert.Equal(t, 0, d.Port())
	assert.Empty(t, d.Options())
	assert.Equal(t, []string{KeyServer, KeyDatabase, KeyUser, KeyPassword}, d.Keys())
}

func TestParseAliasesAndCase(t *testing.T) {
	d, err := Parse("data   SOURCE=db1;Initial Catalog=orders;UID=svc;PWD=s3;Encrypt=true")
	require.NoError(t, err)

	assert.Equal(t, "db1", d.Server())
	assert.Equal(t, "orders", d.Database())
	assert.Equal(t, "svc", d.User())
	assert.Equal(t, "s3", d.Password())
	assert.Equal(t, map[string]string{"encrypt": "true"}, d.Options())

	v, ok := d.Get("Encrypt")
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestParseQuotedValues(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "single_quotes_with_separator", input: "Password='p;w=d'", expected: "p;w=d"},
		{name: "double_quotes", input: `Password="it's"`, expected: "it's"},
		{name: "doubled_quote_escape", input: "Password='a''b'", expected: "a'b"},
		{name: "trailing_space_after_quote", input: "Password='x'  ;Server=h", expected: "x"},
		{name: "unquoted_trimmed", input: "Password=  spaced  ;", expected: "spaced"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d.Password())
		})
	}
}

func TestParsePorts(t *testing.T) {
	tests := []struct {
		input string
		host  string
		port  int
	}{
		{input: "Server=db,1433", host: "db", port: 1433},
		{input: "Server=db:5432", host: "db", port: 5432},
		{input: "Server=db;Port=1521", host: "db", port: 1521},
		{input: `Server=db\SQLEXPRESS`, host: `db\SQLEXPRESS`, port: 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.host, d.Server())
			assert.Equal(t, tt.port, d.Port())
		})
	}
}

func TestParseKeepsServerValue(t *testing.T) {
	tests := []string{
		"file:orders.db",
		`C:\data\orders.db`,
		"orders,backup.db",
		"tcp:orders.database.windows.net,1433",
		"x,70000",
	}

	for _, server := range tests {
		t.Run(server, func(t *testing.T) {
			d, err := Parse("Data Source=" + server)
			require.NoError(t, err)
			assert.Equal(t, server, d.Value(KeyServer))
		})
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		input    string
		host     string
		port     int
		protocol string
	}{
		{input: "Server=db", host: "db"},
		{input: "Server=db,1433", host: "db", port: 1433},
		{input: "Server=db:5432", host: "db", port: 5432},
		{input: "Server=tcp:orders.database.windows.net", host: "orders.database.windows.net", protocol: "tcp"},
		{input: "Server=tcp:orders.database.windows.net,1433", host: "orders.database.windows.net", port: 1433, protocol: "tcp"},
		{input: "Server=TCP:db:1500", host: "db", port: 1500, protocol: "tcp"},
		{input: `Server=tcp:db\SQLEXPRESS,1433`, host: `db\SQLEXPRESS`, port: 1433, protocol: "tcp"},
		{input: "Server=[::1]:5432", host: "::1", port: 5432},
		{input: "Server=[fe80::1]", host: "fe80::1"},
		{input: "Server=fe80::1", host: "fe80::1"},
		{input: "Server=db,1433;Port=1500", host: "db", port: 1500},
		{input: "Server=tcpdb:1500", host: "tcpdb", port: 1500},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := Parse(tt.input)
			require.NoError(t, err)

			host, port, err := d.Endpoint()
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.host, d.Server())
			assert.Equal(t, tt.port, d.Port())
			assert.Equal(t, tt.protocol, d.Protocol())
		})
	}
}

func TestEndpointRejectsMalformedServer(t *testing.T) {
	tests := []struct {
		input   string
		message string
	}{
		{input: "Database=y", message: "server is required"},
		{input: "Server=x,70000", message: "invalid port"},
		{input: "Server=tcp:orders.db,abc", message: "invalid port"},
		{input: "Server=file:orders.db", message: "invalid port"},
		{input: "Server=tcp:", message: "server host is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := Parse(tt.input)
			require.NoError(t, err)

			_, _, err = d.Endpoint()
			var cfgErr *config.ConfigError
			require.True(t, errors.As(err, &cfgErr), "unexpected error: %v", err)
			assert.Equal(t, "database.connectionstring", cfgErr.Field)
			assert.Contains(t, cfgErr.Message, tt.message)
		})
	}
}

func TestParseLaterKeyWins(t *testing.T) {
	d, err := Parse("Server=a;Host=b")
	require.NoError(t, err)
	assert.Equal(t, "b", d.Server())
	assert.Equal(t, []string{KeyServer}, d.Keys())
}

func TestParseEscapedEqualsInKey(t *testing.T) {
	d, err := Parse("a==b=c")
	require.NoError(t, err)
	assert.Equal(t, "c", d.Value("a=b"))
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		category string
	}{
		{name: "empty", input: "   ", category: "missing"},
		{name: "only_separators", input: ";;;", category: "invalid"},
		{name: "segment_without_equals", input: "Server=x;garbage;", category: "invalid"},
		{name: "trailing_key_without_equals", input: "Server=x;Password", category: "invalid"},
		{name: "empty_key", input: "=value", category: "invalid"},
		{name: "unterminated_quote", input: "Password='abc", category: "invalid"},
		{name: "junk_after_quote", input: "Password='abc'def", category: "invalid"},
		{name: "bad_port", input: "Server=x;Port=abc", category: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.input)
			require.Error(t, err)
			assert.Nil(t, d)

			var cfgErr *config.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.category, cfgErr.Category)
			assert.Equal(t, "database.connectionstring", cfgErr.Field)
		})
	}
}

func TestParseErrorsDoNotLeakValues(t *testing.T) {
	_, err := Parse("Password='sup3rsecret")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "sup3rsecret")
}

func TestStringAndRedacted(t *testing.T) {
	d, err := Parse("Server=x;Password='p;q';Application Name=svc")
	require.NoError(t, err)

	assert.Equal(t, "server=x;password='p;q';application name=svc;", d.String())
	assert.Equal(t, "server=x;password=***;application name=svc;", d.Redacted())

	roundTrip, err := Parse(d.String())
	require.NoError(t, err)
	assert.Equal(t, "p;q", roundTrip.Password())
}

func TestSortedOptionKeys(t *testing.T) {
	d, err := Parse("Server=x;zeta=1;Alpha=2;mid=3")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, d.SortedOptionKeys())
}

func TestZeroDescriptorSet(t *testing.T) {
	var d Descriptor
	d.Set("Host", "h")
	assert.Equal(t, "h", d.Server())
}

func TestRequire(t *testing.T) {
	d, err := Parse("Server=x;Database=;")
	require.NoError(t, err)

	assert.NoError(t, d.Require(KeyServer))

	err = d.Require(KeyServer, "Initial Catalog")
	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Message, "database is required")

	assert.Error(t, d.Require("pwd"))
}
