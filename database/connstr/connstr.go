// Package connstr parses "key=value;" connection strings into a vendor-neutral
// Descriptor that database drivers translate into their own DSN formats.
//
// The syntax follows the common ADO style:
//
//	Server=db.internal,1433;Database=orders;User Id=svc;Password='p;w=d';
//
// Keys are case-insensitive and surrounding whitespace is ignored. Values may
// be quoted with single or double quotes; a doubled quote inside a quoted
// value stands for one literal quote. Empty segments are skipped and a later
// key overrides an earlier one.
//
// Parse does not interpret the server value, since file-based vendors keep a
// path there. Network drivers call Endpoint, which understands the
// "tcp:host,port", "host:port" and "[v6addr]:port" forms.
package connstr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gaborage/dbscope/config"
)

// Canonical keys understood by every driver.
const (
	KeyServer   = "server"
	KeyPort     = "port"
	KeyDatabase = "database"
	KeyUser     = "user id"
	KeyPassword = "password"
)

const configField = "database.connectionstring"

var aliases = map[string]string{
	"data source":     KeyServer,
	"host":            KeyServer,
	"address":         KeyServer,
	"addr":            KeyServer,
	"network address": KeyServer,
	"initial catalog": KeyDatabase,
	"dbname":          KeyDatabase,
	"uid":             KeyUser,
	"user":            KeyUser,
	"username":        KeyUser,
	"user name":       KeyUser,
	"pwd":             KeyPassword,
}

// Descriptor is a parsed connection string. The zero value is empty.
type Descriptor struct {
	values map[string]string
	order  []string
}

// Parse parses s and returns a *config.ConfigError when it is malformed.
func Parse(s string) (*Descriptor, error) {
	if strings.TrimSpace(s) == "" {
		return nil, config.NewMissingFieldError(configField)
	}

	d := &Descriptor{values: make(map[string]string)}
	p := parser{input: s}
	for {
		key, value, ok, err := p.next()
		if err != nil {
			return nil, invalid(err.Error())
		}
		if !ok {
			break
		}
		d.Set(key, value)
	}

	if len(d.values) == 0 {
		return nil, invalid("no key=value pairs found")
	}
	if port, ok := d.values[KeyPort]; ok {
		if _, err := parsePort(port); err != nil {
			return nil, invalid(err.Error())
		}
	}
	return d, nil
}

func invalid(message string) *config.ConfigError {
	err := config.NewInvalidFieldError(configField, message, nil)
	err.Action = `use "key=value;" pairs, e.g. Server=host;Database=db;User Id=user;Password=secret;`
	return err
}

// Canonical maps a key to its canonical lowercase form, resolving aliases.
func Canonical(key string) string {
	k := strings.ToLower(strings.Join(strings.Fields(key), " "))
	if c, ok := aliases[k]; ok {
		return c
	}
	return k
}

// Set stores value under the canonical form of key.
func (d *Descriptor) Set(key, value string) {
	if d.values == nil {
		d.values = make(map[string]string)
	}
	k := Canonical(key)
	if _, exists := d.values[k]; !exists {
		d.order = append(d.order, k)
	}
	d.values[k] = value
}

// Get returns the value stored for key (any alias accepted).
func (d *Descriptor) Get(key string) (string, bool) {
	v, ok := d.values[Canonical(key)]
	return v, ok
}

// Value returns the value for key or "".
func (d *Descriptor) Value(key string) string {
	v, _ := d.Get(key)
	return v
}

// Server returns the host part of the server value with any protocol prefix
// removed. "host,port" and "host:port" forms are split; an instance suffix
// ("host\inst") is kept.
func (d *Descriptor) Server() string {
	_, rest := splitProtocol(d.Value(KeyServer))
	host, _ := splitServer(rest)
	return host
}

// Port returns the explicit port, from the Port key or the server value,
// or 0 when none was given or it is malformed. Endpoint reports the latter.
func (d *Descriptor) Port() int {
	if p, ok := d.values[KeyPort]; ok {
		n, _ := parsePort(p)
		return n
	}
	_, rest := splitProtocol(d.Value(KeyServer))
	_, p := splitServer(rest)
	n, _ := parsePort(p)
	return n
}

// Protocol returns the lowercase protocol prefix of the server value ("tcp",
// "np", "lpc" or "admin"), or "" when there is none.
func (d *Descriptor) Protocol() string {
	protocol, _ := splitProtocol(d.Value(KeyServer))
	return protocol
}

// Endpoint returns the network host and port of the server value. A
// *config.ConfigError is returned when the server is missing or its port is
// malformed. Port is 0 when none was given.
func (d *Descriptor) Endpoint() (host string, port int, err error) {
	if err := d.Require(KeyServer); err != nil {
		return "", 0, err
	}
	_, rest := splitProtocol(strings.TrimSpace(d.Value(KeyServer)))
	host, p := splitServer(rest)
	if host == "" {
		return "", 0, invalid("server host is empty")
	}
	if explicit, ok := d.values[KeyPort]; ok {
		p = explicit
	}
	port, err = parsePort(p)
	if err != nil {
		return "", 0, invalid(err.Error())
	}
	return host, port, nil
}

// Database returns the database (catalog) name.
func (d *Descriptor) Database() string { return d.Value(KeyDatabase) }

// User returns the login name.
func (d *Descriptor) User() string { return d.Value(KeyUser) }

// Password returns the login password.
func (d *Descriptor) Password() string { return d.Value(KeyPassword) }

// Options returns a copy of every key outside the canonical set.
func (d *Descriptor) Options() map[string]string {
	out := make(map[string]string)
	for k, v := range d.values {
		switch k {
		case KeyServer, KeyPort, KeyDatabase, KeyUser, KeyPassword:
			continue
		}
		out[k] = v
	}
	return out
}

// Keys returns the canonical keys in first-seen order.
func (d *Descriptor) Keys() []string {
	return append([]string(nil), d.order...)
}

// String renders the descriptor in canonical "key=value;" form.
func (d *Descriptor) String() string {
	return d.render(false)
}

// Redacted renders the descriptor with the password masked.
func (d *Descriptor) Redacted() string {
	return d.render(true)
}

func (d *Descriptor) render(redact bool) string {
	var b strings.Builder
	for _, k := range d.order {
		v := d.values[k]
		if redact && k == KeyPassword {
			v = "***"
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(quote(v))
		b.WriteByte(';')
	}
	return b.String()
}

// SortedOptionKeys returns Options keys in lexical order, for deterministic DSNs.
func (d *Descriptor) SortedOptionKeys() []string {
	opts := d.Options()
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quote(v string) string {
	if !strings.ContainsAny(v, ";'\"=") && strings.TrimSpace(v) == v {
		return v
	}
	if !strings.Contains(v, "'") {
		return "'" + v + "'"
	}
	if !strings.Contains(v, `"`) {
		return `"` + v + `"`
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

var protocols = []string{"tcp", "np", "lpc", "admin"}

func splitProtocol(server string) (protocol, rest string) {
	for _, p := range protocols {
		if len(server) > len(p) && strings.EqualFold(server[:len(p)], p) && server[len(p)] == ':' {
			return p, server[len(p)+1:]
		}
	}
	return "", server
}

func splitServer(server string) (host, port string) {
	if strings.HasPrefix(server, "[") {
		if end := strings.Index(server, "]"); end > 0 {
			host, rest := server[1:end], server[end+1:]
			if p, ok := strings.CutPrefix(rest, ":"); ok {
				return host, p
			}
			if p, ok := strings.CutPrefix(rest, ","); ok {
				return host, strings.TrimSpace(p)
			}
			return host, ""
		}
	}
	if i := strings.LastIndex(server, ","); i >= 0 {
		return strings.TrimSpace(server[:i]), strings.TrimSpace(server[i+1:])
	}
	// host:port, but leave bracketless IPv6 literals alone
	if strings.Count(server, ":") == 1 {
		h, p, _ := strings.Cut(server, ":")
		return h, p
	}
	return server, ""
}

func parsePort(p string) (int, error) {
	if p == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(p))
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q (must be 1-65535)", p)
	}
	return n, nil
}

// Require returns a *config.ConfigError naming the first key in keys that is
// missing or empty.
func (d *Descriptor) Require(keys ...string) error {
	for _, key := range keys {
		if v, ok := d.Get(key); !ok || strings.TrimSpace(v) == "" {
			return invalid(fmt.Sprintf("%s is required", Canonical(key)))
		}
	}
	return nil
}
