//revive:disable-next-line:var-naming // Package name "types" avoids circular imports.
package types

import (
	"database/sql"
	"fmt"
	"strings"
)

// IsolationLevel selects how a transaction's reads interact with concurrent writers.
type IsolationLevel int

const (
	LevelDefault IsolationLevel = iota
	LevelReadUncommitted
	LevelReadCommitted
	LevelRepeatableRead
	LevelSerializable
	LevelSnapshot
)

var isolationNames = map[IsolationLevel]string{
	LevelDefault:         "default",
	LevelReadUncommitted: "read-uncommitted",
	LevelReadCommitted:   "read-committed",
	LevelRepeatableRead:  "repeatable-read",
	LevelSerializable:    "serializable",
	LevelSnapshot:        "snapshot",
}

func (l IsolationLevel) String() string {
	if name, ok := isolationNames[l]; ok {
		return name
	}
	return fmt.Sprintf("isolation(%d)", int(l))
}

// Valid reports whether l is one of the declared levels.
func (l IsolationLevel) Valid() bool {
	_, ok := isolationNames[l]
	return ok
}

// SQL maps l to the database/sql level.
func (l IsolationLevel) SQL() sql.IsolationLevel {
	switch l {
	case LevelReadUncommitted:
		return sql.LevelReadUncommitted
	case LevelReadCommitted:
		return sql.LevelReadCommitted
	case LevelRepeatableRead:
		return sql.LevelRepeatableRead
	case LevelSerializable:
		return sql.LevelSerializable
	case LevelSnapshot:
		return sql.LevelSnapshot
	default:
		return sql.LevelDefault
	}
}

// ParseIsolationLevel accepts the names produced by String, case-insensitively,
// with either '-', '_' or ' ' between words. An empty string selects LevelDefault.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer("_", "-", " ", "-").Replace(normalized)
	if normalized == "" {
		return LevelDefault, nil
	}
	for level, name := range isolationNames {
		if name == normalized {
			return level, nil
		}
	}
	return LevelDefault, fmt.Errorf("unknown isolation level %q", s)
}
