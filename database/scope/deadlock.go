package scope

import (
	"reflect"
	"strings"
)

const (
	// DefaultDeadlockPattern is matched against client error messages.
	DefaultDeadlockPattern = "deadlock"

	// DefaultMaxCauseDepth bounds how far below the root error causes are
	// inspected.
	DefaultMaxCauseDepth = 64
)

// IsDeadlock reports whether err, or any error reachable from it through
// Unwrap() error or Unwrap() []error, is a client error whose own message
// contains pattern. The match is case-sensitive; an empty pattern means
// DefaultDeadlockPattern. Nil never matches.
func IsDeadlock(err error, isClientError func(error) bool, pattern string) bool {
	return isDeadlock(err, isClientError, pattern, DefaultMaxCauseDepth)
}

type node struct {
	err   error
	depth int
}

// ptrKey identifies reference-like errors. The type is part of the key
// because a struct and its first field share an address.
type ptrKey struct {
	typ reflect.Type
	ptr uintptr
}

func isDeadlock(err error, isClientError func(error) bool, pattern string, maxDepth int) bool {
	if err == nil || isClientError == nil {
		return false
	}
	if pattern == "" {
		pattern = DefaultDeadlockPattern
	}

	visited := make(map[any]struct{})
	queue := []node{{err: err}}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		key, ok := identity(n.err)
		if !ok {
			// typed nil pointer
			continue
		}
		if key != nil {
			if _, seen := visited[key]; seen {
				continue
			}
			visited[key] = struct{}{}
		}

		if isClientError(n.err) && strings.Contains(n.err.Error(), pattern) {
			return true
		}

		if n.depth >= maxDepth {
			continue
		}
		for _, cause := range causes(n.err) {
			if cause != nil {
				queue = append(queue, node{err: cause, depth: n.depth + 1})
			}
		}
	}
	return false
}

// identity returns a visited-set key for err, nil when err cannot be keyed,
// and false for typed nil pointers that must not be inspected.
func identity(err error) (any, bool) {
	v := reflect.ValueOf(err)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if v.IsNil() {
			return nil, false
		}
		return ptrKey{typ: v.Type(), ptr: v.Pointer()}, true
	}
	if v.Comparable() {
		return err, true
	}
	return nil, true
}

func causes(err error) []error {
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		return u.Unwrap()
	case interface{ Unwrap() error }:
		return []error{u.Unwrap()}
	default:
		return nil
	}
}
