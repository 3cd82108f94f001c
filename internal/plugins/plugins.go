// Package plugins lists the handler types compiled into rover.
package plugins

import (
	"sort"

	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/plugins/keyword"
)

// Builtin returns the factories of every built-in handler type, keyed by the
// type name used in configuration. The map is a fresh copy.
func Builtin() map[string]handler.Factory {
	return map[string]handler.Factory{
		keyword.Type: keyword.New,
	}
}

// Types returns the built-in type names, sorted.
func Types() []string {
	types := make([]string, 0, len(Builtin()))
	for t := range Builtin() {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
