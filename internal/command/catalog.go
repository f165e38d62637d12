package command

import (
	"slices"

	"github.com/roach88/talon/internal/module"
)

// catalog is the fixed module → actions table. Action lists are sorted.
var catalog = map[string][]string{
	module.SQL:        {"begin", "commit", "query", "rollback", "tables"},
	module.KV:         {"delete", "exists", "get", "incrby", "keys", "set", "setnx", "ttl"},
	module.TimeSeries: {"aggregate", "append", "latest", "query", "series"},
	module.MQ:         {"consume", "len", "produce", "topics"},
	module.Vector:     {"collections", "count", "delete", "insert", "search"},
}

var moduleAliases = map[string]string{
	"ts": module.TimeSeries,
}

// actionAliases maps module → alias → canonical action.
var actionAliases = map[string]map[string]string{
	module.SQL:        {"run": "query", "execute": "query"},
	module.KV:         {"del": "delete"},
	module.TimeSeries: {"insert": "append"},
	module.MQ:         {"publish": "produce"},
	module.Vector:     {"upsert": "insert"},
}

// Modules returns the catalog's module names in catalog order.
func Modules() []string {
	return slices.Clone(module.Names)
}

// Actions returns the canonical actions of mod, sorted.
func Actions(mod string) ([]string, bool) {
	actions, ok := catalog[mod]
	if !ok {
		return nil, false
	}
	return slices.Clone(actions), true
}

// ResolveModule returns the canonical name for mod or an alias of it.
func ResolveModule(mod string) (string, bool) {
	if canonical, ok := moduleAliases[mod]; ok {
		return canonical, true
	}
	_, ok := catalog[mod]
	return mod, ok
}

// ResolveAction returns the canonical action name for action within the
// canonical module mod.
func ResolveAction(mod, action string) (string, bool) {
	if canonical, ok := actionAliases[mod][action]; ok {
		return canonical, true
	}
	_, found := slices.BinarySearch(catalog[mod], action)
	return action, found
}
