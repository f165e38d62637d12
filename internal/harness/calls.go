package harness

import (
	"fmt"
	"sort"

	"github.com/roach88/talon/internal/command"
	"github.com/roach88/talon/internal/ir"
)

type callFunc func(a callArgs) (command.Command, error)

// calls maps typed step names to the command constructors they exercise.
var calls = map[string]callFunc{
	"sql.run": func(a callArgs) (command.Command, error) {
		args, err := a.irList("args")
		if err != nil {
			return command.Command{}, err
		}
		cmd := command.RunSQL(a.str("sql"), args...)
		return cmd, a.err
	},
	"sql.begin":    func(callArgs) (command.Command, error) { return command.SQLBegin(), nil },
	"sql.commit":   func(callArgs) (command.Command, error) { return command.SQLCommit(), nil },
	"sql.rollback": func(callArgs) (command.Command, error) { return command.SQLRollback(), nil },
	"kv.set": func(a callArgs) (command.Command, error) {
		cmd := command.KVSet(a.bytes("key"), a.bytes("value"), uint64(a.optInt("ttl", 0)))
		return cmd, a.err
	},
	"kv.get": func(a callArgs) (command.Command, error) {
		cmd := command.KVGet(a.bytes("key"))
		return cmd, a.err
	},
	"kv.delete": func(a callArgs) (command.Command, error) {
		cmd := command.KVDelete(a.bytes("key"))
		return cmd, a.err
	},
	"kv.incrby": func(a callArgs) (command.Command, error) {
		cmd := command.KVIncrBy(a.bytes("key"), a.optInt("delta", 1))
		return cmd, a.err
	},
	"kv.setnx": func(a callArgs) (command.Command, error) {
		cmd := command.KVSetNX(a.bytes("key"), a.bytes("value"), uint64(a.optInt("ttl", 0)))
		return cmd, a.err
	},
	"vector.insert": func(a callArgs) (command.Command, error) {
		collection, id, vec := a.str("collection"), a.int("id"), a.floats("embedding")
		if a.err != nil {
			return command.Command{}, a.err
		}
		return command.VectorInsert(collection, uint64(id), vec)
	},
	"vector.search": func(a callArgs) (command.Command, error) {
		collection, vec, k, metric := a.str("collection"), a.floats("embedding"), a.int("k"), a.optStr("metric", "cosine")
		if a.err != nil {
			return command.Command{}, a.err
		}
		return command.VectorSearch(collection, vec, int(k), metric)
	},
	"vector.delete": func(a callArgs) (command.Command, error) {
		collection, id := a.str("collection"), a.int("id")
		if a.err != nil {
			return command.Command{}, a.err
		}
		return command.VectorDelete(collection, uint64(id))
	},
	"vector.count": func(a callArgs) (command.Command, error) {
		cmd := command.VectorCount(a.str("collection"))
		return cmd, a.err
	},
	"ts.append": func(a callArgs) (command.Command, error) {
		series, ts, value, tags := a.str("series"), a.int("timestamp"), a.float("value"), a.tags("tags")
		if a.err != nil {
			return command.Command{}, a.err
		}
		return command.TSAppend(series, ts, value, tags)
	},
	"ts.query": func(a callArgs) (command.Command, error) {
		cmd := command.TSQuery(a.str("series"), a.int("from"), a.int("to"))
		return cmd, a.err
	},
	"mq.produce": func(a callArgs) (command.Command, error) {
		cmd := command.MQProduce(a.str("topic"), a.bytes("payload"))
		return cmd, a.err
	},
	"mq.consume": func(a callArgs) (command.Command, error) {
		cmd := command.MQConsume(a.str("topic"), a.optInt("offset", 0), a.optInt("limit", 0))
		return cmd, a.err
	},
}

// Calls returns the typed step names, sorted.
func Calls() []string {
	names := make([]string, 0, len(calls))
	for name := range calls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// callArgs reads typed step args. The first failure sticks in err and later
// reads return zero values.
type callArgs struct {
	m   map[string]any
	err error
}

func (a *callArgs) fail(format string, args ...any) {
	if a.err == nil {
		a.err = fmt.Errorf(format, args...)
	}
}

func (a *callArgs) get(key string) (any, bool) {
	v, ok := a.m[key]
	if !ok {
		a.fail("missing arg %q", key)
	}
	return v, ok
}

func (a *callArgs) str(key string) string {
	v, ok := a.get(key)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		a.fail("arg %q must be a string, got %T", key, v)
	}
	return s
}

func (a *callArgs) optStr(key, def string) string {
	if _, ok := a.m[key]; !ok {
		return def
	}
	return a.str(key)
}

func (a *callArgs) bytes(key string) []byte {
	return []byte(a.str(key))
}

func (a *callArgs) int(key string) int64 {
	v, ok := a.get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	default:
		a.fail("arg %q must be an integer, got %T", key, v)
		return 0
	}
}

func (a *callArgs) optInt(key string, def int64) int64 {
	if _, ok := a.m[key]; !ok {
		return def
	}
	return a.int(key)
}

func (a *callArgs) float(key string) float64 {
	v, ok := a.get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	default:
		a.fail("arg %q must be a number, got %T", key, v)
		return 0
	}
}

func (a *callArgs) floats(key string) []float32 {
	v, ok := a.get(key)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		a.fail("arg %q must be a list, got %T", key, v)
		return nil
	}
	out := make([]float32, len(list))
	for i, e := range list {
		switch n := e.(type) {
		case int:
			out[i] = float32(n)
		case float64:
			out[i] = float32(n)
		default:
			a.fail("arg %q[%d] must be a number, got %T", key, i, e)
		}
	}
	return out
}

func (a *callArgs) tags(key string) map[string]string {
	v, ok := a.m[key]
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		a.fail("arg %q must be a mapping, got %T", key, v)
		return nil
	}
	out := make(map[string]string, len(m))
	for k, e := range m {
		s, ok := e.(string)
		if !ok {
			a.fail("arg %q.%s must be a string, got %T", key, k, e)
		}
		out[k] = s
	}
	return out
}

func (a *callArgs) irList(key string) ([]ir.IRValue, error) {
	v, ok := a.m[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("arg %q must be a list, got %T", key, v)
	}
	out := make([]ir.IRValue, len(list))
	for i, e := range list {
		iv, err := ir.FromGo(e)
		if err != nil {
			return nil, fmt.Errorf("arg %q[%d]: %w", key, i, err)
		}
		out[i] = iv
	}
	return out, nil
}
