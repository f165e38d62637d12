package command

import (
	"github.com/roach88/talon/internal/ir"
)

// Parse decodes a generic JSON command:
//
//	{"module": "kv", "action": "set", "params": {...}}
//
// Malformed input and unknown top-level fields fail with ParseError.
// Unknown modules and actions fail with ModuleNotFound and ActionNotFound
// before any adapter is involved. Params are left for the adapter to
// validate.
func Parse(raw []byte) (Command, error) {
	v, err := ir.UnmarshalIRValue(raw)
	if err != nil {
		return Command{}, ir.Errorf(ir.KindParseError, "malformed command: %v", err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return Command{}, ir.Errorf(ir.KindParseError, "command must be a JSON object, got %s", ir.TypeName(v))
	}
	return FromIR(obj)
}

// FromIR builds a Command from an already decoded command object.
func FromIR(obj ir.IRObject) (Command, error) {
	for _, key := range obj.SortedKeys() {
		switch key {
		case "module", "action", "params":
		default:
			return Command{}, ir.Errorf(ir.KindParseError, "unknown command field %q", key)
		}
	}

	mod, err := stringField(obj, "module")
	if err != nil {
		return Command{}, err
	}
	action, err := stringField(obj, "action")
	if err != nil {
		return Command{}, err
	}

	var params ir.IRObject
	switch p := obj["params"].(type) {
	case nil, ir.IRNull:
		params = ir.IRObject{}
	case ir.IRObject:
		params = p
	default:
		return Command{}, ir.Errorf(ir.KindParseError, "params must be an object, got %s", ir.TypeName(p))
	}

	return New(mod, action, params)
}

func stringField(obj ir.IRObject, key string) (string, error) {
	v, ok := obj[key]
	if !ok {
		return "", ir.Errorf(ir.KindParseError, "missing %q field", key)
	}
	s, ok := v.(ir.IRString)
	if !ok {
		return "", ir.Errorf(ir.KindParseError, "%q must be a string, got %s", key, ir.TypeName(v))
	}
	if s == "" {
		return "", ir.Errorf(ir.KindParseError, "%q must not be empty", key)
	}
	return string(s), nil
}
