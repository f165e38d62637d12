// Package response serializes command results into the canonical response
// envelope:
//
//	{"data":{...},"ok":true}
//	{"error":{"kind":"...","message":"...","module":"..."},"ok":false}
//
// Keys are emitted in canonical order, so identical results always produce
// identical bytes.
package response

import (
	"errors"
	"fmt"

	"github.com/roach88/talon/internal/ir"
)

// Envelope builds the response object for a result.
func Envelope(data ir.IRObject, err error) ir.IRObject {
	if err != nil {
		return ir.IRObject{"ok": ir.IRBool(false), "error": errorObject(err)}
	}
	if data == nil {
		data = ir.IRObject{}
	}
	return ir.IRObject{"ok": ir.IRBool(true), "data": data}
}

func errorObject(err error) ir.IRObject {
	var e *ir.Error
	if !errors.As(err, &e) {
		e = &ir.Error{Kind: ir.KindExecutionError, Message: err.Error()}
	}
	obj := ir.IRObject{
		"kind":    ir.IRString(e.Kind),
		"message": ir.IRString(e.Message),
	}
	if e.Module != "" {
		obj["module"] = ir.IRString(e.Module)
	}
	return obj
}

// Encode returns the canonical JSON envelope. It never fails: a payload that
// cannot be encoded is reported as an ExecutionError envelope instead.
func Encode(data ir.IRObject, err error) []byte {
	b, merr := ir.MarshalCanonical(Envelope(data, err))
	if merr == nil {
		return b
	}
	b, merr = ir.MarshalCanonical(Envelope(nil, ir.Errorf(ir.KindExecutionError, "encode response: %v", merr)))
	if merr != nil {
		panic(fmt.Sprintf("response: encode fallback: %v", merr))
	}
	return b
}

// Decode parses an envelope. A success returns its data; a failure returns
// the reconstructed *ir.Error. Malformed input is a ParseError.
func Decode(raw []byte) (ir.IRObject, error) {
	v, err := ir.UnmarshalIRValue(raw)
	if err != nil {
		return nil, ir.Errorf(ir.KindParseError, "response: %v", err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, ir.Errorf(ir.KindParseError, "response must be an object, got %s", ir.TypeName(v))
	}
	okVal, isBool := obj["ok"].(ir.IRBool)
	if !isBool {
		return nil, ir.Errorf(ir.KindParseError, "response.ok must be a bool")
	}

	if okVal {
		switch data := obj["data"].(type) {
		case nil:
			return ir.IRObject{}, nil
		case ir.IRObject:
			return data, nil
		default:
			return nil, ir.Errorf(ir.KindParseError, "response.data must be an object, got %s", ir.TypeName(data))
		}
	}

	errObj, isObj := obj["error"].(ir.IRObject)
	if !isObj {
		return nil, ir.Errorf(ir.KindParseError, "response.error must be an object")
	}
	kind, _ := errObj["kind"].(ir.IRString)
	if !ir.ErrorKind(kind).Valid() {
		return nil, ir.Errorf(ir.KindParseError, "response.error.kind %q is not a known kind", string(kind))
	}
	message, _ := errObj["message"].(ir.IRString)
	mod, _ := errObj["module"].(ir.IRString)
	return nil, &ir.Error{Kind: ir.ErrorKind(kind), Message: string(message), Module: string(mod)}
}
