// Package module defines the contract every Talon data-model module
// implements, plus the helpers adapters share: typed parameter access,
// byte-string encoding and striped per-key locks.
//
// Each adapter lives in its own sub-package (relational, kv, timeseries,
// mq, vector) and exposes a fixed action table. Adapters never see raw JSON;
// they receive Params and return an ir.IRObject or an *ir.Error.
package module
