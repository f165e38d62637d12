// Package harness runs YAML scenarios against a fresh Talon root.
//
// # Scenario Format
//
//	name: kv_ttl
//	description: "Entries with a TTL disappear once it passes"
//	steps:
//	  - call: kv.set
//	    args: { key: k, value: v, ttl: 10 }
//	  - advance: 11s
//	  - command: { module: kv, action: get, params: { key: k } }
//	    expect:
//	      ok: true
//	      data: { found: false }
//	assertions:
//	  - type: trace_count
//	    action: kv.get
//	    count: 1
//
// A step is exactly one of:
//
//   - command: a generic command object, parsed like talon_execute input
//   - call: a typed constructor name (see Calls) with its args
//   - advance: a duration added to the scenario clock
//
// expect is a subset match: ok and kind are compared exactly, data keys not
// listed are ignored.
//
// # Assertion Types
//
//   - trace_count: the action ran exactly count times
//   - trace_order: the actions ran in the listed order (gaps allowed)
//   - trace_contains: some run of the action returned data matching data
//
// # Deterministic Testing
//
// Each scenario runs in its own temporary root with a mock clock starting at
// the Unix epoch and a fixed instance id, so traces are byte-for-byte
// reproducible and can be compared against golden files with RunWithGolden.
package harness
