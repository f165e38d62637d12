// Package engine implements one opened Talon database.
//
// A DB owns a storage root: the LOCK file, the shared module store
// (data.db), the relational store (sql.db), and one adapter per module.
// Commands enter through Execute, pass the admission guard, and are routed
// to their adapter by the command Router.
//
// ARCHITECTURE:
//
// Root layout:
//
//	<root>/LOCK        exclusive claim (in-process registry + flock)
//	<root>/data.db     kv, timeseries, mq and vector tables
//	<root>/sql.db      user tables of the sql module
//	<root>/talon.yaml  optional config
//
// Command Flow:
// 1. guard admits the command, or rejects it with InvalidHandle once Close began
// 2. the command is stamped with a sequence number and a request id
// 3. the Router dispatches it to the module adapter
// 4. the adapter runs it under its own per-entity lock
// 5. metrics and logs record the outcome
//
// Close shuts the admission gate, waits for admitted commands to drain, then
// closes adapters (rolling back an open SQL transaction and stopping the KV
// reaper), checkpoints both stores, closes them and releases the root lock.
//
// INVARIANTS:
//   - adapters outlive every admitted command
//   - no command is half-admitted: it either runs to completion or never starts
//   - a root is held by at most one DB at a time
package engine
