package ir

// Version constants for the on-disk format and engine.
const (
	// FormatVersion is the storage format version written to talon_meta.
	// Roots stamped with a newer version are refused as CorruptState.
	FormatVersion = 1

	// EngineVersion is the Talon engine version.
	EngineVersion = "0.1.0"
)
