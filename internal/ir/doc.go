// Package ir provides the value model and error taxonomy shared by every
// Talon package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps IR the foundational
// layer with no circular dependencies.
//
// Key constraints:
//   - IRValue is sealed; params and results are always IRObject trees
//   - Canonical JSON (RFC 8785) is the only encoding used for responses and
//     fingerprints
//   - Floats must be finite
//   - All JSON keys use snake_case
package ir
