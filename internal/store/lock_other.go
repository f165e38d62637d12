//go:build !unix

package store

import "os"

// Without flock only the in-process registry guards the root.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
