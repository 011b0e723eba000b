//go:build !unix

package minikv

import "os"

// Advisory locking is only implemented on unix, elsewhere the caller must
// make sure a single process owns the database file.
func lockFile(file *os.File) error { return nil }

func unlockFile(file *os.File) error { return nil }
