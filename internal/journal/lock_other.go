//go:build !unix

package journal

import "os"

// Without flock, appends rely on O_APPEND positioning and the in-process mutex.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) {}
