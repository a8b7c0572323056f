// Package iox holds close and temp-file cleanup helpers.
package iox

import (
	"io"
	"os"
)

// DiscardClose closes c and discards the error.
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c, for t.Cleanup.
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardRemove removes a runner output file. A file that is already gone
// and an empty path are both fine.
func DiscardRemove(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
