package utils

import "io"

// maxDrain bounds how much of an unread body is discarded before closing. Larger
// bodies are cheaper to drop with the connection than to read.
const maxDrain = 64 << 10

// DrainAndClose discards what is left of a response body so the connection can be
// reused, then closes it.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, _ = io.CopyN(io.Discard, rc, maxDrain)
	return rc.Close()
}
