// Package diag provides the one runtime-introspection helper the core
// needs to make "accessed by the analyser thread only" access patterns
// observable in logs rather than merely assumed.
package diag

import (
	"bytes"
	"runtime"
	"strconv"
)

// GoroutineID parses the calling goroutine's id out of a runtime.Stack
// trace. It is a debug aid only — nothing in this core branches on it.
func GoroutineID() int64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return n
}
