package commonutils

import (
	"bytes"
	"runtime"
	"strconv"
)

// GoID returns the current goroutine id, or -1 if it cannot be parsed.
// Diagnostics only: it is slow and must not be used to make decisions.
func GoID() int64 {
	// A small buffer is enough for the first line of runtime.Stack
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	// The first line looks like: "goroutine 123 [running]:\n"
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
