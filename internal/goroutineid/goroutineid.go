// Package goroutineid reads the current goroutine's id. It exists so the
// engine can warn when a runner is ticked from more than one goroutine; it
// must not be used for anything that needs to be fast or portable.
package goroutineid

import (
	"bytes"
	"runtime"
	"sync"
)

var stackBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

var prefix = []byte("goroutine ")

// Get returns the current goroutine id, or 0 if it cannot be parsed.
func Get() int64 {
	bp := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(bp)
	n := runtime.Stack(*bp, false)
	return parse((*bp)[:n])
}

// parse extracts the id from a "goroutine N [state]:" stack header without
// allocating.
func parse(stack []byte) int64 {
	i := bytes.Index(stack, prefix)
	if i < 0 {
		return 0
	}
	var id int64
	for _, b := range stack[i+len(prefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
	}
	return id
}
