// Package safego spawns goroutines that log panics before re-raising them.
package safego

import (
	"log"
	"runtime/debug"
)

// Go runs fn on a new goroutine. A panic is written to logger with its stack
// before propagating, so crashes are visible even when stderr is redirected.
func Go(logger *log.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC: %v\n%s", r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}
