package util

import (
	"runtime/debug"
	"sync"

	"github.com/lazydev-zone/lazydev/internal/logging"
)

// SafeGo runs fn on a new goroutine. A panic is recovered and logged with
// its stack instead of taking the process down.
func SafeGo(fn func()) {
	SafeGoWithName("", fn)
}

// SafeGoWithName is SafeGo with a goroutine name attached to the panic log.
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer recoverPanic(name)
		fn()
	}()
}

// SafeGoGroup runs fn under wg with panic recovery. wg.Done is called
// whether fn returns or panics.
func SafeGoGroup(wg *sync.WaitGroup, name string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverPanic(name)
		fn()
	}()
}

func recoverPanic(name string) {
	r := recover()
	if r == nil {
		return
	}
	args := []any{"panic", r, "stack", string(debug.Stack())}
	if name != "" {
		args = append([]any{"goroutine", name}, args...)
	}
	logging.Error("goroutine panic recovered", args...)
}
