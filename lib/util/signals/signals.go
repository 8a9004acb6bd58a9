package signals

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
)

// sigChan is buffered to avoid missing signals delivered while no receiver is ready.
var sigChan = make(chan os.Signal, 1)

// Handler is a function called when a signal is received.
type Handler func()

var (
	mu           sync.RWMutex
	reloaders    []Handler
	interrupters []Handler
	stopOnce     sync.Once
)

// RegisterReloadHandler registers a handler called on SIGHUP (config reload).
// Nil handlers are silently ignored.
func RegisterReloadHandler(f Handler) {
	if f == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	reloaders = append(reloaders, f)
}

// RegisterInterruptHandler registers a handler called on SIGINT/SIGTERM (shutdown).
// Nil handlers are silently ignored.
func RegisterInterruptHandler(f Handler) {
	if f == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	interrupters = append(interrupters, f)
}

func handleReload() {
	runHandlers(reloaders, "reload")
}

func handleInterrupted() {
	runHandlers(interrupters, "interrupt")
}

// runHandlers invokes a snapshot of the registered handlers in registration
// order, shielding the signal loop from panicking handlers.
func runHandlers(handlers []Handler, kind string) {
	mu.RLock()
	snapshot := make([]Handler, len(handlers))
	copy(snapshot, handlers)
	mu.RUnlock()
	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					// The signals package has no logger; write directly to stderr
					// so panicking handlers are visible in logs/console.
					fmt.Fprintf(os.Stderr, "signals: panic in %s handler: %v\n", kind, r)
				}
			}()
			h()
		}()
	}
}

// StopHandle closes the signal channel, causing Handle() to return.
// It first calls signal.Stop to prevent signal delivery to the closed channel.
// Safe to call multiple times; only the first call takes effect.
func StopHandle() {
	stopOnce.Do(func() {
		signal.Stop(sigChan)
		close(sigChan)
	})
}
