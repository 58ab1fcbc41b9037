// Package shutdown implements component C: the one-shot shutdown
// coordinator from spec.md §4.C. It is grounded on kilroy's
// cmd/kilroy/main.go signalCancelContext, which wires SIGINT/SIGTERM via
// context.WithCancelCause and restores the prior signal disposition on
// cleanup; this package generalizes that single cancel-context pattern into
// the full ordered-cleanup coordinator spec.md requires.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Syncer is satisfied by the JSONL writer (event.Writer).
type Syncer interface {
	Sync() error
	Close() error
}

// Closer is satisfied by the session logger (sessionlog.Logger).
type Closer interface {
	Close() error
}

// PTYCloser is satisfied by the PTY session manager.
type PTYCloser interface {
	CloseAll()
}

// Coordinator runs cleanup exactly once, in the fixed order spec.md §4.C
// requires: callbacks, then PTY-manager close-all, then writers
// (sync+close), then loggers (close). Within each category, registrations
// run in reverse order (last registered, first cleaned up).
type Coordinator struct {
	mu        sync.Mutex
	triggered bool
	log       *slog.Logger

	callbacks []func() error
	writers   []Syncer
	loggers   []Closer
	ptys      []PTYCloser

	turnCancel context.CancelFunc // set while a turn is in flight; cleared by its done func
}

// New builds a Coordinator that logs callback failures (which do not abort
// remaining cleanup, per spec.md §4.C) to log, or slog.Default() if nil.
func New(log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{log: log}
}

func (c *Coordinator) RegisterCallback(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

func (c *Coordinator) RegisterWriter(w Syncer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writers = append(c.writers, w)
}

func (c *Coordinator) RegisterLogger(l Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggers = append(c.loggers, l)
}

func (c *Coordinator) RegisterPTYManager(p PTYCloser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ptys = append(c.ptys, p)
}

// Shutdown runs cleanup. Subsequent calls are no-ops, per spec.md §4.C.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.triggered {
		c.mu.Unlock()
		return
	}
	c.triggered = true
	callbacks := append([]func() error(nil), c.callbacks...)
	writers := append([]Syncer(nil), c.writers...)
	loggers := append([]Closer(nil), c.loggers...)
	ptys := append([]PTYCloser(nil), c.ptys...)
	c.mu.Unlock()

	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := callbacks[i](); err != nil {
			c.log.Error("shutdown: callback failed", "error", err)
		}
	}
	for i := len(ptys) - 1; i >= 0; i-- {
		ptys[i].CloseAll()
	}
	for i := len(writers) - 1; i >= 0; i-- {
		if err := writers[i].Sync(); err != nil {
			c.log.Error("shutdown: writer sync failed", "error", err)
		}
		if err := writers[i].Close(); err != nil {
			c.log.Error("shutdown: writer close failed", "error", err)
		}
	}
	for i := len(loggers) - 1; i >= 0; i-- {
		if err := loggers[i].Close(); err != nil {
			c.log.Error("shutdown: logger close failed", "error", err)
		}
	}
}

// Triggered reports whether Shutdown has already run.
func (c *Coordinator) Triggered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggered
}

// NewTurn returns a context derived from parent plus a done func, for the
// caller to wrap exactly one in-flight turn (spec.md:154). While the
// returned context is live, a SIGINT delivered to WatchSignals's handler
// cancels it (aborting the in-flight stream) instead of shutting the
// process down; done must be called once the turn finishes (success,
// error, or cancellation) to clear the slot, so that a SIGINT with no turn
// registered — whether at an idle prompt or a second SIGINT arriving after
// the first already cleared the slot — escalates to full Shutdown.
func (c *Coordinator) NewTurn(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.turnCancel = cancel
	c.mu.Unlock()
	return ctx, func() {
		c.mu.Lock()
		c.turnCancel = nil
		c.mu.Unlock()
		cancel()
	}
}

// cancelTurn cancels the registered in-flight turn, if any, reporting
// whether one was found. Clearing the slot here (rather than leaving it to
// the turn's own done func, which runs later on the caller's goroutine)
// is what makes a second SIGINT see no turn registered and escalate.
func (c *Coordinator) cancelTurn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turnCancel == nil {
		return false
	}
	c.turnCancel()
	c.turnCancel = nil
	return true
}

// WatchSignals installs a SIGINT/SIGTERM handler. SIGTERM always runs
// Shutdown and cancels ctx immediately. SIGINT first tries to cancel the
// coordinator's in-flight turn (see NewTurn) so the session returns to the
// prompt with the process left running; only a SIGINT that finds no turn
// to cancel — an idle prompt, or a second SIGINT — runs Shutdown and
// cancels ctx, per spec.md:154. It returns a context to observe and a
// cleanup func that restores Go's default signal disposition and must be
// called once cleanup is no longer needed (e.g. via defer), mirroring
// kilroy's signalCancelContext.
func WatchSignals(parent context.Context) (context.Context, *Coordinator, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	coord := New(nil)

	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGINT && coord.cancelTurn() {
					continue
				}
				coord.Shutdown()
				cancel(fmt.Errorf("shutdown: stopped by signal %s", sig.String()))
				return
			case <-stopCh:
				return
			}
		}
	}()

	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel(nil)
	}
	return ctx, coord, cleanup
}
