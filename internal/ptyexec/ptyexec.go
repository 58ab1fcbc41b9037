// Package ptyexec implements component G: the pseudoterminal session
// manager described in spec.md §4.G. It is grounded on wingthing's
// internal/egg/server.go (Session struct shape wrapping a *os.File pty
// master, SIGTERM-then-SIGKILL teardown) and the other_examples codewire
// internal/session/session.go reference (pty.Start/pty.Setsize/syscall.Kill
// lifecycle calls); reaping itself is a blocking cmd.Wait() in its own
// goroutine per session (reapLoop), not PID polling.
package ptyexec

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/lincona/lincona/internal/fsboundary"
	"github.com/lincona/lincona/internal/lerrors"
	"github.com/lincona/lincona/internal/outputlimit"
)

// ringBufferSize is spec.md §3's suggested PTY output ring-buffer bound.
const ringBufferSize = 64 * 1024

// DefaultYieldInterval is the default read window for open/write, per
// spec.md §4.G.
const DefaultYieldInterval = 200 * time.Millisecond

// killGrace is how long close waits after SIGTERM before escalating to
// SIGKILL, per spec.md §4.G.
const killGrace = 2 * time.Second

type session struct {
	mu      sync.Mutex
	id      string
	cmd     *exec.Cmd
	ptmx    *os.File
	ring    *ring
	closed  bool
	exited  bool
	exitErr error
	waitCh  chan struct{}
}

// ring is a bounded byte ring buffer capturing the tail of PTY output.
type ring struct {
	buf []byte
	cap int
}

func newRing(cap int) *ring { return &ring{cap: cap} }

func (r *ring) write(p []byte) {
	r.buf = append(r.buf, p...)
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
}

// Manager is the sole mutator of the session-id -> session map. open/write/
// close serialize per-session (via session.mu); different sessions run
// independently.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// New builds an empty Manager.
func New() *Manager {
	return &Manager{sessions: make(map[string]*session)}
}

// Open spawns cmd attached to a new pseudoterminal rooted at workdir
// (validated through boundary), and returns the output captured during the
// first yield interval, truncated per outputlimit defaults.
func (m *Manager) Open(id, cmdline string, workdir string, boundary *fsboundary.Boundary) (string, error) {
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return "", lerrors.New(lerrors.PtyAlreadyOpen, "pty session %q is already open", id)
	}
	m.mu.Unlock()

	resolvedDir, err := boundary.Resolve(workdir)
	if err != nil {
		return "", err
	}

	cmd := exec.Command("/bin/sh", "-c", cmdline)
	cmd.Dir = resolvedDir
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return "", lerrors.Wrap(lerrors.FatalKind, err, "starting pty for session %q", id)
	}

	s := &session{id: id, cmd: cmd, ptmx: ptmx, ring: newRing(ringBufferSize), waitCh: make(chan struct{})}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	go s.reapLoop()

	out := s.readFor(DefaultYieldInterval, 0)
	truncated, _ := outputlimit.Truncate(out, outputlimit.DefaultMaxBytes, outputlimit.DefaultMaxLines)
	return truncated, nil
}

// Write sends chars to id's pty master and returns output captured during
// at most yieldMS milliseconds (DefaultYieldInterval if yieldMS <= 0) or
// until maxOutputBytes is reached. If the child has exited, the final
// buffered chunk plus a termination marker is returned and the session is
// marked closed; subsequent calls return PtyUnknownSession.
func (m *Manager) Write(id, chars string, yieldMS, maxOutputBytes int) (string, error) {
	s, err := m.lookup(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", lerrors.New(lerrors.PtyUnknownSession, "pty session %q is closed", id)
	}
	if s.exited {
		s.closed = true
		s.mu.Unlock()
		m.remove(id)
		out := string(s.ring.buf) + "\n[pty session terminated]"
		truncated, _ := outputlimit.Truncate(out, outputlimit.DefaultMaxBytes, outputlimit.DefaultMaxLines)
		return truncated, nil
	}
	ptmx := s.ptmx
	s.mu.Unlock()

	if _, err := ptmx.Write([]byte(chars)); err != nil {
		return "", lerrors.Wrap(lerrors.FatalKind, err, "writing to pty session %q", id)
	}

	yield := DefaultYieldInterval
	if yieldMS > 0 {
		yield = time.Duration(yieldMS) * time.Millisecond
	}
	out := s.readFor(yield, maxOutputBytes)
	truncated, _ := outputlimit.Truncate(out, outputlimit.DefaultMaxBytes, outputlimit.DefaultMaxLines)
	return truncated, nil
}

// Close sends SIGTERM to id's child, waits up to killGrace, escalates to
// SIGKILL, reaps, and removes the session.
func (m *Manager) Close(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.terminate()
	m.remove(id)
	return nil
}

// CloseAll terminates every open session; it is what the shutdown
// coordinator calls (spec.md §4.C/§4.G).
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if s, err := m.lookup(id); err == nil {
			s.terminate()
		}
	}

	m.mu.Lock()
	m.sessions = make(map[string]*session)
	m.mu.Unlock()
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, lerrors.New(lerrors.PtyUnknownSession, "no open pty session %q", id)
	}
	return s, nil
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// readFor drains the pty's output for at most d, or until maxBytes bytes
// have been captured (if maxBytes > 0).
func (s *session) readFor(d time.Duration, maxBytes int) string {
	deadline := time.Now().Add(d)
	buf := make([]byte, 4096)
	var collected []byte

	s.ptmx.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			collected = append(collected, buf[:n]...)
			s.mu.Lock()
			s.ring.write(buf[:n])
			s.mu.Unlock()
			if maxBytes > 0 && len(collected) >= maxBytes {
				break
			}
		}
		if err != nil {
			break
		}
	}
	return string(collected)
}

func (s *session) reapLoop() {
	err := s.cmd.Wait()
	s.mu.Lock()
	s.exited = true
	s.exitErr = err
	s.mu.Unlock()
	close(s.waitCh)
}

func (s *session) terminate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pid := s.cmd.Process.Pid
	s.mu.Unlock()

	syscall.Kill(pid, syscall.SIGTERM)
	select {
	case <-s.waitCh:
	case <-time.After(killGrace):
		syscall.Kill(pid, syscall.SIGKILL)
		<-s.waitCh
	}
	s.ptmx.Close()
}
