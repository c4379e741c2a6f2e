// SPDX-License-Identifier: MIT

// Package term snapshots and restores terminal attributes across the
// daemon's lifetime. ffmpeg occasionally disturbs TTY state (echo, canonical
// mode) when the daemon is run attached to a terminal; restoring the
// snapshot on exit leaves the operator's shell usable.
package term

import (
	"os"

	"golang.org/x/term"
)

// State is a captured terminal state. A nil *State is valid and inert, so
// callers need no is-a-terminal branching.
type State struct {
	fd    int
	state *term.State
}

// Capture snapshots the state of stdin's terminal. Returns nil when stdin
// is not a terminal or the state cannot be read.
func Capture() *State {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	state, err := term.GetState(fd)
	if err != nil {
		return nil
	}
	return &State{fd: fd, state: state}
}

// Restore puts the terminal back the way Capture found it. Safe on nil.
func (s *State) Restore() {
	if s == nil {
		return
	}
	_ = term.Restore(s.fd, s.state)
}
