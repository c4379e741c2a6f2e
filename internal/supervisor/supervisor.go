// SPDX-License-Identifier: MIT

// Package supervisor runs the per-camera loops under a suture supervision
// tree.
//
// Components retry their own expected failures internally (lost
// subscriptions, unreachable cameras); the supervisor's job is narrower:
// restart a loop that crashed outright, with backoff, and drain everything
// on shutdown. suture also recovers panics inside services, which keeps one
// misbehaving camera from taking down the daemon.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
)

// Service is a long-running component. Serve blocks until ctx is cancelled
// or the service fails. Services should also implement fmt.Stringer; the
// string is the service's name in supervision events.
type Service = suture.Service

// Config contains supervisor configuration.
type Config struct {
	// FailureBackoff is the wait before restarting crashed services.
	// Default: 5 seconds.
	FailureBackoff time.Duration

	// ShutdownTimeout is the drain window for services on shutdown.
	// Default: 10 seconds.
	ShutdownTimeout time.Duration

	// Logger receives supervision events. Required.
	Logger *slog.Logger
}

// Supervisor fronts a suture supervision tree.
type Supervisor struct {
	suture *suture.Supervisor
	count  int
}

// New creates a supervisor.
func New(name string, cfg Config) *Supervisor {
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	logger := cfg.Logger
	spec := suture.Spec{
		FailureBackoff: cfg.FailureBackoff,
		Timeout:        cfg.ShutdownTimeout,
		EventHook: func(event suture.Event) {
			switch event.Type() {
			case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
				logger.Error("service failed, will restart", "event", event.String())
			case suture.EventTypeBackoff:
				logger.Warn("supervisor backing off", "event", event.String())
			default:
				logger.Debug("supervisor event", "event", event.String())
			}
		},
	}

	return &Supervisor{suture: suture.New(name, spec)}
}

// Add registers a service. Must be called before Run.
func (s *Supervisor) Add(svc Service) {
	s.suture.Add(svc)
	s.count++
}

// ServiceCount returns the number of registered services.
func (s *Supervisor) ServiceCount() int {
	return s.count
}

// Run starts every registered service and blocks until ctx is cancelled,
// then drains them within the shutdown timeout.
func (s *Supervisor) Run(ctx context.Context) error {
	return s.suture.Serve(ctx)
}
