// SPDX-License-Identifier: MIT

package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/digitaltrails/onvifeye-go/internal/detect"
)

// Ledger remembers which (key, instant) pairs a handler has already acted
// on, guaranteeing at-most-once per distinct trigger instant. It lives as
// long as the handler and is never shared.
type Ledger map[string]time.Time

// Handled reports whether any entry of snap was already acted upon at
// exactly its recorded instant. Two keys sharing one trigger instant are
// one incident: if any is handled, all are.
func (l Ledger) Handled(snap detect.Snapshot) bool {
	for key, instant := range snap {
		if seen, ok := l[key]; ok && seen.Equal(instant) {
			return true
		}
	}
	return false
}

// Mark records every entry of snap.
func (l Ledger) Mark(snap detect.Snapshot) {
	for key, instant := range snap {
		l[key] = instant
	}
}

// ActionFunc performs a handler's work for one trigger. uri is the resolved
// RTSP URL (empty when the role needs none). Failures are the action's own
// business: the trigger is marked handled regardless, so a permanently
// broken camera cannot cause a retry storm.
type ActionFunc func(ctx context.Context, uri string, snap detect.Snapshot)

// ResolveFunc resolves the RTSP URL a handler records from. nil for roles
// that need no stream.
type ResolveFunc func(ctx context.Context) (string, error)

// Handler is the common dispatch loop shared by the video, image, and
// external-exec roles. Each iteration snapshots the camera's detection
// table filtered to relevant keys (targeted, not an inactive sentinel),
// acts once per fresh trigger, then sleeps a short poll interval.
type Handler struct {
	cameraID string
	role     string
	targets  detect.TargetSet
	table    *detect.Table
	logger   *slog.Logger

	resolve ResolveFunc
	act     ActionFunc

	ledger Ledger
	poll   time.Duration
}

// NewHandler wires a handler role. resolve may be nil.
func NewHandler(cameraID, role string, targets detect.TargetSet, table *detect.Table,
	resolve ResolveFunc, act ActionFunc, logger *slog.Logger) *Handler {
	return &Handler{
		cameraID: cameraID,
		role:     role,
		targets:  targets,
		table:    table,
		logger:   logger.With("camera", cameraID, "component", role),
		resolve:  resolve,
		act:      act,
		ledger:   make(Ledger),
		poll:     pollInterval,
	}
}

// String names the service for the supervisor.
func (h *Handler) String() string {
	return h.cameraID + "/" + h.role
}

// Serve runs the dispatch loop until ctx is cancelled.
//
// The outer loop resolves the stream URI (the camera may be rebooting or
// re-tokening its profiles); failures there are treated as "camera
// unavailable" and retried after retryWait. The inner loop is the poll
// cycle itself.
func (h *Handler) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		uri := ""
		if h.resolve != nil {
			resolved, err := h.resolve(ctx)
			if err != nil {
				h.logger.Warn("camera unavailable, will wait", "error", err)
				if serr := sleepCtx(ctx, retryWait); serr != nil {
					return serr
				}
				continue
			}
			uri = resolved
		}

		if err := h.pollLoop(ctx, uri); err != nil {
			return err
		}
	}
}

// pollLoop dispatches triggers until ctx is done. It never returns for any
// other reason; a broken action only logs.
func (h *Handler) pollLoop(ctx context.Context, uri string) error {
	for {
		snap := h.table.Snapshot().Relevant(h.targets)
		if len(snap) > 0 {
			if !h.ledger.Handled(snap) {
				h.act(ctx, uri, snap)
			}
			h.ledger.Mark(snap)
		}
		if err := sleepCtx(ctx, h.poll); err != nil {
			return err
		}
	}
}
