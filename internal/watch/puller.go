// SPDX-License-Identifier: MIT

// Package watch contains the per-camera long-running loops: the
// notification puller that keeps a PullPoint subscription healthy and
// feeds the detection table, and the event handlers that react to fresh
// detections by recording clips, saving stills, or invoking an external
// program.
//
// Every loop follows the same survival policy: transport and protocol
// errors are recoverable (tear down, wait, reconnect); only context
// cancellation ends a loop. The loops are run under the supervisor, which
// additionally restarts them if they crash outright.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/digitaltrails/onvifeye-go/internal/detect"
	"github.com/digitaltrails/onvifeye-go/internal/onvifcam"
)

const (
	// retryWait is the fixed pause before reconnecting after a transport
	// error, and before re-resolving a camera that looks unavailable.
	retryWait = 5 * time.Second

	// idleSleep is the pause after a PullMessages round that returned
	// nothing.
	idleSleep = time.Second

	// pollInterval is the handlers' detection-table poll cadence.
	pollInterval = 100 * time.Millisecond

	// messageLimit is the PullMessages batch cap.
	messageLimit = 5000
)

// PullSession is one open PullPoint subscription.
type PullSession interface {
	Pull(ctx context.Context, limit int, timeout time.Duration) ([]onvifcam.Notification, error)
	Close()
}

// PullSource opens PullPoint subscriptions, refreshing the camera's service
// addresses first.
type PullSource interface {
	EnsureAddresses(ctx context.Context) error
	OpenPullPoint(ctx context.Context, expiry time.Duration) (PullSession, error)
}

// NewPullSource adapts an onvifcam.Client to the PullSource interface.
func NewPullSource(client *onvifcam.Client) PullSource {
	return clientSource{client}
}

type clientSource struct {
	client *onvifcam.Client
}

func (s clientSource) EnsureAddresses(ctx context.Context) error {
	return s.client.EnsureAddresses(ctx)
}

func (s clientSource) OpenPullPoint(ctx context.Context, expiry time.Duration) (PullSession, error) {
	return s.client.OpenPullPoint(ctx, expiry)
}

// Puller drives one camera's PullPoint subscription and populates its
// detection table.
//
// Cycle: refresh addresses and subscribe (retrying every retryWait on
// failure, warning only on the first); pull batches of up to messageLimit
// messages with a server-side timeout equal to the detection expiry; decode
// each SimpleItem into a detection key and insert it if absent; evict
// expired entries after every round; on a transport error tear the
// subscription down (swallowing secondary errors) and reconnect.
type Puller struct {
	cameraID string
	source   PullSource
	table    *detect.Table
	expiry   time.Duration
	logger   *slog.Logger

	// now is the clock; replaced in tests.
	now func() time.Time

	// warned suppresses repeat transport warnings until recovery.
	warned bool
}

// NewPuller creates a puller for one camera. expiry <= 0 selects the
// default detection expiry.
func NewPuller(cameraID string, source PullSource, table *detect.Table, expiry time.Duration, logger *slog.Logger) *Puller {
	if expiry <= 0 {
		expiry = detect.DefaultExpiry
	}
	return &Puller{
		cameraID: cameraID,
		source:   source,
		table:    table,
		expiry:   expiry,
		logger:   logger.With("camera", cameraID, "component", "puller"),
		now:      time.Now,
	}
}

// String names the service for the supervisor.
func (p *Puller) String() string {
	return p.cameraID + "/puller"
}

// Serve runs the subscription lifecycle until ctx is cancelled.
func (p *Puller) Serve(ctx context.Context) error {
	for {
		session, err := p.connect(ctx)
		if err != nil {
			return err
		}

		err = p.listen(ctx, session)

		// Teardown: close subscription and manager state, swallowing
		// secondary errors so they cannot starve reconnection.
		session.Close()

		if err != nil {
			return err
		}
	}
}

// connect loops until a subscription is open or ctx is done.
func (p *Puller) connect(ctx context.Context) (PullSession, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := p.source.EnsureAddresses(ctx)
		if err == nil {
			var session PullSession
			session, err = p.source.OpenPullPoint(ctx, p.expiry)
			if err == nil {
				p.warned = false
				p.logger.Info("pullpoint subscription open")
				return session, nil
			}
		}

		p.warnOnce("cannot reach camera, will wait", err)
		if serr := sleepCtx(ctx, retryWait); serr != nil {
			return nil, serr
		}
	}
}

// listen pulls, decodes, and evicts until a transport error (returns nil so
// Serve reconnects) or cancellation (returns ctx.Err()).
func (p *Puller) listen(ctx context.Context, session PullSession) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		notifications, err := session.Pull(ctx, messageLimit, p.expiry)

		switch {
		case err == nil && len(notifications) > 0:
			p.decode(notifications)
		case err == nil || errors.Is(err, onvifcam.ErrNoMessages):
			p.evict()
			if serr := sleepCtx(ctx, idleSleep); serr != nil {
				return serr
			}
			continue
		case errors.Is(err, context.Canceled):
			return err
		default:
			p.evict()
			p.warnOnce("pull failed, will reconnect", err)
			return nil
		}

		p.evict()
	}
}

// decode turns SimpleItems into detection keys, preserving message order.
// Only the first observation of a (name, happening) pair wins until
// eviction.
func (p *Puller) decode(notifications []onvifcam.Notification) {
	now := p.now()
	for _, notification := range notifications {
		for _, item := range notification.Items {
			key := detect.Key(item.Name, item.Value)
			if p.table.Insert(key, now) {
				p.logger.Info("detection added", "key", key)
			}
		}
	}
}

// evict removes entries older than the expiry.
func (p *Puller) evict() {
	for _, key := range p.table.Evict(p.now(), p.expiry) {
		p.logger.Info("detection expired", "key", key)
	}
}

// warnOnce logs the first occurrence of a transport problem at warning and
// subsequent ones at debug, so a dead camera does not flood the log.
func (p *Puller) warnOnce(msg string, err error) {
	if p.warned {
		p.logger.Debug(msg, "error", err)
		return
	}
	p.warned = true
	p.logger.Warn(msg, "error", err)
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
