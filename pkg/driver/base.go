package driver

import (
	"context"
	"strings"
	"sync"

	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// base holds the run bookkeeping shared by every variant. Variants supply
// their own Start and reuse the rest.
type base struct {
	kind   Kind
	dev    *device.Device
	opts   Options
	remote *remoteSession

	mu            sync.Mutex
	status        string
	remarks       string
	sessionID     string
	deinitialized bool
}

func newBase(kind Kind, dev *device.Device, opts Options, endpoint string) *base {
	return &base{
		kind:   kind,
		dev:    dev,
		opts:   opts,
		remote: newRemoteSession(endpoint, opts.HTTPClient),
		status: StatusCreated,
	}
}

func (b *base) Kind() Kind             { return b.kind }
func (b *base) Device() *device.Device { return b.dev }

func (b *base) RunStatus() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) Remarks() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remarks
}

func (b *base) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

// start opens the remote session with caps and marks the run as running.
func (b *base) start(ctx context.Context, caps map[string]any) error {
	b.mu.Lock()
	if b.deinitialized {
		b.mu.Unlock()
		return errors.Errorf("driver %s for %s already deinitialized", b.kind, b.dev.Name)
	}
	b.mu.Unlock()

	id, err := b.remote.create(ctx, caps)
	if err != nil {
		b.mu.Lock()
		b.status = StatusError
		b.remarks = strings.ToLower(err.Error())
		b.mu.Unlock()
		return errors.Wrapf(err, "start %s driver for %s", b.kind, b.dev.Name)
	}
	b.mu.Lock()
	b.sessionID = id
	b.status = StatusRunning
	b.remarks = ""
	b.mu.Unlock()
	log.Info().
		Str("driver", string(b.kind)).
		Str("device", b.dev.Name).
		Str("session_id", id).
		Bool("setup_mode", b.opts.SetupMode).
		Msg("driver started")
	return nil
}

// Stop finishes a run that nobody failed and closes the remote session.
func (b *base) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.status == StatusRunning {
		b.status = StatusPassed
	}
	b.mu.Unlock()
	if err := b.remote.delete(ctx); err != nil {
		return errors.Wrapf(err, "stop %s driver for %s", b.kind, b.dev.Name)
	}
	return nil
}

// ReportResults records a failure message. The first report wins.
func (b *base) ReportResults(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusFailed {
		return
	}
	b.status = StatusFailed
	b.remarks = strings.TrimSpace(message)
	log.Warn().
		Str("driver", string(b.kind)).
		Str("device", b.dev.Name).
		Str("remarks", b.remarks).
		Msg("driver reported failure")
}

// Deinitialize releases the remote session if it is still open. Safe to call
// more than once.
func (b *base) Deinitialize(ctx context.Context) error {
	b.mu.Lock()
	if b.deinitialized {
		b.mu.Unlock()
		return nil
	}
	b.deinitialized = true
	b.mu.Unlock()
	if err := b.remote.delete(ctx); err != nil {
		return errors.Wrapf(err, "deinitialize %s driver for %s", b.kind, b.dev.Name)
	}
	return nil
}
