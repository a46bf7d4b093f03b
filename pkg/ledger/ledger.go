// Package ledger records one row per test invocation: opened as running
// before the test body executes and closed with the terminal status.
package ledger

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/httprunner/DevicePool/internal/config"
	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// StatusRunning is the only non-terminal status a row can hold.
const StatusRunning = "running"

const defaultCloudMachineLabel = "Perfecto"

// ErrAlreadyClosed is returned when a run is closed twice.
var ErrAlreadyClosed = errors.New("ledger: test run already closed")

// TestRun is one ledger row.
type TestRun struct {
	ID         string
	TestSetID  int
	DeviceID   int64
	DeviceName string
	SessionID  string
	Script     string
	Status     string
	Remarks    string
	Machine    string
	HostUUID   string
	StartTime  time.Time
	// EndTime stays nil while the run is in progress.
	EndTime *time.Time
}

// Sink persists ledger rows.
type Sink interface {
	Create(ctx context.Context, run *TestRun) error
	Update(ctx context.Context, run *TestRun) error
	Close() error
	Name() string
}

// OpenRequest describes the invocation being recorded.
type OpenRequest struct {
	TestSetID int
	Device    *device.Device
	SessionID string
	Script    string
	// Machine overrides MachineFor when set.
	Machine string
}

// Manager fans rows out to a primary sink and best-effort mirrors.
// Primary failures are returned; mirror failures are logged.
type Manager struct {
	primary      Sink
	mirrors      []Sink
	clock        func() time.Time
	cloudLabel   string
	hostUUIDOnce sync.Once
	hostUUID     string
}

// NewManager builds a manager writing to primary and mirroring to mirrors.
func NewManager(primary Sink, mirrors ...Sink) (*Manager, error) {
	if primary == nil {
		return nil, errors.New("ledger: primary sink is nil")
	}
	kept := make([]Sink, 0, len(mirrors))
	for _, m := range mirrors {
		if m != nil {
			kept = append(kept, m)
		}
	}
	return &Manager{
		primary:    primary,
		mirrors:    kept,
		clock:      time.Now,
		cloudLabel: config.String(config.EnvPerfectoMachineLabel, defaultCloudMachineLabel),
	}, nil
}

// MachineFor returns the machine column value for dev: the farm label for
// cloud devices, the node host otherwise.
func (m *Manager) MachineFor(dev *device.Device) string {
	if dev == nil {
		return ""
	}
	if dev.IsCloud() {
		return m.cloudLabel
	}
	return dev.Host
}

// Open inserts a running row and returns it.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*TestRun, error) {
	if req.Device == nil {
		return nil, errors.New("ledger: open requires a device")
	}
	machine := req.Machine
	if machine == "" {
		machine = m.MachineFor(req.Device)
	}
	run := &TestRun{
		ID:         uuid.NewString(),
		TestSetID:  req.TestSetID,
		DeviceID:   req.Device.ID,
		DeviceName: req.Device.Name,
		SessionID:  req.SessionID,
		Script:     req.Script,
		Status:     StatusRunning,
		Machine:    machine,
		HostUUID:   m.hostID(),
		StartTime:  m.clock(),
	}
	if err := m.primary.Create(ctx, run); err != nil {
		return nil, errors.Wrapf(err, "ledger: open run for %s failed", run.Script)
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Create(ctx, run); err != nil {
			log.Warn().Err(err).Str("sink", mirror.Name()).Str("run_id", run.ID).Msg("ledger mirror create failed")
		}
	}
	log.Debug().Str("run_id", run.ID).Str("script", run.Script).Str("device", run.DeviceName).Msg("test run opened")
	return run, nil
}

// Close moves run from running to status with remarks and end time.
func (m *Manager) Close(ctx context.Context, run *TestRun, status, remarks string) error {
	if run == nil {
		return errors.New("ledger: close requires a run")
	}
	if run.Status != StatusRunning || run.EndTime != nil {
		return errors.Wrapf(ErrAlreadyClosed, "run_id=%s", run.ID)
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" || status == StatusRunning {
		return errors.Errorf("ledger: invalid terminal status %q", status)
	}
	end := m.clock()
	closed := *run
	closed.Status = status
	closed.Remarks = remarks
	closed.EndTime = &end
	if err := m.primary.Update(ctx, &closed); err != nil {
		return errors.Wrapf(err, "ledger: close run %s failed", run.ID)
	}
	*run = closed
	for _, mirror := range m.mirrors {
		if err := mirror.Update(ctx, run); err != nil {
			log.Warn().Err(err).Str("sink", mirror.Name()).Str("run_id", run.ID).Msg("ledger mirror update failed")
		}
	}
	log.Debug().Str("run_id", run.ID).Str("status", run.Status).Msg("test run closed")
	return nil
}

// Shutdown releases every sink.
func (m *Manager) Shutdown() error {
	var errs []error
	for _, sink := range append([]Sink{m.primary}, m.mirrors...) {
		if err := sink.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "close %s", sink.Name()))
		}
	}
	return stderrors.Join(errs...)
}

func (m *Manager) hostID() string {
	m.hostUUIDOnce.Do(func() {
		id, err := hostUUID()
		if err != nil {
			log.Debug().Err(err).Msg("resolve host uuid failed")
		}
		m.hostUUID = id
	})
	return m.hostUUID
}
