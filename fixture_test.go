package devicepool

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/httprunner/DevicePool/pkg/driver"
	"github.com/httprunner/DevicePool/pkg/ledger"
	"github.com/pkg/errors"
)

type fakeDriver struct {
	mu       sync.Mutex
	dev      *device.Device
	startErr error
	stopErr  error
	status   string
	remarks  string
	events   []string
	// ctx errors seen by teardown calls
	stopCtxErr   error
	deinitCtxErr error
}

func (d *fakeDriver) record(ev string) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
}

func (d *fakeDriver) Kind() driver.Kind     { return driver.KindLocalWeb }
func (d *fakeDriver) Device() *device.Device { return d.dev }
func (d *fakeDriver) SessionID() string {
	if d.startErr != nil {
		return ""
	}
	return "sess-" + d.dev.Name
}

func (d *fakeDriver) Start(ctx context.Context) error {
	d.record("start")
	if d.startErr != nil {
		d.status, d.remarks = driver.StatusError, d.startErr.Error()
		return d.startErr
	}
	d.status = driver.StatusRunning
	return nil
}

func (d *fakeDriver) Stop(ctx context.Context) error {
	d.record("stop")
	d.stopCtxErr = ctx.Err()
	if d.status == driver.StatusRunning {
		d.status = driver.StatusPassed
	}
	return d.stopErr
}

func (d *fakeDriver) ReportResults(message string) {
	d.record("report")
	d.status, d.remarks = driver.StatusFailed, message
}

func (d *fakeDriver) Deinitialize(ctx context.Context) error {
	d.record("deinitialize")
	d.deinitCtxErr = ctx.Err()
	return nil
}

func (d *fakeDriver) RunStatus() string { return d.status }
func (d *fakeDriver) Remarks() string   { return d.remarks }

type driverRecorder struct {
	mu       sync.Mutex
	drivers  []*fakeDriver
	startErr error
	stopErr  error
}

func (r *driverRecorder) factory(dev *device.Device, opts driver.Options) (driver.Driver, error) {
	if _, err := driver.Select(dev); err != nil {
		return nil, err
	}
	d := &fakeDriver{dev: dev, status: driver.StatusCreated, startErr: r.startErr, stopErr: r.stopErr}
	r.mu.Lock()
	r.drivers = append(r.drivers, d)
	r.mu.Unlock()
	return d, nil
}

func newTestLedger(t *testing.T) (*ledger.Manager, *ledger.SQLiteSink) {
	t.Helper()
	sink, err := ledger.OpenSQLiteSink(filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("open ledger failed: %v", err)
	}
	mgr, err := ledger.NewManager(sink)
	if err != nil {
		t.Fatalf("new ledger failed: %v", err)
	}
	t.Cleanup(func() { mgr.Shutdown() })
	return mgr, sink
}

var webDevice = &device.Device{ID: 3, Name: "chrome-1", Platform: device.PlatformWeb, Location: device.LocationLocal, Type: device.TypeOther, Host: "10.0.0.3", Port: 4444}

func TestFixturePassingBody(t *testing.T) {
	ctx := context.Background()
	mgr, sink := newTestLedger(t)
	drivers := &driverRecorder{}
	fx := &Fixture{TestSet: 9, NewDriver: drivers.factory, Ledger: mgr}

	out, err := fx.Run(ctx, webDevice, "test_id_component", func(ctx context.Context, drv driver.Driver) error {
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.Failed() || out.Status != driver.StatusPassed || out.Remarks != "passed" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	row, err := sink.Get(ctx, out.RunID)
	if err != nil {
		t.Fatalf("get row failed: %v", err)
	}
	if row.Status != "passed" || row.Remarks != "passed" || row.EndTime == nil || row.TestSetID != 9 {
		t.Fatalf("unexpected ledger row %+v", row)
	}
	if row.SessionID != "sess-chrome-1" || row.Machine != "10.0.0.3" || row.Script != "test_id_component" {
		t.Fatalf("unexpected ledger identity %+v", row)
	}
	got := strings.Join(drivers.drivers[0].events, ",")
	if got != "start,stop,deinitialize" {
		t.Fatalf("unexpected driver lifecycle %s", got)
	}
}

func TestFixtureFailingBodyClosesLedgerAndDeinitializes(t *testing.T) {
	ctx := context.Background()
	mgr, sink := newTestLedger(t)
	drivers := &driverRecorder{}
	fx := &Fixture{NewDriver: drivers.factory, Ledger: mgr}

	out, err := fx.Run(ctx, webDevice, "test_labels", func(ctx context.Context, drv driver.Driver) error {
		return errors.New("Label Missing")
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.Err == nil || out.LedgerErr != nil {
		t.Fatalf("test failure must be reported apart from ledger errors: %+v", out)
	}
	row, err := sink.Get(ctx, out.RunID)
	if err != nil {
		t.Fatalf("get row failed: %v", err)
	}
	if row.Status != "failed" || row.Remarks != "label missing" || row.EndTime == nil {
		t.Fatalf("ledger row should reflect driver status, got %+v", row)
	}
	got := strings.Join(drivers.drivers[0].events, ",")
	if got != "start,report,deinitialize" {
		t.Fatalf("unexpected driver lifecycle %s", got)
	}
}

func TestFixturePanickingBody(t *testing.T) {
	ctx := context.Background()
	mgr, sink := newTestLedger(t)
	drivers := &driverRecorder{}
	fx := &Fixture{NewDriver: drivers.factory, Ledger: mgr}

	out, err := fx.Run(ctx, webDevice, "test_panics", func(ctx context.Context, drv driver.Driver) error {
		panic("element not found")
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	row, err := sink.Get(ctx, out.RunID)
	if err != nil {
		t.Fatalf("get row failed: %v", err)
	}
	if row.Status != "failed" || !strings.Contains(row.Remarks, "element not found") {
		t.Fatalf("panic should close the row as failed, got %+v", row)
	}
	events := drivers.drivers[0].events
	if events[len(events)-1] != "deinitialize" {
		t.Fatalf("deinitialize must run after a panic, got %v", events)
	}
}

func TestFixtureStartFailureStillRecordsRow(t *testing.T) {
	ctx := context.Background()
	mgr, sink := newTestLedger(t)
	drivers := &driverRecorder{startErr: errors.New("Device Busy")}
	fx := &Fixture{NewDriver: drivers.factory, Ledger: mgr}

	called := false
	out, err := fx.Run(ctx, webDevice, "test_x", func(ctx context.Context, drv driver.Driver) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if called {
		t.Fatal("body must not run when the driver did not start")
	}
	row, err := sink.Get(ctx, out.RunID)
	if err != nil {
		t.Fatalf("get row failed: %v", err)
	}
	if row.Status != "error" || row.Remarks != "device busy" || row.EndTime == nil {
		t.Fatalf("unexpected row for failed start %+v", row)
	}
}

func TestFixtureUnsupportedDeviceIsFatal(t *testing.T) {
	mgr, _ := newTestLedger(t)
	drivers := &driverRecorder{}
	fx := &Fixture{NewDriver: drivers.factory, Ledger: mgr}
	bad := &device.Device{Name: "odd", Location: device.LocationLocal, Type: device.TypeSmartphone, Platform: device.PlatformWeb}
	_, err := fx.Run(context.Background(), bad, "test_x", nil)
	var unsupported *driver.UnsupportedDeviceError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedDeviceError, got %v", err)
	}
}

type failingLedger struct{}

func (failingLedger) Open(ctx context.Context, req ledger.OpenRequest) (*ledger.TestRun, error) {
	return nil, errors.New("database is locked")
}

func (failingLedger) Close(ctx context.Context, run *ledger.TestRun, status, remarks string) error {
	return nil
}

func TestFixtureLedgerFailureIsDistinct(t *testing.T) {
	drivers := &driverRecorder{}
	fx := &Fixture{NewDriver: drivers.factory, Ledger: failingLedger{}}
	out, err := fx.Run(context.Background(), webDevice, "test_x", func(ctx context.Context, drv driver.Driver) error {
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.Err != nil || out.LedgerErr == nil || out.Status != driver.StatusPassed {
		t.Fatalf("ledger failure should not mask a passing test: %+v", out)
	}
	if !out.Failed() {
		t.Fatal("an unrecorded run still counts as failed")
	}
}

func TestFixtureCancelledRunClosesLedger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr, sink := newTestLedger(t)
	drivers := &driverRecorder{}
	fx := &Fixture{NewDriver: drivers.factory, Ledger: mgr}

	out, err := fx.Run(ctx, webDevice, "test_id_component", func(ctx context.Context, drv driver.Driver) error {
		cancel()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.LedgerErr != nil {
		t.Fatalf("ledger close should survive cancellation: %v", out.LedgerErr)
	}
	if !errors.Is(out.Err, context.Canceled) || out.Status != driver.StatusFailed {
		t.Fatalf("unexpected outcome %+v", out)
	}
	row, err := sink.Get(context.Background(), out.RunID)
	if err != nil {
		t.Fatalf("get row failed: %v", err)
	}
	if row.Status != "failed" || row.EndTime == nil {
		t.Fatalf("cancelled run left row open %+v", row)
	}
	drv := drivers.drivers[0]
	if got := strings.Join(drv.events, ","); got != "start,report,deinitialize" {
		t.Fatalf("unexpected driver lifecycle %s", got)
	}
	if drv.deinitCtxErr != nil {
		t.Fatalf("deinitialize got a dead context: %v", drv.deinitCtxErr)
	}
}

func TestFixtureCancelledAfterBodyStillStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr, sink := newTestLedger(t)
	drivers := &driverRecorder{}
	fx := &Fixture{NewDriver: drivers.factory, Ledger: mgr}

	out, err := fx.Run(ctx, webDevice, "test_id_component", func(ctx context.Context, drv driver.Driver) error {
		cancel()
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	drv := drivers.drivers[0]
	if drv.stopCtxErr != nil || drv.deinitCtxErr != nil {
		t.Fatalf("teardown got a dead context: stop=%v deinitialize=%v", drv.stopCtxErr, drv.deinitCtxErr)
	}
	row, err := sink.Get(context.Background(), out.RunID)
	if err != nil {
		t.Fatalf("get row failed: %v", err)
	}
	if row.Status != "passed" || row.EndTime == nil {
		t.Fatalf("unexpected row %+v", row)
	}
}

func TestFixtureStopFailureFailsRow(t *testing.T) {
	ctx := context.Background()
	mgr, sink := newTestLedger(t)
	drivers := &driverRecorder{stopErr: errors.New("Session Delete Timed Out")}
	fx := &Fixture{NewDriver: drivers.factory, Ledger: mgr}

	out, err := fx.Run(ctx, webDevice, "test_id_component", func(ctx context.Context, drv driver.Driver) error {
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !out.Failed() || out.Status != driver.StatusFailed {
		t.Fatalf("stop failure should fail the outcome: %+v", out)
	}
	row, err := sink.Get(ctx, out.RunID)
	if err != nil {
		t.Fatalf("get row failed: %v", err)
	}
	if row.Status != out.Status || row.Remarks != "session delete timed out" {
		t.Fatalf("row disagrees with outcome: row=%+v out=%+v", row, out)
	}
}
