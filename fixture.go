package devicepool

import (
	"context"
	"strings"
	"time"

	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/httprunner/DevicePool/pkg/driver"
	"github.com/httprunner/DevicePool/pkg/ledger"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// teardownTimeout bounds each ledger write and driver teardown call made
// after the caller's context may already be cancelled.
const teardownTimeout = 30 * time.Second

// DriverFactory builds the driver for one device.
type DriverFactory func(dev *device.Device, opts driver.Options) (driver.Driver, error)

// Ledger opens and closes run rows.
type Ledger interface {
	Open(ctx context.Context, req ledger.OpenRequest) (*ledger.TestRun, error)
	Close(ctx context.Context, run *ledger.TestRun, status, remarks string) error
}

// Body is a test body bound to a started driver.
type Body func(ctx context.Context, drv driver.Driver) error

// Outcome is the result of one test invocation on one device.
type Outcome struct {
	Case    string `json:"case"`
	Device  string `json:"device"`
	Status  string `json:"status"`
	Remarks string `json:"remarks,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	// Err is the test failure; LedgerErr a failure to record it.
	Err       error  `json:"-"`
	LedgerErr error  `json:"-"`
	Error     string `json:"error,omitempty"`
}

// Failed reports whether the invocation counts as a failed test.
func (o Outcome) Failed() bool {
	return !o.Skipped && (o.Err != nil || o.LedgerErr != nil || o.Error != "" || o.Status != driver.StatusPassed)
}

// Fixture runs one test body against one device: it builds and starts the
// driver, keeps the ledger row, and always deinitializes.
type Fixture struct {
	TestSet       int
	NewDriver     DriverFactory
	Ledger        Ledger
	DriverOptions driver.Options
}

// Run executes body on dev. Only driver construction errors are returned;
// everything else is reported in the Outcome.
func (f *Fixture) Run(ctx context.Context, dev *device.Device, script string, body Body) (Outcome, error) {
	out := Outcome{Case: script, Device: dev.Name}
	drv, err := f.NewDriver(dev, f.DriverOptions)
	if err != nil {
		return out, err
	}
	logger := log.With().Str("case", script).Str("device", dev.Name).Int("test_set", f.TestSet).Logger()
	logger.Info().Str("driver", string(drv.Kind())).Msg("starting test")

	defer func() {
		tctx, cancel := teardownContext(ctx)
		defer cancel()
		if err := drv.Deinitialize(tctx); err != nil {
			logger.Warn().Err(err).Msg("deinitialize driver failed")
		}
	}()

	startErr := drv.Start(ctx)
	openCtx, cancelOpen := teardownContext(ctx)
	run, openErr := f.Ledger.Open(openCtx, ledger.OpenRequest{
		TestSetID: f.TestSet,
		Device:    dev,
		SessionID: drv.SessionID(),
		Script:    script,
	})
	cancelOpen()
	if openErr != nil {
		out.LedgerErr = openErr
		logger.Error().Err(openErr).Msg("open test run failed")
	}

	switch {
	case startErr != nil:
		out.Err = startErr
	default:
		if bodyErr := runBody(ctx, drv, body); bodyErr != nil {
			if drv.RunStatus() == driver.StatusRunning {
				drv.ReportResults(bodyErr.Error())
			}
			out.Err = bodyErr
		} else if stopErr := f.stop(ctx, drv); stopErr != nil {
			// the row must agree with the outcome
			drv.ReportResults(stopErr.Error())
			out.Err = stopErr
		}
	}

	out.Status, out.Remarks = terminalState(drv)
	if run != nil {
		out.RunID = run.ID
		closeCtx, cancelClose := teardownContext(ctx)
		err := f.Ledger.Close(closeCtx, run, out.Status, out.Remarks)
		cancelClose()
		if err != nil {
			out.LedgerErr = err
			logger.Error().Err(err).Str("run_id", run.ID).Msg("close test run failed")
		}
	}
	if out.Err != nil {
		out.Error = out.Err.Error()
	} else if out.LedgerErr != nil {
		out.Error = out.LedgerErr.Error()
	}
	logger.Info().Str("status", out.Status).Str("remarks", out.Remarks).Msg("test finished")
	return out, nil
}

func (f *Fixture) stop(ctx context.Context, drv driver.Driver) error {
	tctx, cancel := teardownContext(ctx)
	defer cancel()
	return drv.Stop(tctx)
}

// teardownContext keeps ctx's values but not its cancellation, so a run
// interrupted by a signal still reaches a terminal ledger row.
func teardownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
}

// terminalState maps the driver's status onto the ledger row. A driver that
// never left created or running ended abnormally.
func terminalState(drv driver.Driver) (string, string) {
	status := strings.ToLower(strings.TrimSpace(drv.RunStatus()))
	if status == "" || status == driver.StatusCreated || status == driver.StatusRunning {
		status = driver.StatusError
	}
	if status == driver.StatusPassed {
		return status, "passed"
	}
	return status, strings.ToLower(drv.Remarks())
}

func runBody(ctx context.Context, drv driver.Driver, body Body) (err error) {
	if body == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("test panicked: %v", r)
		}
	}()
	return body(ctx, drv)
}
