package devicepool

import (
	"context"
	"sync"

	"github.com/httprunner/DevicePool/pkg/driver"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Case is one test function with the markers it declares.
type Case struct {
	Name    string
	Markers []string
	Body    Body
}

// HasMarker reports whether the case declares tag.
func (c Case) HasMarker(tag string) bool {
	return containsFold(c.Markers, tag)
}

// Report aggregates outcomes of one process or of a whole parallel run.
type Report struct {
	Passed  int       `json:"passed"`
	Failed  int       `json:"failed"`
	Skipped int       `json:"skipped"`
	Results []Outcome `json:"results"`
}

// Add counts o and keeps it.
func (r *Report) Add(o Outcome) {
	switch {
	case o.Skipped:
		r.Skipped++
	case o.Failed():
		r.Failed++
	default:
		r.Passed++
	}
	r.Results = append(r.Results, o)
}

// Merge folds other into r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Passed += other.Passed
	r.Failed += other.Failed
	r.Skipped += other.Skipped
	r.Results = append(r.Results, other.Results...)
}

// Err is non-nil when any test failed.
func (r *Report) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return errors.Errorf("%d of %d tests failed", r.Failed, r.Passed+r.Failed)
}

// WorkerLauncher starts one worker process bound to its assignment and
// waits for its report.
type WorkerLauncher interface {
	Launch(ctx context.Context, a Assignment, in WorkerInput) (*Report, error)
}

// Runner executes cases according to the session's role and worker count.
type Runner struct {
	Session  *SessionContext
	Fixture  *Fixture
	Launcher WorkerLauncher
}

// Run executes cases. The returned error is fatal to the run (bad
// configuration, unusable inventory, crashed worker); individual test
// failures are only reported.
func (r *Runner) Run(ctx context.Context, cases []Case) (*Report, error) {
	if r.Session == nil {
		return nil, errors.New("devicepool: runner has no session")
	}
	switch {
	case r.Session.Role == RoleWorker:
		return r.runWorker(ctx, cases)
	case r.Session.Workers > 0:
		return r.runController(ctx)
	default:
		return r.runSingle(ctx, cases)
	}
}

// runSingle binds every matching device to every case, one driver per
// device per case.
func (r *Runner) runSingle(ctx context.Context, cases []Case) (*Report, error) {
	report := &Report{}
	for _, c := range cases {
		filters := c.Markers
		if filters == nil {
			filters = []string{}
		}
		devs := r.Session.ReadAllDevices(filters)
		if len(devs) == 0 {
			log.Warn().Str("case", c.Name).Strs("markers", c.Markers).Msg("no device matches case, skipped")
			report.Add(Outcome{Case: c.Name, Skipped: true, Remarks: "no matching devices"})
			continue
		}
		for _, dev := range devs {
			out, err := r.Fixture.Run(ctx, dev, c.Name, c.Body)
			if err != nil {
				return report, err
			}
			report.Add(out)
		}
	}
	return report, nil
}

// runWorker runs every case on the assigned device, skipping cases that do
// not declare the device's platform.
func (r *Runner) runWorker(ctx context.Context, cases []Case) (*Report, error) {
	dev, err := r.Session.AssignedDevice()
	if err != nil {
		return nil, err
	}
	platform := r.Session.Assigned.Platform
	report := &Report{}
	for _, c := range cases {
		if !c.HasMarker(platform) {
			log.Debug().Str("case", c.Name).Str("platform", platform).Msg("case does not target worker platform, skipped")
			report.Add(Outcome{Case: c.Name, Device: dev.Name, Skipped: true, Remarks: "platform " + platform + " not marked"})
			continue
		}
		out, err := r.Fixture.Run(ctx, dev, c.Name, c.Body)
		if err != nil {
			return report, err
		}
		report.Add(out)
	}
	return report, nil
}

// runController computes the backlog once, claims one device per worker,
// then starts all workers. A failing worker does not stop its siblings.
func (r *Runner) runController(ctx context.Context) (*Report, error) {
	if r.Launcher == nil {
		return nil, errors.New("devicepool: parallel run needs a worker launcher")
	}
	backlog := NewBacklog(r.Session.ReadAllDevices(r.Session.Markers))
	assignments, err := AssignWorkers(backlog, r.Session.Workers)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		report = &Report{}
		g      errgroup.Group
	)
	for _, a := range assignments {
		a := a
		in := NewWorkerInput(a.Device)
		log.Info().Int("worker", a.Worker).Str("device", in.Device).Str("platform", in.Platform).Msg("starting worker")
		g.Go(func() error {
			rep, err := r.Launcher.Launch(ctx, a, in)
			mu.Lock()
			defer mu.Unlock()
			report.Merge(rep)
			if err != nil {
				report.Add(Outcome{
					Case:   "worker",
					Device: a.Device.Name,
					Status: driver.StatusError,
					Err:    err,
					Error:  err.Error(),
				})
				return errors.Wrapf(err, "worker %d on %s", a.Worker, in.Device)
			}
			return nil
		})
	}
	return report, g.Wait()
}
