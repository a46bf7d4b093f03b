package devicepool

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/httprunner/DevicePool/internal/config"
	"github.com/pkg/errors"
)

const defaultWorkerGrace = 5 * time.Second

// ExecLauncher starts workers as child processes of the same binary. The
// assignment travels in $DEVICEPOOL_WORKER_INPUT and the worker prints its
// report as the last line of stdout.
type ExecLauncher struct {
	// Path defaults to the running executable.
	Path string
	Args []string
	// Env is appended to the controller's environment.
	Env    []string
	Stderr io.Writer
	// Grace is the time between SIGTERM and SIGKILL on cancellation.
	Grace time.Duration
}

func (l *ExecLauncher) Launch(ctx context.Context, a Assignment, in WorkerInput) (*Report, error) {
	encoded, err := EncodeWorkerInput(in)
	if err != nil {
		return nil, err
	}
	path := l.Path
	if path == "" {
		if path, err = os.Executable(); err != nil {
			return nil, errors.Wrap(err, "devicepool: locate executable for worker")
		}
	}
	grace := l.Grace
	if grace <= 0 {
		grace = defaultWorkerGrace
	}

	cmd := exec.CommandContext(ctx, path, l.Args...)
	cmd.Env = append(append(os.Environ(), l.Env...), config.EnvWorkerInput+"="+encoded)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	configureWorkerProcess(cmd)
	cmd.Cancel = func() error {
		terminateWorkerProcess(cmd, grace)
		return nil
	}

	runErr := cmd.Run()
	report, decodeErr := decodeWorkerReport(stdout.Bytes())
	if decodeErr != nil {
		if runErr != nil {
			return nil, errors.Wrapf(runErr, "devicepool: worker %d exited without report", a.Worker)
		}
		return nil, decodeErr
	}
	// a non-zero exit with a report only means tests failed
	return report, nil
}

// WriteWorkerReport prints report for the controller.
func WriteWorkerReport(w io.Writer, report *Report) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "devicepool: encode worker report")
	}
	_, err = w.Write(append(raw, '\n'))
	return err
}

func decodeWorkerReport(out []byte) (*Report, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	last := bytes.TrimSpace(lines[len(lines)-1])
	if len(last) == 0 {
		return nil, errors.New("devicepool: worker printed no report")
	}
	var report Report
	if err := json.Unmarshal(last, &report); err != nil {
		return nil, errors.Wrap(err, "devicepool: decode worker report")
	}
	return &report, nil
}
