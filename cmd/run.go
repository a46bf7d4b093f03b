package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	devicepool "github.com/httprunner/DevicePool"
	"github.com/httprunner/DevicePool/cases"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var flagWorkers int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the registered test cases against the device pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session, store, err := openSession(ctx, cmd, devicepool.RoleController, nil)
			if err != nil {
				return err
			}
			defer store.Close()
			session.Workers = flagWorkers

			runner := &devicepool.Runner{Session: session}
			if flagWorkers > 0 {
				runner.Launcher = &devicepool.ExecLauncher{Args: workerArgs(cmd)}
			} else {
				fixture, cleanup, err := newFixture(session, store)
				if err != nil {
					return err
				}
				defer cleanup()
				runner.Fixture = fixture
			}

			log.Info().
				Int("hub", session.Hub).
				Int("test_set", session.TestSet).
				Str("location", string(session.Location)).
				Strs("markers", session.Markers).
				Int("workers", flagWorkers).
				Msg("starting test run")
			report, err := runner.Run(ctx, cases.All())
			logReport(report)
			if err != nil {
				return err
			}
			return report.Err()
		},
	}
	cmd.Flags().IntVarP(&flagWorkers, "workers", "n", 0, "Number of worker processes, one device each (0 runs in process)")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run test cases on the device handed over by a controller",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := devicepool.WorkerInputFromEnv()
			if err != nil {
				return err
			}
			log.Logger = log.With().Str("worker", in.Device).Logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			session, store, err := openSession(ctx, cmd, devicepool.RoleWorker, &in)
			if err != nil {
				return err
			}
			defer store.Close()
			fixture, cleanup, err := newFixture(session, store)
			if err != nil {
				return err
			}
			defer cleanup()

			runner := &devicepool.Runner{Session: session, Fixture: fixture}
			report, err := runner.Run(ctx, cases.All())
			if err != nil {
				return err
			}
			if err := devicepool.WriteWorkerReport(os.Stdout, report); err != nil {
				return err
			}
			return report.Err()
		},
	}
}

// workerArgs forwards the session flags to the worker command.
func workerArgs(cmd *cobra.Command) []string {
	args := []string{
		"worker",
		"--hub", strconv.Itoa(rootHub),
		"--testset", strconv.Itoa(rootTestSet),
		"--setup-env=" + strconv.FormatBool(rootSetupEnv),
		"--location", rootLocation,
		"--log-level", rootLogLevel,
	}
	if rootDBPath != "" {
		args = append(args, "--db", rootDBPath)
	}
	if cmd.Flags().Changed("markers") {
		args = append(args, "--markers", rootMarkers)
	}
	return args
}

func logReport(report *devicepool.Report) {
	if report == nil {
		return
	}
	for _, res := range report.Results {
		event := log.Info()
		if res.Failed() {
			event = log.Error()
		}
		event.Str("case", res.Case).
			Str("device", res.Device).
			Str("status", res.Status).
			Str("remarks", res.Remarks).
			Bool("skipped", res.Skipped).
			Str("error", res.Error).
			Msg("test result")
	}
	log.Info().
		Int("passed", report.Passed).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Msg("test run finished")
}
