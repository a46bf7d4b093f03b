package main

import (
	"os"
	"strings"

	"github.com/httprunner/DevicePool/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "devicepool",
	Short: "Run UI test cases against a pool of local and cloud devices",
	Long: `devicepool builds the pool of usable devices for a hub or the Perfecto farm,
binds them to test cases (one worker process per device with -n) and records
every test run in the ledger.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(rootLogLevel)))
		if err != nil {
			return errors.Wrapf(err, "invalid --log-level %q", rootLogLevel)
		}
		zerolog.SetGlobalLevel(level)
		return nil
	},
}

var (
	rootHub      int
	rootTestSet  int
	rootSetupEnv bool
	rootLocation string
	rootMarkers  string
	rootDBPath   string
	rootLogLevel string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	flags := rootCmd.PersistentFlags()
	flags.IntVar(&rootHub, "hub", 0, "Hub id for the tests")
	flags.IntVar(&rootTestSet, "testset", 0, "Test set id for the test run")
	flags.BoolVar(&rootSetupEnv, "setup-env", false, "Setup mode: fresh app state and device preparation")
	flags.StringVar(&rootLocation, "location", "local", "Device location, either local or perfecto")
	flags.StringVarP(&rootMarkers, "markers", "m", "", "Comma separated active markers, e.g. ios,android,perfecto")
	flags.StringVar(&rootDBPath, "db", "", "SQLite path for inventory and ledger (default from DEVICEPOOL_DB_PATH)")
	flags.StringVar(&rootLogLevel, "log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newRunCmd(),
		newWorkerCmd(),
		newDevicesCmd(),
		newInventoryCmd(),
	)
	_ = config.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("devicepool command failed")
	}
}
