// Package cases holds the test cases compiled into the devicepool binary.
package cases

import (
	"context"

	devicepool "github.com/httprunner/DevicePool"
	"github.com/httprunner/DevicePool/pkg/driver"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// All returns every registered case.
func All() []devicepool.Case {
	return []devicepool.Case{
		{
			Name:    "test_id_component",
			Markers: []string{"ios", "android", "web", "perfecto"},
			Body:    idComponent,
		},
	}
}

// idComponent is the template for new cases: it runs against whatever
// device the runner binds and reports its own failures.
func idComponent(ctx context.Context, drv driver.Driver) error {
	dev := drv.Device()
	log.Debug().Str("case", "test_id_component").Str("device", dev.Name).Msg("starting case")
	if err := checkSession(drv); err != nil {
		log.Error().Err(err).Str("device", dev.Name).Msg("case failed")
		drv.ReportResults(err.Error())
		return err
	}
	return nil
}

func checkSession(drv driver.Driver) error {
	if drv.SessionID() == "" {
		return errors.Errorf("no automation session on %s", drv.Device().Name)
	}
	if drv.RunStatus() != driver.StatusRunning {
		return errors.Errorf("driver for %s is %s, want %s", drv.Device().Name, drv.RunStatus(), driver.StatusRunning)
	}
	return nil
}
