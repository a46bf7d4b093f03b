package main

import (
	"context"

	devicepool "github.com/httprunner/DevicePool"
	"github.com/httprunner/DevicePool/internal/config"
	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/httprunner/DevicePool/pkg/driver"
	"github.com/httprunner/DevicePool/pkg/inventory"
	"github.com/httprunner/DevicePool/pkg/ledger"
	"github.com/httprunner/DevicePool/pkg/perfecto"
	"github.com/httprunner/DevicePool/pkg/probe"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// openSession opens the inventory and builds the pool for role.
func openSession(ctx context.Context, cmd *cobra.Command, role devicepool.Role, assigned *devicepool.WorkerInput) (*devicepool.SessionContext, *inventory.Store, error) {
	location, err := device.ParseLocation(rootLocation)
	if err != nil {
		return nil, nil, err
	}
	store, err := inventory.Open(firstNonEmpty(rootDBPath, config.String(config.EnvDBPath, "")))
	if err != nil {
		return nil, nil, err
	}

	session := devicepool.NewSession(role, devicepool.Options{
		Hub:       rootHub,
		TestSet:   rootTestSet,
		SetupMode: rootSetupEnv,
		Location:  location,
		Markers:   splitMarkers(rootMarkers, cmd.Flags().Changed("markers")),
	})
	session.Assigned = assigned

	var alloc devicepool.Allocator
	if location == device.LocationCloud {
		client, err := perfecto.NewClientFromEnv()
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		alloc = client
	}
	prober := probe.New(config.Duration(config.EnvProbeTimeout, probe.DefaultTimeout))
	if err := session.BuildPool(ctx, store, prober, alloc); err != nil {
		store.Close()
		return nil, nil, err
	}
	return session, store, nil
}

// newFixture wires the ledger (SQLite plus optional Feishu mirror) and the
// driver factory for in-process test execution.
func newFixture(session *devicepool.SessionContext, store *inventory.Store) (*devicepool.Fixture, func(), error) {
	sink, err := ledger.NewSQLiteSink(store.DB())
	if err != nil {
		return nil, nil, err
	}
	var mirrors []ledger.Sink
	feishuSink, err := ledger.NewFeishuSinkFromEnv()
	if err != nil {
		log.Warn().Err(err).Msg("feishu ledger mirror disabled")
	} else if feishuSink != nil {
		mirrors = append(mirrors, feishuSink)
	}
	manager, err := ledger.NewManager(sink, mirrors...)
	if err != nil {
		return nil, nil, err
	}
	fixture := &devicepool.Fixture{
		TestSet:       session.TestSet,
		NewDriver:     driver.New,
		Ledger:        manager,
		DriverOptions: driver.OptionsFromEnv(session.SetupMode, session.Hub),
	}
	cleanup := func() {
		if err := manager.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("close ledger failed")
		}
	}
	return fixture, cleanup, nil
}
