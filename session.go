// Package devicepool discovers usable test devices, binds them to test
// invocations or worker processes, and records every run in the ledger.
package devicepool

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/httprunner/DevicePool/internal/config"
	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/httprunner/DevicePool/pkg/inventory"
	"github.com/httprunner/DevicePool/pkg/perfecto"
	"github.com/httprunner/DevicePool/pkg/probe"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const defaultProbeConcurrency = 8

// Role is decided once at process start.
type Role int

const (
	RoleController Role = iota
	RoleWorker
)

func (r Role) String() string {
	if r == RoleWorker {
		return "worker"
	}
	return "controller"
}

// Options are the per-session settings taken from the command line.
type Options struct {
	Hub       int
	TestSet   int
	SetupMode bool
	Location  device.Location
	// Markers are the active run markers. Nil means none were given.
	Markers []string
	// Workers > 0 selects the parallel execution model.
	Workers int

	// Allowlist restricts the pool to the named devices when non-empty.
	Allowlist        []string
	ProbeConcurrency int
}

// InventoryStore is the part of the inventory the pool build uses.
type InventoryStore interface {
	NodesForHub(ctx context.Context, hub int) ([]inventory.Node, error)
	DeleteNode(ctx context.Context, id int64) error
	DeviceByName(ctx context.Context, name string) (*device.Device, error)
	EnsureDevice(ctx context.Context, dev device.Device) (*device.Device, error)
}

// Allocator lists devices the cloud farm has allocated to this account.
type Allocator interface {
	ListAllocatedDevices(ctx context.Context) ([]perfecto.Handset, error)
}

// SessionContext is the state of one harness process: its role, its
// options and the device pool built for it.
type SessionContext struct {
	Options
	Role Role
	// Assigned is the controller's handoff; set only on workers.
	Assigned *WorkerInput

	mu      sync.RWMutex
	devices map[string]*device.Device
	built   bool
}

// NewSession returns an empty session; call BuildPool before use.
func NewSession(role Role, opts Options) *SessionContext {
	if opts.Location == "" {
		opts.Location = device.LocationLocal
	}
	if opts.ProbeConcurrency <= 0 {
		opts.ProbeConcurrency = config.Int(config.EnvProbeConcurrency, defaultProbeConcurrency)
	}
	if opts.Allowlist == nil {
		opts.Allowlist = parseDeviceAllowlist(config.String(config.EnvDeviceAllowlist, ""))
	}
	return &SessionContext{
		Options: opts,
		Role:    role,
		devices: make(map[string]*device.Device),
	}
}

// BuildPool fills the pool once. Cloud sessions take every allocated farm
// device; local sessions probe each node on the hub and evict the ones that
// do not answer from the inventory.
func (s *SessionContext) BuildPool(ctx context.Context, store InventoryStore, prober probe.Prober, alloc Allocator) error {
	s.mu.Lock()
	if s.built {
		s.mu.Unlock()
		return errors.New("devicepool: pool already built for this session")
	}
	s.built = true
	s.mu.Unlock()

	if store == nil {
		return errors.New("devicepool: inventory store is nil")
	}
	var err error
	if s.Location == device.LocationCloud {
		err = s.buildCloud(ctx, store, alloc)
	} else {
		err = s.buildLocal(ctx, store, prober)
	}
	if err != nil {
		return err
	}
	log.Info().
		Str("role", s.Role.String()).
		Str("location", string(s.Location)).
		Int("hub", s.Hub).
		Int("devices", s.Len()).
		Msg("device pool built")
	return nil
}

func (s *SessionContext) buildCloud(ctx context.Context, store InventoryStore, alloc Allocator) error {
	if alloc == nil {
		return errors.New("devicepool: cloud location requires an allocator")
	}
	handsets, err := alloc.ListAllocatedDevices(ctx)
	if err != nil {
		return errors.Wrap(err, "devicepool: list allocated cloud devices")
	}
	allow := buildDeviceAllowlistSet(s.Allowlist)
	for _, h := range handsets {
		name := h.DeviceName()
		if !allowed(allow, name) {
			log.Debug().Str("device", name).Msg("cloud device not in allowlist, skipped")
			continue
		}
		dev, err := store.EnsureDevice(ctx, device.Device{
			Name:     name,
			Platform: h.Platform(),
			Type:     device.TypeSmartphone,
			Location: device.LocationCloud,
		})
		if err != nil {
			return errors.Wrapf(err, "devicepool: materialize cloud device %s", name)
		}
		s.add(dev)
	}
	return nil
}

func (s *SessionContext) buildLocal(ctx context.Context, store InventoryStore, prober probe.Prober) error {
	if prober == nil {
		return errors.New("devicepool: local location requires a prober")
	}
	nodes, err := store.NodesForHub(ctx, s.Hub)
	if err != nil {
		return errors.Wrapf(err, "devicepool: list nodes for hub %d", s.Hub)
	}
	allow := buildDeviceAllowlistSet(s.Allowlist)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.ProbeConcurrency)
	for _, node := range nodes {
		node := node
		if !allowed(allow, node.DeviceName) {
			log.Debug().Str("device", node.DeviceName).Msg("node not in allowlist, skipped")
			continue
		}
		g.Go(func() error {
			return s.admitNode(gctx, store, prober, node)
		})
	}
	return g.Wait()
}

// admitNode adds the node's device when it answers. An unreachable node is
// treated as a stale registration: it is deleted, not retried.
func (s *SessionContext) admitNode(ctx context.Context, store InventoryStore, prober probe.Prober, node inventory.Node) error {
	logger := log.With().
		Str("device", node.DeviceName).
		Str("host", node.IP).
		Int("port", node.Port).
		Int("hub", node.HubID).
		Logger()
	if !prober.Reachable(ctx, node.IP, node.Port) {
		// a cancelled build says nothing about the node
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := store.DeleteNode(ctx, node.ID); err != nil {
			logger.Error().Err(err).Msg("node inactive, remove failed")
			return nil
		}
		logger.Info().Msg("node inactive, removed")
		return nil
	}
	dev, err := store.DeviceByName(ctx, node.DeviceName)
	if err != nil {
		return errors.Wrapf(err, "devicepool: node %d at %s:%d", node.ID, node.IP, node.Port)
	}
	dev.Hub = node.HubID
	dev.Host = node.IP
	dev.Port = node.Port
	s.add(dev)
	logger.Info().Msg("node found")
	return nil
}

func (s *SessionContext) add(dev *device.Device) {
	s.mu.Lock()
	s.devices[dev.Key()] = dev
	s.mu.Unlock()
}

// Len returns the pool size.
func (s *SessionContext) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// Devices returns every pooled device ordered by name.
func (s *SessionContext) Devices() []*device.Device {
	s.mu.RLock()
	out := make([]*device.Device, 0, len(s.devices))
	for _, dev := range s.devices {
		out = append(out, dev)
	}
	s.mu.RUnlock()
	sortByName(out)
	return out
}

// Lookup finds a pooled device by case-insensitive name.
func (s *SessionContext) Lookup(name string) (*device.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dev, ok := s.devices[device.Key(name)]
	return dev, ok
}

func sortByName(devs []*device.Device) {
	sort.Slice(devs, func(i, j int) bool {
		return devs[i].Key() < devs[j].Key()
	})
}

func allowed(allow map[string]struct{}, name string) bool {
	if len(allow) == 0 {
		return true
	}
	_, ok := allow[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
