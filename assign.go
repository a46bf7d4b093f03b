package devicepool

import (
	"fmt"

	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/pkg/errors"
)

// ErrBacklogEmpty is returned when a pop finds no unclaimed device.
var ErrBacklogEmpty = errors.New("devicepool: no unclaimed device left in backlog")

// OverSubscribedError means more workers were requested than devices are
// usable. The run must not start.
type OverSubscribedError struct {
	Requested int
	Available int
}

func (e *OverSubscribedError) Error() string {
	return fmt.Sprintf("devicepool: %d workers requested but only %d usable devices", e.Requested, e.Available)
}

// Backlog is the ordered list of unclaimed devices. It is owned by the
// controller alone, so claims need no locking across processes.
type Backlog struct {
	devices []*device.Device
}

// NewBacklog copies devs into a backlog.
func NewBacklog(devs []*device.Device) *Backlog {
	return &Backlog{devices: append([]*device.Device(nil), devs...)}
}

func (b *Backlog) Len() int {
	return len(b.devices)
}

// Pop claims the last device.
func (b *Backlog) Pop() (*device.Device, error) {
	n := len(b.devices)
	if n == 0 {
		return nil, ErrBacklogEmpty
	}
	dev := b.devices[n-1]
	b.devices[n-1] = nil
	b.devices = b.devices[:n-1]
	return dev, nil
}

// Assignment binds worker Worker (1-based) to Device for its lifetime.
type Assignment struct {
	Worker int
	Device *device.Device
}

// AssignWorkers pops one device per worker in spawn order. It fails before
// claiming anything when the backlog cannot serve every worker.
func AssignWorkers(b *Backlog, workers int) ([]Assignment, error) {
	if workers <= 0 {
		return nil, errors.Errorf("devicepool: invalid worker count %d", workers)
	}
	if b == nil || workers > b.Len() {
		available := 0
		if b != nil {
			available = b.Len()
		}
		return nil, &OverSubscribedError{Requested: workers, Available: available}
	}
	out := make([]Assignment, 0, workers)
	for i := 1; i <= workers; i++ {
		dev, err := b.Pop()
		if err != nil {
			return nil, err
		}
		out = append(out, Assignment{Worker: i, Device: dev})
	}
	return out, nil
}
