package devicepool

import (
	"testing"

	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/pkg/errors"
)

func TestAssignWorkersPopsFromEnd(t *testing.T) {
	backlog := NewBacklog([]*device.Device{{Name: "dev1"}, {Name: "dev2"}})
	assignments, err := AssignWorkers(backlog, 2)
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if assignments[0].Worker != 1 || assignments[0].Device.Name != "dev2" {
		t.Fatalf("worker1 should get dev2, got %+v", assignments[0])
	}
	if assignments[1].Worker != 2 || assignments[1].Device.Name != "dev1" {
		t.Fatalf("worker2 should get dev1, got %+v", assignments[1])
	}
	if backlog.Len() != 0 {
		t.Fatalf("backlog should be drained, %d left", backlog.Len())
	}
}

func TestAssignWorkersDistinctDevices(t *testing.T) {
	devs := make([]*device.Device, 0, 6)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		devs = append(devs, &device.Device{Name: name})
	}
	for workers := 1; workers <= len(devs); workers++ {
		assignments, err := AssignWorkers(NewBacklog(devs), workers)
		if err != nil {
			t.Fatalf("%d workers: %v", workers, err)
		}
		seen := map[string]bool{}
		for _, a := range assignments {
			if seen[a.Device.Name] {
				t.Fatalf("%d workers: device %s assigned twice", workers, a.Device.Name)
			}
			seen[a.Device.Name] = true
		}
		if len(assignments) != workers {
			t.Fatalf("expected %d assignments, got %d", workers, len(assignments))
		}
	}
}

func TestAssignWorkersOverSubscribed(t *testing.T) {
	backlog := NewBacklog([]*device.Device{{Name: "dev1"}})
	_, err := AssignWorkers(backlog, 2)
	var over *OverSubscribedError
	if !errors.As(err, &over) {
		t.Fatalf("expected OverSubscribedError, got %v", err)
	}
	if over.Requested != 2 || over.Available != 1 {
		t.Fatalf("unexpected error fields %+v", over)
	}
	if backlog.Len() != 1 {
		t.Fatal("a failed assignment must not claim any device")
	}
}

func TestBacklogPopEmpty(t *testing.T) {
	if _, err := NewBacklog(nil).Pop(); !errors.Is(err, ErrBacklogEmpty) {
		t.Fatalf("expected ErrBacklogEmpty, got %v", err)
	}
	if _, err := AssignWorkers(NewBacklog(nil), 0); err == nil {
		t.Fatal("expected error for zero workers")
	}
}
