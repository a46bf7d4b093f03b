package inventory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "inventory.sqlite"))
	if err != nil {
		t.Fatalf("open inventory failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNodesForHubScopesByHub(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for _, n := range []Node{
		{HubID: 3, IP: "10.0.0.1", Port: 4723, DeviceName: "pixel-7"},
		{HubID: 3, IP: "10.0.0.2", Port: 4723, DeviceName: "iphone-14"},
		{HubID: 4, IP: "10.0.1.1", Port: 4444, DeviceName: "chrome-1"},
	} {
		if _, err := store.AddNode(ctx, n); err != nil {
			t.Fatalf("add node failed: %v", err)
		}
	}

	nodes, err := store.NodesForHub(ctx, 3)
	if err != nil {
		t.Fatalf("nodes for hub failed: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes on hub 3, got %d", len(nodes))
	}
	for _, n := range nodes {
		if n.HubID != 3 {
			t.Fatalf("node from wrong hub: %+v", n)
		}
	}

	if err := store.DeleteNode(ctx, nodes[0].ID); err != nil {
		t.Fatalf("delete node failed: %v", err)
	}
	nodes, err = store.NodesForHub(ctx, 3)
	if err != nil {
		t.Fatalf("nodes for hub failed: %v", err)
	}
	if len(nodes) != 1 || nodes[0].DeviceName != "iphone-14" {
		t.Fatalf("unexpected nodes after delete: %+v", nodes)
	}
}

func TestEnsureDeviceIsCaseInsensitiveAndImmutable(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first, err := store.EnsureDevice(ctx, device.Device{
		Name:     "iPhone12_abc123",
		Platform: device.PlatformIOS,
		Location: device.LocationCloud,
		Type:     device.TypeSmartphone,
	})
	if err != nil {
		t.Fatalf("ensure device failed: %v", err)
	}
	second, err := store.EnsureDevice(ctx, device.Device{
		Name:     "iphone12_ABC123",
		Platform: device.PlatformAndroid,
		Location: device.LocationLocal,
		Type:     device.TypeOther,
	})
	if err != nil {
		t.Fatalf("ensure device again failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same row, got %d and %d", first.ID, second.ID)
	}
	if second.Platform != device.PlatformIOS || second.Location != device.LocationCloud {
		t.Fatalf("existing device must not be rewritten: %+v", second)
	}
}

func TestDeviceByNameMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.DeviceByName(context.Background(), "ghost")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestUpsertDeviceOverwrites(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if _, err := store.UpsertDevice(ctx, device.Device{Name: "edge", Platform: device.PlatformWeb, Location: device.LocationLocal, Type: device.TypeOther}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	dev, err := store.UpsertDevice(ctx, device.Device{Name: "EDGE", Platform: device.PlatformMac, Location: device.LocationLocal, Type: device.TypeSmartphone})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if dev.Platform != device.PlatformMac || dev.Type != device.TypeSmartphone {
		t.Fatalf("upsert did not overwrite: %+v", dev)
	}
	all, err := store.ListDevices(ctx)
	if err != nil {
		t.Fatalf("list devices failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one device, got %d", len(all))
	}
}

func TestAddNodeValidates(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.AddNode(context.Background(), Node{HubID: 1, IP: "10.0.0.1", Port: 0, DeviceName: "x"}); err == nil {
		t.Fatal("expected invalid port error")
	}
	if _, err := store.AddNode(context.Background(), Node{HubID: 1, Port: 80, DeviceName: "x"}); err == nil {
		t.Fatal("expected missing ip error")
	}
}
