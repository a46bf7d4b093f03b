package devicepool

import (
	"testing"

	"github.com/httprunner/DevicePool/internal/config"
	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/pkg/errors"
)

func TestWorkerInputFromEnv(t *testing.T) {
	encoded, err := EncodeWorkerInput(NewWorkerInput(&device.Device{Name: "Pixel-7", Platform: device.PlatformAndroid}))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if encoded != `{"device":"pixel-7","platform":"android"}` {
		t.Fatalf("unexpected handoff %s", encoded)
	}
	t.Setenv(config.EnvWorkerInput, encoded)
	in, err := WorkerInputFromEnv()
	if err != nil {
		t.Fatalf("read handoff failed: %v", err)
	}
	if in.Device != "pixel-7" || in.Platform != "android" {
		t.Fatalf("unexpected input %+v", in)
	}
}

func TestDecodeWorkerInputRejectsIncomplete(t *testing.T) {
	for _, raw := range []string{`{}`, `{"device":"x"}`, `not json`} {
		if _, err := DecodeWorkerInput(raw); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestAssignedDeviceUnknown(t *testing.T) {
	session := newTestSession(RoleWorker, nil, &device.Device{Name: "pixel-7"})
	session.Assigned = &WorkerInput{Device: "pixel-8", Platform: "android"}
	_, err := session.AssignedDevice()
	var unknown *UnknownAssignedDeviceError
	if !errors.As(err, &unknown) || unknown.Device != "pixel-8" {
		t.Fatalf("expected UnknownAssignedDeviceError, got %v", err)
	}

	session.Assigned = &WorkerInput{Device: "pixel-7", Platform: "android"}
	dev, err := session.AssignedDevice()
	if err != nil || dev.Name != "pixel-7" {
		t.Fatalf("expected pixel-7, got %v %v", dev, err)
	}
}
