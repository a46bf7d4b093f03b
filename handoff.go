package devicepool

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/httprunner/DevicePool/internal/config"
	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/pkg/errors"
)

// WorkerInput is the controller's message to one worker: the device it owns.
type WorkerInput struct {
	Device   string `json:"device"`
	Platform string `json:"platform"`
}

// NewWorkerInput builds the handoff for dev.
func NewWorkerInput(dev *device.Device) WorkerInput {
	return WorkerInput{
		Device:   dev.Key(),
		Platform: strings.ToLower(string(dev.Platform)),
	}
}

// EncodeWorkerInput renders in for the worker's environment.
func EncodeWorkerInput(in WorkerInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return "", errors.Wrap(err, "devicepool: encode worker input")
	}
	return string(raw), nil
}

// DecodeWorkerInput parses a handoff produced by EncodeWorkerInput.
func DecodeWorkerInput(raw string) (WorkerInput, error) {
	var in WorkerInput
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return WorkerInput{}, errors.Wrap(err, "devicepool: decode worker input")
	}
	in.Device = device.Key(in.Device)
	in.Platform = strings.ToLower(strings.TrimSpace(in.Platform))
	if err := in.validate(); err != nil {
		return WorkerInput{}, err
	}
	return in, nil
}

// WorkerInputFromEnv reads the handoff the controller placed in the environment.
func WorkerInputFromEnv() (WorkerInput, error) {
	raw := strings.TrimSpace(os.Getenv(config.EnvWorkerInput))
	if raw == "" {
		return WorkerInput{}, errors.Errorf("devicepool: $%s is not set; workers are started by the controller", config.EnvWorkerInput)
	}
	return DecodeWorkerInput(raw)
}

func (in WorkerInput) validate() error {
	if in.Device == "" || in.Platform == "" {
		return errors.Errorf("devicepool: worker input needs device and platform, got %+v", in)
	}
	return nil
}

// UnknownAssignedDeviceError means a worker was handed a device its own pool
// does not contain, e.g. the node dropped off between the two pool builds.
type UnknownAssignedDeviceError struct {
	Device string
}

func (e *UnknownAssignedDeviceError) Error() string {
	return fmt.Sprintf("devicepool: assigned device %s is not in this worker's pool", e.Device)
}

// AssignedDevice resolves the worker's handed-off device in its pool.
func (s *SessionContext) AssignedDevice() (*device.Device, error) {
	if s.Role != RoleWorker || s.Assigned == nil {
		return nil, errors.New("devicepool: only workers have an assigned device")
	}
	dev, ok := s.Lookup(s.Assigned.Device)
	if !ok {
		return nil, &UnknownAssignedDeviceError{Device: s.Assigned.Device}
	}
	return dev, nil
}
