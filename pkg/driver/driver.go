// Package driver builds the automation driver that fits a device.
//
// The variant set is closed: LocalIOS, LocalAndroid, LocalWeb and Cloud.
// Select is the single dispatch point; New constructs the chosen variant.
package driver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/httprunner/DevicePool/internal/config"
	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/pkg/errors"
)

// Kind names a driver variant.
type Kind string

const (
	KindLocalIOS     Kind = "local-ios"
	KindLocalAndroid Kind = "local-android"
	KindLocalWeb     Kind = "local-web"
	KindCloud        Kind = "cloud"
)

// Run statuses reported through RunStatus.
const (
	StatusCreated = "created"
	StatusRunning = "running"
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusError   = "error"
)

const (
	defaultRemotePath  = "/wd/hub"
	defaultBrowser     = "chrome"
	cloudRemotePath    = "/nexperience/perfectomobile/wd/hub"
	defaultHTTPTimeout = 5 * time.Minute
)

// Driver is the capability set every variant implements.
type Driver interface {
	Kind() Kind
	Device() *device.Device
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	ReportResults(message string)
	Deinitialize(ctx context.Context) error
	RunStatus() string
	Remarks() string
	SessionID() string
}

// Options carries the per-run settings shared by all variants.
type Options struct {
	SetupMode bool
	Hub       int

	// RemotePath is the automation endpoint path on local nodes.
	RemotePath string
	// Browser is requested by the web variant.
	Browser string

	CloudURL   string
	CloudToken string

	HTTPClient *http.Client
	// ADB is used by the Android variant; nil creates a gadb-backed helper lazily.
	ADB ADB
}

// OptionsFromEnv fills the endpoint settings from the environment.
func OptionsFromEnv(setupMode bool, hub int) Options {
	return Options{
		SetupMode:  setupMode,
		Hub:        hub,
		RemotePath: config.String(config.EnvRemotePath, defaultRemotePath),
		Browser:    config.String(config.EnvWebBrowser, defaultBrowser),
		CloudURL:   config.String(config.EnvPerfectoCloudURL, ""),
		CloudToken: config.String(config.EnvPerfectoToken, ""),
	}
}

// UnsupportedDeviceError means the inventory holds a device no variant can
// drive. It points at bad inventory data rather than a transient failure.
type UnsupportedDeviceError struct {
	Name     string
	Location device.Location
	Type     device.Type
	Platform device.Platform
}

func (e *UnsupportedDeviceError) Error() string {
	return fmt.Sprintf("driver: no variant for device %s (location=%s type=%s platform=%s)",
		e.Name, e.Location, e.Type, e.Platform)
}

// Select picks the variant for dev. Rules are evaluated in order:
// cloud first, then local handsets by platform, then local non-handsets.
func Select(dev *device.Device) (Kind, error) {
	if dev == nil {
		return "", errors.New("driver: device is nil")
	}
	switch {
	case dev.Location == device.LocationCloud:
		return KindCloud, nil
	case dev.Location == device.LocationLocal && dev.Type == device.TypeSmartphone &&
		(dev.Platform == device.PlatformIOS || dev.Platform == device.PlatformMac):
		return KindLocalIOS, nil
	case dev.Location == device.LocationLocal && dev.Type == device.TypeSmartphone &&
		dev.Platform == device.PlatformAndroid:
		return KindLocalAndroid, nil
	case dev.Location == device.LocationLocal && dev.Type != device.TypeSmartphone:
		return KindLocalWeb, nil
	}
	return "", &UnsupportedDeviceError{
		Name:     dev.Name,
		Location: dev.Location,
		Type:     dev.Type,
		Platform: dev.Platform,
	}
}

// New builds the driver variant for dev.
func New(dev *device.Device, opts Options) (Driver, error) {
	kind, err := Select(dev)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	switch kind {
	case KindCloud:
		if strings.TrimSpace(opts.CloudURL) == "" {
			return nil, errors.Errorf("driver: cloud device %s needs $%s", dev.Name, config.EnvPerfectoCloudURL)
		}
		return newCloud(dev, opts), nil
	case KindLocalIOS:
		return newLocalIOS(dev, opts), nil
	case KindLocalAndroid:
		return newLocalAndroid(dev, opts), nil
	case KindLocalWeb:
		return newLocalWeb(dev, opts), nil
	}
	return nil, errors.Errorf("driver: unhandled kind %s", kind)
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.RemotePath) == "" {
		o.RemotePath = defaultRemotePath
	}
	if !strings.HasPrefix(o.RemotePath, "/") {
		o.RemotePath = "/" + o.RemotePath
	}
	o.RemotePath = strings.TrimSuffix(o.RemotePath, "/")
	if strings.TrimSpace(o.Browser) == "" {
		o.Browser = defaultBrowser
	}
	o.CloudURL = strings.TrimSuffix(strings.TrimSpace(o.CloudURL), "/")
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return o
}

func localEndpoint(dev *device.Device, opts Options) string {
	return "http://" + dev.Addr() + opts.RemotePath
}
