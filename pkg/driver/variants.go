package driver

import (
	"context"
	"strings"

	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/rs/zerolog/log"
)

// LocalIOS drives iOS handsets and Macs attached to a hub node.
type LocalIOS struct {
	*base
}

func newLocalIOS(dev *device.Device, opts Options) *LocalIOS {
	return &LocalIOS{base: newBase(KindLocalIOS, dev, opts, localEndpoint(dev, opts))}
}

func (d *LocalIOS) Start(ctx context.Context) error {
	caps := map[string]any{
		"platformName":          "iOS",
		"appium:automationName": "XCUITest",
		"appium:deviceName":     d.dev.Name,
		"appium:noReset":        !d.opts.SetupMode,
	}
	if d.dev.Platform == device.PlatformMac {
		caps["platformName"] = "Mac"
		caps["appium:automationName"] = "Mac2"
	}
	return d.start(ctx, caps)
}

// LocalAndroid drives Android handsets attached to a hub node. adb is used
// for device facts and, in setup mode, to prepare the handset.
type LocalAndroid struct {
	*base
	adb ADB
}

func newLocalAndroid(dev *device.Device, opts Options) *LocalAndroid {
	adb := opts.ADB
	if adb == nil {
		adb = newGADBShell()
	}
	return &LocalAndroid{
		base: newBase(KindLocalAndroid, dev, opts, localEndpoint(dev, opts)),
		adb:  adb,
	}
}

// setupShellCommands disable animations so UI waits are deterministic.
var setupShellCommands = [][]string{
	{"settings", "put", "global", "window_animation_scale", "0"},
	{"settings", "put", "global", "transition_animation_scale", "0"},
	{"settings", "put", "global", "animator_duration_scale", "0"},
}

func (d *LocalAndroid) Start(ctx context.Context) error {
	caps := map[string]any{
		"platformName":          "Android",
		"appium:automationName": "UiAutomator2",
		"appium:deviceName":     d.dev.Name,
		"appium:udid":           d.dev.Name,
		"appium:noReset":        !d.opts.SetupMode,
	}
	if version := d.osVersion(); version != "" {
		caps["appium:platformVersion"] = version
	}
	if d.opts.SetupMode {
		d.prepare()
	}
	return d.start(ctx, caps)
}

func (d *LocalAndroid) osVersion() string {
	out, err := d.adb.Shell(d.dev.Name, "getprop", "ro.build.version.release")
	if err != nil {
		log.Debug().Err(err).Str("device", d.dev.Name).Msg("adb os version unavailable")
		return ""
	}
	return strings.TrimSpace(out)
}

func (d *LocalAndroid) prepare() {
	for _, args := range setupShellCommands {
		if _, err := d.adb.Shell(d.dev.Name, args...); err != nil {
			log.Warn().Err(err).Str("device", d.dev.Name).Strs("cmd", args).Msg("adb setup command failed")
			return
		}
	}
	log.Info().Str("device", d.dev.Name).Msg("android device prepared for setup mode")
}

// LocalWeb drives a browser on a hub node.
type LocalWeb struct {
	*base
}

func newLocalWeb(dev *device.Device, opts Options) *LocalWeb {
	return &LocalWeb{base: newBase(KindLocalWeb, dev, opts, localEndpoint(dev, opts))}
}

func (d *LocalWeb) Start(ctx context.Context) error {
	caps := map[string]any{
		"browserName": d.opts.Browser,
	}
	if d.opts.SetupMode {
		caps["acceptInsecureCerts"] = true
	}
	return d.start(ctx, caps)
}

// Cloud drives a handset allocated by the Perfecto farm.
type Cloud struct {
	*base
}

func newCloud(dev *device.Device, opts Options) *Cloud {
	return &Cloud{base: newBase(KindCloud, dev, opts, opts.CloudURL+cloudRemotePath)}
}

func (d *Cloud) Start(ctx context.Context) error {
	caps := map[string]any{
		"platformName":  cloudPlatformName(d.dev.Platform),
		"deviceName":    cloudDeviceID(d.dev.Name),
		"securityToken": d.opts.CloudToken,
	}
	return d.start(ctx, caps)
}

func cloudPlatformName(p device.Platform) string {
	switch p {
	case device.PlatformIOS:
		return "iOS"
	case device.PlatformAndroid:
		return "Android"
	case device.PlatformMac:
		return "Mac"
	default:
		return string(p)
	}
}

// cloudDeviceID recovers the farm device id from a model_deviceId name.
func cloudDeviceID(name string) string {
	if i := strings.LastIndex(name, "_"); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return name
}
