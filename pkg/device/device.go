// Package device defines the test endpoints a pool hands out.
package device

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Platform is the operating system family a device exposes to tests.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
	PlatformMac     Platform = "mac"
)

// Location tells where a device lives: on a hub node or in a device farm.
type Location string

const (
	LocationLocal Location = "local"
	LocationCloud Location = "cloud"
)

// Type distinguishes handsets from everything else (browsers, desktops).
type Type string

const (
	TypeSmartphone Type = "smartphone"
	TypeOther      Type = "other"
)

// CloudMarker selects cloud-located devices regardless of their platform.
const CloudMarker = "perfecto"

// PlatformMarkers lists the markers that map directly onto Device.Platform.
var PlatformMarkers = []string{
	string(PlatformWeb),
	string(PlatformAndroid),
	string(PlatformIOS),
	string(PlatformMac),
}

// ParsePlatform normalizes a platform string. Unknown values are kept
// lowercased so the driver factory can reject them explicitly.
func ParsePlatform(raw string) Platform {
	return Platform(strings.ToLower(strings.TrimSpace(raw)))
}

// ParseLocation accepts "local", "cloud" and the farm alias "perfecto".
func ParseLocation(raw string) (Location, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(LocationLocal):
		return LocationLocal, nil
	case string(LocationCloud), CloudMarker:
		return LocationCloud, nil
	default:
		return "", fmt.Errorf("unknown device location %q", raw)
	}
}

// ParseType normalizes a device type, defaulting unknown values to "other".
func ParseType(raw string) Type {
	if strings.EqualFold(strings.TrimSpace(raw), string(TypeSmartphone)) {
		return TypeSmartphone
	}
	return TypeOther
}

// Device is one usable test endpoint.
//
// Host and Port are only meaningful for local devices; they come from the
// hub node that registered the device.
type Device struct {
	ID       int64
	Name     string
	Platform Platform
	Type     Type
	Location Location

	Hub  int
	Host string
	Port int
}

// Key returns the case-folded name used to index devices in a pool.
func (d *Device) Key() string {
	if d == nil {
		return ""
	}
	return Key(d.Name)
}

// Key case-folds a device name.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IsLocal reports whether the device is reached directly on a hub network.
func (d *Device) IsLocal() bool {
	return d != nil && d.Location == LocationLocal
}

// IsCloud reports whether the device is allocated by a device farm.
func (d *Device) IsCloud() bool {
	return d != nil && d.Location == LocationCloud
}

// Addr returns host:port for local devices.
func (d *Device) Addr() string {
	if d == nil || d.Host == "" {
		return ""
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func (d *Device) String() string {
	if d == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s/%s/%s)", d.Name, d.Platform, d.Type, d.Location)
}
