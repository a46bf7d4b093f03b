package devicepool

import (
	"strings"

	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/rs/zerolog/log"
)

// ReadAllDevices returns the pooled devices matching filters.
//
// A nil filters slice returns the whole pool. Otherwise a local device is
// selected when its platform tag is requested, and every cloud device is
// selected when the cloud marker is requested. When the session carries
// active markers, a tag only counts if it is active as well. Results are
// ordered by name.
func (s *SessionContext) ReadAllDevices(filters []string) []*device.Device {
	all := s.Devices()
	if filters == nil {
		return all
	}
	wanted := func(tag string) bool {
		if !containsFold(filters, tag) {
			return false
		}
		return len(s.Markers) == 0 || containsFold(s.Markers, tag)
	}

	platforms := make(map[device.Platform]struct{}, len(device.PlatformMarkers))
	for _, tag := range device.PlatformMarkers {
		if wanted(tag) {
			platforms[device.Platform(tag)] = struct{}{}
		}
	}
	cloud := wanted(device.CloudMarker)

	out := make([]*device.Device, 0, len(all))
	for _, dev := range all {
		switch {
		case dev.IsLocal():
			if _, ok := platforms[dev.Platform]; ok {
				out = append(out, dev)
			}
		case dev.IsCloud():
			if cloud {
				out = append(out, dev)
			}
		}
	}
	log.Debug().Strs("filters", filters).Int("pool", len(all)).Int("selected", len(out)).Msg("devices filtered")
	return out
}

func containsFold(list []string, tag string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), tag) {
			return true
		}
	}
	return false
}
