package driver

import (
	"strings"
	"sync"

	gadb "github.com/httprunner/httprunner/v5/pkg/gadb"
	"github.com/pkg/errors"
)

// ADB runs shell commands on an adb-attached Android device.
type ADB interface {
	Shell(serial string, args ...string) (string, error)
}

// gadbShell talks to the local adb server through gadb. The client is
// created on first use so non-Android runs never touch adb.
type gadbShell struct {
	once   sync.Once
	client gadb.Client
	err    error
}

func newGADBShell() *gadbShell {
	return &gadbShell{}
}

func (g *gadbShell) ensureClient() (gadb.Client, error) {
	g.once.Do(func() {
		g.client, g.err = gadb.NewClient()
		if g.err != nil {
			g.err = errors.Wrap(g.err, "init adb client")
		}
	})
	return g.client, g.err
}

func (g *gadbShell) Shell(serial string, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("adb: empty shell command")
	}
	client, err := g.ensureClient()
	if err != nil {
		return "", err
	}
	devs, err := client.DeviceList()
	if err != nil {
		return "", errors.Wrap(err, "list adb devices")
	}
	target := strings.TrimSpace(serial)
	for _, d := range devs {
		if d == nil || !strings.EqualFold(strings.TrimSpace(d.Serial()), target) {
			continue
		}
		state, err := d.State()
		if err != nil {
			return "", errors.Wrapf(err, "read adb state of %s", target)
		}
		if state != gadb.StateOnline {
			return "", errors.Errorf("adb device %s is %s", target, state)
		}
		return d.RunShellCommand(args[0], args[1:]...)
	}
	return "", errors.Errorf("adb device %s not found", target)
}
