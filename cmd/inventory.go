package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/httprunner/DevicePool/internal/config"
	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/httprunner/DevicePool/pkg/inventory"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInventoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Register devices and hub nodes in the inventory",
	}
	cmd.AddCommand(newAddDeviceCmd(), newAddNodeCmd(), newListInventoryCmd())
	return cmd
}

func openInventory() (*inventory.Store, error) {
	return inventory.Open(firstNonEmpty(rootDBPath, config.String(config.EnvDBPath, "")))
}

func newAddDeviceCmd() *cobra.Command {
	var (
		flagName     string
		flagPlatform string
		flagType     string
		flagLocation string
	)
	cmd := &cobra.Command{
		Use:   "add-device",
		Short: "Create or update a device definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(flagName) == "" {
				return errors.New("--name is required")
			}
			platform := device.ParsePlatform(flagPlatform)
			if !isKnownPlatform(platform) {
				return errors.Errorf("unknown platform %q", flagPlatform)
			}
			location, err := device.ParseLocation(flagLocation)
			if err != nil {
				return err
			}
			store, err := openInventory()
			if err != nil {
				return err
			}
			defer store.Close()
			dev, err := store.UpsertDevice(cmd.Context(), device.Device{
				Name:     flagName,
				Platform: platform,
				Type:     device.ParseType(flagType),
				Location: location,
			})
			if err != nil {
				return err
			}
			log.Info().Int64("id", dev.ID).Str("device", dev.String()).Msg("device saved")
			return nil
		},
	}
	cmd.Flags().StringVar(&flagName, "name", "", "Unique device name")
	cmd.Flags().StringVar(&flagPlatform, "platform", "", "ios, android, web or mac")
	cmd.Flags().StringVar(&flagType, "type", string(device.TypeSmartphone), "smartphone or other")
	cmd.Flags().StringVar(&flagLocation, "location", string(device.LocationLocal), "local or cloud")
	return cmd
}

func newAddNodeCmd() *cobra.Command {
	var (
		flagIP     string
		flagPort   int
		flagDevice string
	)
	cmd := &cobra.Command{
		Use:   "add-node",
		Short: "Register a device endpoint on the hub given by --hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openInventory()
			if err != nil {
				return err
			}
			defer store.Close()
			if _, err := store.DeviceByName(cmd.Context(), flagDevice); err != nil {
				return errors.Wrap(err, "register the device with add-device first")
			}
			id, err := store.AddNode(cmd.Context(), inventory.Node{
				HubID:      rootHub,
				IP:         flagIP,
				Port:       flagPort,
				DeviceName: flagDevice,
			})
			if err != nil {
				return err
			}
			log.Info().Int64("id", id).Int("hub", rootHub).Str("device", flagDevice).
				Str("host", flagIP).Int("port", flagPort).Msg("node saved")
			return nil
		},
	}
	cmd.Flags().StringVar(&flagIP, "ip", "", "Node address")
	cmd.Flags().IntVar(&flagPort, "port", 4723, "Automation endpoint port")
	cmd.Flags().StringVar(&flagDevice, "device", "", "Device name served by the node")
	return cmd
}

func newListInventoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List devices and nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openInventory()
			if err != nil {
				return err
			}
			defer store.Close()
			devs, err := store.ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			nodes, err := store.ListNodes(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPLATFORM\tTYPE\tLOCATION")
			for _, dev := range devs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", dev.ID, dev.Name, dev.Platform, dev.Type, dev.Location)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "NODE\tHUB\tADDRESS\tDEVICE")
			for _, n := range nodes {
				fmt.Fprintf(w, "%d\t%d\t%s:%d\t%s\n", n.ID, n.HubID, n.IP, n.Port, n.DeviceName)
			}
			return w.Flush()
		},
	}
}

func isKnownPlatform(p device.Platform) bool {
	for _, tag := range device.PlatformMarkers {
		if string(p) == tag {
			return true
		}
	}
	return false
}
