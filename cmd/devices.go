package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	devicepool "github.com/httprunner/DevicePool"
	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Build the device pool and print the devices matching the active markers",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, store, err := openSession(cmd.Context(), cmd, devicepool.RoleController, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPLATFORM\tTYPE\tLOCATION\tADDRESS")
			for _, dev := range session.ReadAllDevices(session.Markers) {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", dev.Name, dev.Platform, dev.Type, dev.Location, dev.Addr())
			}
			return w.Flush()
		},
	}
}
