package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/blez/internal/bledb"
	"github.com/srg/blez/internal/bluez"
	"github.com/srg/blez/internal/device"
)

var servicesCmd = &cobra.Command{
	Use:   "services <device-address>",
	Short: "List GATT services and characteristics",
	Long: `Connects to the device, pairing when needed, and prints its GATT tree.

Unresolved UUIDs are shown as "unknown" and reported as a warning.`,
	Args: cobra.ExactArgs(1),
	RunE: runServices,
}

func runServices(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	dev, err := s.device(ctx, args[0])
	if err != nil {
		return err
	}

	services, err := dev.GetServices(ctx)
	partial := errors.Is(err, device.ErrPartialDiscovery)
	if err != nil && !partial {
		return err
	}

	out := cmd.OutOrStdout()
	printHeader(out, "%s (%s)", dev.Name(), dev.Address())
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tCHARACTERISTIC\tNAME\tPATH")
	for _, svc := range services {
		fmt.Fprintf(w, "%s\t\t%s\t%s\n", bluez.ShortenUUID(svc.UUID), displayName(bledb.LookupService(svc.UUID)), svc.Path)
		for _, ch := range svc.Characteristics {
			fmt.Fprintf(w, "\t%s\t%s\t%s\n", bluez.ShortenUUID(ch.UUID), displayName(bledb.LookupCharacteristic(ch.UUID)), ch.Path)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if partial {
		fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: %s\n", FormatUserError(err))
	}
	return nil
}

func displayName(name string) string {
	if name == "" {
		return "-"
	}
	return name
}
