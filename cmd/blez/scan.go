package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/blez/pkg/ble"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Runs adapter discovery for the configured duration and lists every
device BlueZ knows about afterwards, in object path order.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var scanFormat string

func init() {
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	progress := NewCountdownProgressPrinter(s.status, "Scanning for BLE devices", "Scanning", s.cfg.ScanDuration)
	progress.Start()
	err = s.ble.Scan(ctx, 0)
	progress.Stop()
	if err != nil {
		return err
	}

	devices := s.ble.Devices()
	if scanFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}
	return displayDevicesTable(cmd, devices)
}

func displayDevicesTable(cmd *cobra.Command, devices []*ble.Device) error {
	out := cmd.OutOrStdout()
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	printHeader(out, "Devices (%d)", len(devices))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tPATH")
	for _, dev := range devices {
		name := dev.Name()
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, dev.Address(), dev.Path())
	}
	return w.Flush()
}
