package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blez",
	Short: "BlueZ D-Bus client for Bluetooth Low Energy peripherals",
	Long: `Talks to the BlueZ daemon over the system D-Bus to:

- Scan for nearby BLE devices
- Discover GATT services and characteristics
- Read from and write to characteristics
- Stream characteristic notifications
- Show pairing and connection state

Configuration is read from the file given by --config (YAML); flags override it.`,
	Version:           formatVersion(version),
	PersistentPreRunE: configureOutput,
}

var (
	configPath       string
	scanDurationFlag string
	noColor          bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("blez {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(servicesCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(propsCmd)
	rootCmd.AddCommand(bridgeCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&scanDurationFlag, "scan-duration", "", "Discovery time before resolving a device (e.g. 3s); overrides the configuration")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
