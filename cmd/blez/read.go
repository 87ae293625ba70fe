package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <device-address> <uuid>",
	Short: "Read a characteristic value",
	Long: `Reads the current value of a characteristic.

Examples:
  # Read the Service Changed characteristic, printed as hex
  blez read AA:BB:CC:DD:EE:FF 2a05 --hex

  # Raw bytes to stdout
  blez read AA:BB:CC:DD:EE:FF 6e400003-b5a3-f393-e0a9-e50e24dcca9e > value.bin`,
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

var readHex bool

func init() {
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Output as hex string (e.g., 'ff01'); raw bytes by default")
}

func runRead(cmd *cobra.Command, args []string) error {
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
	ch, err := s.resolveChar(ctx, dev, args[1])
	if err != nil {
		return err
	}

	data, err := dev.ReadFromCharacteristic(ctx, ch.UUID)
	if err != nil {
		return err
	}
	return outputData(cmd, data, readHex)
}

// outputData writes data as a hex line or as raw bytes
func outputData(cmd *cobra.Command, data []byte, asHex bool) error {
	out := cmd.OutOrStdout()
	if asHex {
		_, err := fmt.Fprintln(out, hex.EncodeToString(data))
		return err
	}
	_, err := out.Write(data)
	return err
}
