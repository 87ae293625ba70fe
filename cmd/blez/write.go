package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var writeCmd = &cobra.Command{
	Use:   "write <device-address> <uuid> <data>",
	Short: "Write a value to a characteristic",
	Long: `Writes data to a characteristic in a single WriteValue call.

Examples:
  # Firmata REPORT_DIGITAL for port 0 (hex with separators is accepted)
  blez write AA:BB:CC:DD:EE:FF 6e400002-b5a3-f393-e0a9-e50e24dcca9e "91 20 00" --hex

  # Plain text
  blez write AA:BB:CC:DD:EE:FF 6e400002-b5a3-f393-e0a9-e50e24dcca9e "hello"`,
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

var writeHex bool

func init() {
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Treat data as hex (spaces, ':' and '-' separators allowed)")
}

func runWrite(cmd *cobra.Command, args []string) error {
	data, err := parseWriteData(args[2])
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("nothing to write")
	}

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

	if err := dev.WriteToCharacteristic(ctx, ch.UUID, data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d byte(s) to %s\n", len(data), ch.Path)
	return nil
}

func parseWriteData(dataStr string) ([]byte, error) {
	if !writeHex {
		return []byte(dataStr), nil
	}

	// Remove spaces and common separators
	cleaned := strings.ReplaceAll(dataStr, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ":", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.ReplaceAll(cleaned, "0x", "")

	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}
