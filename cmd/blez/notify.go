package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify <device-address> <uuid>",
	Short: "Stream characteristic notifications",
	Long: `Enables notifications on a characteristic and prints every value the
device sends, one hex line per notification, until interrupted.

Examples:
  # Stream the UART TX characteristic until Ctrl+C
  blez notify AA:BB:CC:DD:EE:FF 6e400003-b5a3-f393-e0a9-e50e24dcca9e

  # Stop after 10 notifications or 30 seconds, whichever comes first
  blez notify AA:BB:CC:DD:EE:FF 6e400003-b5a3-f393-e0a9-e50e24dcca9e --count 10 --duration 30s`,
	Args: cobra.ExactArgs(2),
	RunE: runNotify,
}

var (
	notifyDuration time.Duration
	notifyCount    int
)

func init() {
	notifyCmd.Flags().DurationVarP(&notifyDuration, "duration", "d", 0, "Stop after this long (0 for indefinite)")
	notifyCmd.Flags().IntVarP(&notifyCount, "count", "n", 0, "Stop after this many notifications (0 for unlimited)")
}

func runNotify(cmd *cobra.Command, args []string) error {
	if notifyCount < 0 {
		return fmt.Errorf("count must not be negative")
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dev, err := s.device(ctx, args[0])
	if err != nil {
		return err
	}
	ch, err := s.resolveChar(ctx, dev, args[1])
	if err != nil {
		return err
	}

	// handler runs on the dispatcher goroutine; printing happens here
	values := make(chan []byte, s.cfg.SignalBuffer)
	err = s.ble.RegisterCharacteristicReadEvent(ctx, dev, ch.UUID, func(b []byte) {
		select {
		case values <- b:
		default:
			s.logger.WithField("uuid", ch.UUID).Warn("output is behind, dropping notification")
		}
	})
	if err != nil {
		return err
	}

	if notifyDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, notifyDuration)
		defer cancel()
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Listening on %s. Press Ctrl+C to stop...\n", ch.Path)
	for received := 0; notifyCount == 0 || received < notifyCount; received++ {
		select {
		case <-ctx.Done():
			return nil
		case b := <-values:
			if err := outputData(cmd, b, true); err != nil {
				return err
			}
		}
	}
	return nil
}
