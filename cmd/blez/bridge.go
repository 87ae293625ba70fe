package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blez/internal/ptyio"
)

const (
	nordicUARTRX = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	nordicUARTTX = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge <device-address>",
	Short: "Expose a BLE UART as a local serial port",
	Long: `Connects to a device and exposes a pair of characteristics as a
pseudo-terminal. Notifications from the TX characteristic appear on the
serial port; bytes written to the port are sent to the RX characteristic
in chunks of at most --chunk bytes.

Examples:
  # Bridge a Nordic UART peripheral, then attach a terminal to the printed port
  blez bridge AA:BB:CC:DD:EE:FF
  screen /dev/pts/5

  # Custom characteristics and a larger MTU
  blez bridge AA:BB:CC:DD:EE:FF --rx 2a3d --tx 2a3e --chunk 180`,
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

var (
	bridgeRX       string
	bridgeTX       string
	bridgeChunk    int
	bridgeDuration time.Duration
)

func init() {
	bridgeCmd.Flags().StringVar(&bridgeRX, "rx", nordicUARTRX, "Characteristic receiving bytes written to the port")
	bridgeCmd.Flags().StringVar(&bridgeTX, "tx", nordicUARTTX, "Characteristic whose notifications feed the port")
	bridgeCmd.Flags().IntVar(&bridgeChunk, "chunk", 20, "Maximum bytes per characteristic write")
	bridgeCmd.Flags().DurationVarP(&bridgeDuration, "duration", "d", 0, "Stop after this long (0 for indefinite)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	if bridgeChunk <= 0 {
		return fmt.Errorf("chunk must be positive, got %d", bridgeChunk)
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
	chars, err := s.resolveChars(ctx, dev, bridgeRX, bridgeTX)
	if err != nil {
		return err
	}
	rx, tx := chars[0], chars[1]

	port, err := ptyio.Open(ptyio.Options{Logger: s.logger})
	if err != nil {
		return err
	}
	defer port.Close()

	err = s.ble.RegisterCharacteristicReadEvent(ctx, dev, tx.UUID, func(b []byte) {
		if _, err := port.Write(b); err != nil {
			s.logger.WithError(err).Debug("serial port closed, dropping notification")
		}
	})
	if err != nil {
		return err
	}

	if bridgeDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bridgeDuration)
		defer cancel()
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Serial port: %s. Press Ctrl+C to stop...\n", port.TTYName())
	err = pumpBridge(ctx, port, func(b []byte) error {
		return dev.WriteToCharacteristic(ctx, rx.UUID, b)
	}, bridgeChunk)

	st := port.Stats()
	s.logger.WithFields(logrus.Fields{
		"to_device":      st.ReadBytesTotal,
		"from_device":    st.WriteBytesTotal,
		"dropped_reads":  st.DroppedReadCount,
		"dropped_writes": st.DroppedWriteCount,
	}).Info("bridge stopped")
	return err
}

// serialPort is the read side of the bridge.
type serialPort interface {
	Read(p []byte) (int, error)
	Readable() <-chan struct{}
}

// pumpBridge forwards everything readable from port to write, split into
// chunk-sized pieces, until ctx is done or a write fails.
func pumpBridge(ctx context.Context, port serialPort, write func([]byte) error, chunk int) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-port.Readable():
		}

		for {
			n, err := port.Read(buf)
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			for data := buf[:n]; len(data) > 0; {
				size := min(chunk, len(data))
				if err := write(data[:size]); err != nil {
					return err
				}
				data = data[size:]
			}
		}
	}
}
