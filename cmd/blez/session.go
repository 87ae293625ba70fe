package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blez/internal/bluez"
	"github.com/srg/blez/internal/device"
	"github.com/srg/blez/pkg/ble"
	"github.com/srg/blez/pkg/config"
	"golang.org/x/term"
)

var headerColor = color.New(color.FgCyan, color.Bold)

// configureOutput disables colors unless stdout is an interactive terminal.
func configureOutput(cmd *cobra.Command, _ []string) error {
	color.NoColor = noColor || !isTerminal(cmd.OutOrStdout())
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printHeader(w io.Writer, format string, args ...interface{}) {
	_, _ = headerColor.Fprintf(w, format+"\n", args...)
}

// session is one command run: configuration, logger and an open library context.
type session struct {
	cfg    *config.Config
	logger *logrus.Logger
	ble    *ble.Context

	// status receives progress lines; discarded unless stderr is a terminal
	status io.Writer
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if scanDurationFlag != "" {
		d, err := time.ParseDuration(scanDurationFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid scan duration: %w", err)
		}
		cfg.ScanDuration = d
	}
	return cfg, cfg.Validate()
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	bctx, err := ble.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	status := io.Discard
	if isTerminal(cmd.ErrOrStderr()) {
		status = cmd.ErrOrStderr()
	}
	return &session{cfg: cfg, logger: logger, ble: bctx, status: status}, nil
}

func (s *session) Close() {
	if err := s.ble.Close(); err != nil {
		s.logger.WithError(err).Warn("failed to close BlueZ context")
	}
}

// device scans, resolves address by prefix and connects with bounded retries.
func (s *session) device(ctx context.Context, address string) (*ble.Device, error) {
	progress := NewCountdownProgressPrinter(s.status, "Looking for "+address, "Scanning", s.cfg.ScanDuration)
	progress.Start()
	defer progress.Stop()

	if err := s.ble.Scan(ctx, 0); err != nil {
		return nil, err
	}
	dev, err := s.ble.Registry().FindByAddress(strings.ToUpper(address))
	if err != nil {
		return nil, err
	}

	progress.SetPhase("Connecting")
	if err := s.ble.Connect(ctx, dev); err != nil {
		return nil, err
	}
	return dev, nil
}

// resolveChar discovers services on dev and checks the UUID argument names
// one of its characteristics.
func (s *session) resolveChar(ctx context.Context, dev *ble.Device, uuidArg string) (*ble.Characteristic, error) {
	chars, err := s.resolveChars(ctx, dev, uuidArg)
	if err != nil {
		return nil, err
	}
	return chars[0], nil
}

// resolveChars runs service discovery once and resolves every UUID argument
// against the resulting tree, in argument order.
func (s *session) resolveChars(ctx context.Context, dev *ble.Device, uuidArgs ...string) ([]*ble.Characteristic, error) {
	uuids, err := bluez.ValidateUUID(uuidArgs...)
	if err != nil {
		return nil, err
	}
	if _, err := dev.GetServices(ctx); err != nil {
		if !errors.Is(err, device.ErrPartialDiscovery) {
			return nil, err
		}
		s.logger.WithError(err).Warn("continuing with a partial service tree")
	}

	chars := make([]*ble.Characteristic, 0, len(uuids))
	for _, uuid := range uuids {
		ch, err := dev.GetCharacteristicByUUID(uuid)
		if err != nil {
			return nil, err
		}
		chars = append(chars, ch)
	}
	return chars, nil
}
