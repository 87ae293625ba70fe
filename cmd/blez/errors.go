package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blez/internal/bus"
	"github.com/srg/blez/internal/device"
)

// FormatUserError turns library errors into a one-line message for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var (
		nf     *device.NotFoundError
		remote *bus.RemoteCallError
		opErr  *device.OpError
	)
	switch {
	case errors.Is(err, bus.ErrUnreachable):
		return "cannot reach the system bus; is bluetoothd running?"
	case errors.Is(err, bus.ErrNotConnected):
		return "bus connection closed"
	case errors.As(err, &nf):
		return nf.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	case errors.As(err, &opErr) && errors.As(err, &remote):
		if remote.Message != "" {
			return fmt.Sprintf("%s failed: %s", opErr.Op, remote.Message)
		}
		return fmt.Sprintf("%s failed: %s", opErr.Op, remote.Name)
	case errors.Is(err, device.ErrPartialDiscovery):
		return "some GATT attributes could not be resolved: " + err.Error()
	}
	return err.Error()
}
