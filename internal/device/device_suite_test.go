package device_test

import (
	"context"
	"time"

	"github.com/srg/blez/internal/bus"
	"github.com/srg/blez/internal/device"
	"github.com/srg/blez/internal/introspect"
	"github.com/srg/blez/internal/testutils"
)

const (
	firmataAddr = "AA:BB:CC:DD:EE:FF"
	heartAddr   = "11:22:33:44:55:66"

	uartService = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	uartRX      = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	uartTX      = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// DeviceSuite runs against the FIRMATA profile and a registry over it.
type DeviceSuite struct {
	testutils.FakeBusSuite

	conn     *bus.Connection
	registry *device.Registry
}

func (s *DeviceSuite) SetupTest() {
	s.FakeBusSuite.SetupTest()
	s.conn = s.Connection()
	s.registry = device.NewRegistry(s.conn, introspect.New(s.conn, "", s.Logger), device.Options{}, s.Logger)
}

func (s *DeviceSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	s.T().Cleanup(cancel)
	return ctx
}

func (s *DeviceSuite) scan() {
	s.Require().NoError(s.registry.Scan(s.ctx(), 5*time.Millisecond))
}

func (s *DeviceSuite) firmata() *device.Device {
	s.scan()
	dev, err := s.registry.FindByName("FIRMATA")
	s.Require().NoError(err)
	return dev
}
