package device_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/srg/blez/internal/bluez"
	"github.com/srg/blez/internal/bus"
	"github.com/srg/blez/internal/device"
	"github.com/srg/blez/internal/testutils"
	"github.com/stretchr/testify/suite"
)

var (
	startDiscovery = bluez.Member(bluez.AdapterInterface, bluez.MethodStartDiscovery)
	stopDiscovery  = bluez.Member(bluez.AdapterInterface, bluez.MethodStopDiscovery)
)

type RegistryTestSuite struct {
	DeviceSuite
}

func (s *RegistryTestSuite) TestScan_DiscoversDevicesInOrder() {
	s.scan()

	devices := s.registry.Devices()
	s.Require().Len(devices, 2)
	s.Equal(2, s.registry.Len())

	s.Equal(heartAddr, devices[0].Address())
	s.Equal("HeartRate", devices[0].Name())
	s.Equal(firmataAddr, devices[1].Address())
	s.Equal("FIRMATA", devices[1].Name())

	s.Len(s.Bus.Calls(startDiscovery), 1)
	s.Len(s.Bus.Calls(stopDiscovery), 1)

	discovering, _ := s.Bus.Property(bluez.DefaultAdapterPath, bluez.AdapterInterface, "Discovering")
	s.Equal(false, discovering)
}

func (s *RegistryTestSuite) TestScan_ZeroDuration() {
	s.Require().NoError(s.registry.Scan(s.ctx(), 0))
	s.Equal(2, s.registry.Len())
}

func (s *RegistryTestSuite) TestScan_ReplacesPreviousResults() {
	s.scan()
	s.Require().Equal(2, s.registry.Len())

	s.Bus.RemoveObject(bluez.PathFromAddress(bluez.DefaultAdapterPath, heartAddr))
	s.scan()

	s.Equal(1, s.registry.Len())
	_, err := s.registry.FindByName("HeartRate")
	s.True(device.IsNotFound(err))
}

func (s *RegistryTestSuite) TestScan_StartDiscoveryFails() {
	s.scan()
	s.Bus.FailWith(startDiscovery, "", "org.bluez.Error.NotReady", "Resource Not Ready")

	err := s.registry.Scan(s.ctx(), time.Millisecond)

	s.ErrorIs(err, device.ErrScan)
	var rc *bus.RemoteCallError
	s.Require().ErrorAs(err, &rc)
	s.Equal("Resource Not Ready", rc.Message)
	s.Zero(s.registry.Len(), "failed scan leaves the registry empty")
}

func (s *RegistryTestSuite) TestScan_EnumerationFails() {
	s.Bus.FailWith(bluez.Member(bluez.ObjectManagerInterface, bluez.MethodGetManagedObjects), "",
		testutils.ErrNameFailed, "busy")

	err := s.registry.Scan(s.ctx(), time.Millisecond)
	s.ErrorIs(err, device.ErrScan)
	s.Len(s.Bus.Calls(stopDiscovery), 1)
}

func (s *RegistryTestSuite) TestScan_Cancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(10*time.Millisecond, cancel)

	err := s.registry.Scan(ctx, time.Hour)

	s.ErrorIs(err, device.ErrScan)
	s.True(errors.Is(err, context.Canceled))
	s.Len(s.Bus.Calls(stopDiscovery), 1, "discovery is stopped on cancellation")
}

func (s *RegistryTestSuite) TestScan_MissingAddressAndName() {
	path := bluez.PathFromAddress(bluez.DefaultAdapterPath, "01:02:03:04:05:06")
	s.Bus.AddObject(path, map[string]map[string]dbus.Variant{
		bluez.DeviceInterface: {bluez.PropPaired: dbus.MakeVariant(false)},
	})

	s.scan()

	dev, err := s.registry.FindByPath(string(path))
	s.Require().NoError(err)
	s.Equal("01:02:03:04:05:06", dev.Address())
	s.Equal("", dev.Name())
}

func (s *RegistryTestSuite) TestFindByName() {
	testutils.Populate(s.Bus, testutils.BusProfileConfig{
		Adapter: string(bluez.DefaultAdapterPath),
		Devices: []testutils.DeviceConfig{
			{Address: "00:00:00:00:00:01", Name: strPtr("FIRMATA-2")},
		},
	})
	s.scan()

	tests := []struct {
		name    string
		query   string
		want    string
		wantErr bool
	}{
		{name: "exact", query: "HeartRate", want: heartAddr},
		{name: "prefix", query: "FIR", want: "00:00:00:00:00:01"},
		{name: "ambiguous prefix resolves to first discovered", query: "FIRMATA", want: "00:00:00:00:00:01"},
		{name: "query longer than stored name", query: "FIRMATA-22", wantErr: true},
		{name: "no match", query: "Thermo", wantErr: true},
		{name: "empty query matches first", query: "", want: "00:00:00:00:00:01"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			dev, err := s.registry.FindByName(tt.query)
			if tt.wantErr {
				var nf *device.NotFoundError
				s.Require().ErrorAs(err, &nf)
				s.Equal("device", nf.Resource)
				s.Equal(tt.query, nf.Query)
				return
			}
			s.Require().NoError(err)
			s.Equal(tt.want, dev.Address())
		})
	}
}

func (s *RegistryTestSuite) TestFindByAddress() {
	s.scan()

	dev, err := s.registry.FindByAddress("AA:BB")
	s.Require().NoError(err)
	s.Equal("FIRMATA", dev.Name())

	_, err = s.registry.FindByAddress("aa:bb")
	s.True(device.IsNotFound(err), "address match is case sensitive")
}

func (s *RegistryTestSuite) TestFindByPath_RoundTrip() {
	s.scan()

	for _, dev := range s.registry.Devices() {
		found, err := s.registry.FindByPath(string(dev.Path()))
		s.Require().NoError(err)
		s.Same(dev, found)
	}

	_, err := s.registry.FindByPath("/org/bluez/hci1")
	s.True(device.IsNotFound(err))
}

func (s *RegistryTestSuite) TestClear() {
	s.scan()
	s.registry.Clear()
	s.Zero(s.registry.Len())
	s.Empty(s.registry.Devices())
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}

func strPtr(s string) *string { return &s }
