package device_test

import (
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/srg/blez/internal/bluez"
	"github.com/srg/blez/internal/bus"
	"github.com/srg/blez/internal/device"
	"github.com/srg/blez/internal/testutils"
	"github.com/stretchr/testify/suite"
)

var (
	pairMember       = bluez.Member(bluez.DeviceInterface, bluez.MethodPair)
	writeValueMember = bluez.Member(bluez.CharacteristicInterface, bluez.MethodWriteValue)
)

type DeviceTestSuite struct {
	DeviceSuite
}

func (s *DeviceTestSuite) TestConnectionLifecycle() {
	dev := s.firmata()
	ctx := s.ctx()

	tests := []struct {
		name   string
		op     func() error
		member string
		prop   string
		want   bool
	}{
		{"connect", func() error { return dev.Connect(ctx) }, bluez.MethodConnect, bluez.PropConnected, true},
		{"pair", func() error { return dev.Pair(ctx) }, bluez.MethodPair, bluez.PropPaired, true},
		{"unpair", func() error { return dev.Unpair(ctx) }, bluez.MethodCancelPairing, bluez.PropPaired, false},
		{"disconnect", func() error { return dev.Disconnect(ctx) }, bluez.MethodDisconnect, bluez.PropConnected, false},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Bus.ResetCalls()
			s.Require().NoError(tt.op())

			calls := s.Bus.Calls(bluez.Member(bluez.DeviceInterface, tt.member))
			s.Require().Len(calls, 1)
			s.Equal(dev.Path(), calls[0].Path)

			v, _ := s.Bus.Property(dev.Path(), bluez.DeviceInterface, tt.prop)
			s.Equal(tt.want, v)
		})
	}
}

func (s *DeviceTestSuite) TestConnect_Failure() {
	dev := s.firmata()
	s.Bus.FailWith(bluez.Member(bluez.DeviceInterface, bluez.MethodConnect), dev.Path(),
		testutils.ErrNameFailed, "le-connection-abort-by-local")

	err := dev.Connect(s.ctx())

	s.ErrorIs(err, device.ErrConnect)
	s.NotErrorIs(err, device.ErrDisconnect)
	var rc *bus.RemoteCallError
	s.Require().ErrorAs(err, &rc)
	s.Equal("le-connection-abort-by-local", rc.Message)
	s.Contains(err.Error(), "le-connection-abort-by-local")
}

func (s *DeviceTestSuite) TestGetServices_PairsAndBuildsTree() {
	dev := s.firmata()
	s.False(dev.ServicesResolved())

	services, err := dev.GetServices(s.ctx())
	s.Require().NoError(err)
	s.True(dev.ServicesResolved())
	s.Len(s.Bus.Calls(pairMember), 1, "unpaired device is paired first")

	s.Require().Len(services, 2)
	for _, svc := range services {
		s.NotEmpty(svc.Path)
		s.True(strings.HasPrefix(string(svc.Path), string(dev.Path())))
		for _, ch := range svc.Characteristics {
			s.NotEmpty(ch.Path)
			s.True(strings.HasPrefix(string(ch.Path), string(svc.Path)))
		}
	}

	testutils.NewJSONAsserter(s.T()).AssertValue(dev, `{
		"address": "AA:BB:CC:DD:EE:FF",
		"name": "FIRMATA",
		"services": [
			{
				"uuid": "00001801-0000-1000-8000-00805f9b34fb",
				"primary": true,
				"characteristics": [{"uuid": "00002a05-0000-1000-8000-00805f9b34fb"}]
			},
			{
				"uuid": "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
				"primary": true,
				"characteristics": [
					{"uuid": "6e400002-b5a3-f393-e0a9-e50e24dcca9e"},
					{"uuid": "6e400003-b5a3-f393-e0a9-e50e24dcca9e"}
				]
			}
		]
	}`)
}

func (s *DeviceTestSuite) TestGetServices_AlreadyPaired() {
	dev := s.firmata()
	s.Bus.SetProperty(dev.Path(), bluez.DeviceInterface, bluez.PropPaired, true)

	_, err := dev.GetServices(s.ctx())
	s.Require().NoError(err)
	s.Empty(s.Bus.Calls(pairMember))
}

func (s *DeviceTestSuite) TestGetServices_RebuildsCache() {
	dev := s.firmata()

	_, err := dev.GetServices(s.ctx())
	s.Require().NoError(err)
	services, err := dev.GetServices(s.ctx())
	s.Require().NoError(err)

	s.Len(services, 2, "services are replaced, not appended")
	s.Len(dev.Services(), 2)
}

func (s *DeviceTestSuite) TestGetServices_PairFailure() {
	dev := s.firmata()
	s.Bus.FailWith(pairMember, dev.Path(), "org.bluez.Error.AuthenticationFailed", "Authentication Failed")

	services, err := dev.GetServices(s.ctx())

	s.Nil(services)
	s.ErrorIs(err, device.ErrServiceDiscovery)
	s.ErrorIs(err, device.ErrPair)
	s.False(dev.ServicesResolved())
}

func (s *DeviceTestSuite) TestGetServices_PartialDiscovery() {
	dev := s.firmata()
	rxPath := dev.Path() + "/service0012/char0013"
	s.Bus.AddObject(rxPath, map[string]map[string]dbus.Variant{
		bluez.CharacteristicInterface: {"Notifying": dbus.MakeVariant(false)},
	})

	services, err := dev.GetServices(s.ctx())

	s.ErrorIs(err, device.ErrPartialDiscovery)
	s.NotErrorIs(err, device.ErrServiceDiscovery)
	s.Require().Len(services, 2)
	s.True(dev.ServicesResolved())

	ch, err := dev.GetCharacteristicByPath(string(rxPath))
	s.Require().NoError(err)
	s.Equal(device.UnknownUUID, ch.UUID)

	tx, err := dev.GetCharacteristicByUUID(uartTX)
	s.Require().NoError(err)
	s.Equal(uartTX, tx.UUID)
}

func (s *DeviceTestSuite) TestGetServices_EmptyUUID() {
	dev := s.firmata()
	tests := []struct {
		name  string
		path  dbus.ObjectPath
		iface string
	}{
		{"characteristic", dev.Path() + "/service0012/char0013", bluez.CharacteristicInterface},
		{"service", dev.Path() + "/service0010", bluez.ServiceInterface},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Bus.SetProperty(tt.path, tt.iface, bluez.PropUUID, "")

			services, err := dev.GetServices(s.ctx())

			s.ErrorIs(err, device.ErrPartialDiscovery)
			s.Require().Len(services, 2)
			s.True(dev.ServicesResolved())
			for _, svc := range services {
				s.NotEmpty(svc.UUID)
				for _, ch := range svc.Characteristics {
					s.NotEmpty(ch.UUID)
				}
			}
			if tt.iface == bluez.CharacteristicInterface {
				ch, err := dev.GetCharacteristicByPath(string(tt.path))
				s.Require().NoError(err)
				s.Equal(device.UnknownUUID, ch.UUID)
			} else {
				svc, err := dev.GetServiceByPath(string(tt.path))
				s.Require().NoError(err)
				s.Equal(device.UnknownUUID, svc.UUID)
			}
		})
	}
}

func (s *DeviceTestSuite) TestLookups() {
	dev := s.firmata()

	_, err := dev.GetCharacteristicByUUID(uartRX)
	s.True(device.IsNotFound(err), "nothing resolves before discovery")

	_, err = dev.GetServices(s.ctx())
	s.Require().NoError(err)

	s.Run("characteristic by full uuid", func() {
		ch, err := dev.GetCharacteristicByUUID(uartRX)
		s.Require().NoError(err)
		s.Equal(uartRX, ch.UUID)
	})

	s.Run("characteristic by prefix resolves to first discovered", func() {
		ch, err := dev.GetCharacteristicByUUID("6e40000")
		s.Require().NoError(err)
		s.Equal(uartRX, ch.UUID)
	})

	s.Run("uppercase query", func() {
		ch, err := dev.GetCharacteristicByUUID("6E400003")
		s.Require().NoError(err)
		s.Equal(uartTX, ch.UUID)
	})

	s.Run("query longer than stored uuid", func() {
		_, err := dev.GetCharacteristicByUUID(uartRX + "0")
		var nf *device.NotFoundError
		s.Require().ErrorAs(err, &nf)
		s.Equal("characteristic", nf.Resource)
	})

	s.Run("service by prefix", func() {
		svc, err := dev.GetServiceByUUID("6e4")
		s.Require().NoError(err)
		s.Equal(uartService, svc.UUID)
		s.Len(svc.Characteristics, 2)
	})

	s.Run("service by path", func() {
		svc, err := dev.GetServiceByPath(string(dev.Path()) + "/service0012")
		s.Require().NoError(err)
		s.Equal(uartService, svc.UUID)

		_, err = dev.GetServiceByPath("/org/bluez/hci1")
		s.True(device.IsNotFound(err))
	})

	s.Run("characteristic by path", func() {
		ch, err := dev.GetCharacteristicByPath(string(dev.Path()) + "/service0012/char0014")
		s.Require().NoError(err)
		s.Equal(uartTX, ch.UUID)
	})
}

func (s *DeviceTestSuite) TestWriteToCharacteristic() {
	dev := s.firmata()
	_, err := dev.GetServices(s.ctx())
	s.Require().NoError(err)

	payload := []byte{0x91, 0x20, 0x00}
	s.Require().NoError(dev.WriteToCharacteristic(s.ctx(), uartRX, payload))

	calls := s.Bus.Calls(writeValueMember)
	s.Require().Len(calls, 1, "whole buffer goes out in a single call")
	s.Equal(dev.Path()+"/service0012/char0013", calls[0].Path)
	s.Equal(payload, calls[0].Args[0])
	s.Equal(map[string]dbus.Variant{}, calls[0].Args[1])

	s.Run("unknown characteristic", func() {
		s.Bus.ResetCalls()
		err := dev.WriteToCharacteristic(s.ctx(), "deadbeef", payload)
		s.ErrorIs(err, device.ErrWrite)
		s.True(device.IsNotFound(err))
		s.Empty(s.Bus.Calls(writeValueMember))
	})

	s.Run("daemon rejects write", func() {
		s.Bus.FailWith(writeValueMember, "", "org.bluez.Error.NotPermitted", "Write not permitted")
		err := dev.WriteToCharacteristic(s.ctx(), uartRX, payload)
		s.ErrorIs(err, device.ErrWrite)
		s.Contains(err.Error(), "Write not permitted")
	})
}

func (s *DeviceTestSuite) TestReadFromCharacteristic() {
	dev := s.firmata()
	_, err := dev.GetServices(s.ctx())
	s.Require().NoError(err)

	data, err := dev.ReadFromCharacteristic(s.ctx(), uartTX)
	s.Require().NoError(err)
	s.Equal([]byte("PING"), data)

	data, err = dev.ReadFromCharacteristic(s.ctx(), uartRX)
	s.Require().NoError(err)
	s.Empty(data)

	s.Bus.FailWith(bluez.Member(bluez.CharacteristicInterface, bluez.MethodReadValue), "",
		"org.bluez.Error.NotPermitted", "Read not permitted")
	_, err = dev.ReadFromCharacteristic(s.ctx(), uartTX)
	s.ErrorIs(err, device.ErrRead)
}

func (s *DeviceTestSuite) TestStartNotify() {
	dev := s.firmata()
	_, err := dev.GetServices(s.ctx())
	s.Require().NoError(err)

	ch, err := dev.StartNotify(s.ctx(), uartTX)
	s.Require().NoError(err)

	notifying, _ := s.Bus.Property(ch.Path, bluez.CharacteristicInterface, "Notifying")
	s.Equal(true, notifying)

	_, err = dev.StartNotify(s.ctx(), "ffff")
	s.ErrorIs(err, device.ErrNotify)
}

func (s *DeviceTestSuite) TestGetDeviceProperties() {
	dev := s.firmata()

	props, err := dev.GetDeviceProperties(s.ctx())
	s.Require().NoError(err)
	s.Equal(device.Properties{}, props)

	s.Require().NoError(dev.Connect(s.ctx()))
	s.Require().NoError(dev.Pair(s.ctx()))

	props, err = dev.GetDeviceProperties(s.ctx())
	s.Require().NoError(err)
	s.Equal(device.Properties{Paired: true, Connected: true}, props)

	s.Bus.RemoveObject(dev.Path())
	_, err = dev.GetDeviceProperties(s.ctx())
	s.ErrorIs(err, device.ErrProperties)
}

func TestDeviceTestSuite(t *testing.T) {
	suite.Run(t, new(DeviceTestSuite))
}
