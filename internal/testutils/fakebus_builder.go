package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/srg/blez/internal/bluez"
)

// CharacteristicConfig describes a GATT characteristic exported by the fake daemon.
type CharacteristicConfig struct {
	UUID  string `json:"uuid"`
	Value []byte `json:"value,omitempty"`
}

// ServiceConfig describes a GATT service exported by the fake daemon.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Primary         *bool                  `json:"primary,omitempty"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceConfig describes a remote device known to the fake daemon.
type DeviceConfig struct {
	Address   string          `json:"address"`
	Name      *string         `json:"name,omitempty"`
	Paired    bool            `json:"paired,omitempty"`
	Trusted   bool            `json:"trusted,omitempty"`
	Connected bool            `json:"connected,omitempty"`
	Services  []ServiceConfig `json:"services,omitempty"`
}

// BusProfileConfig is the complete object tree of the fake daemon.
type BusProfileConfig struct {
	Adapter string         `json:"adapter,omitempty"`
	Devices []DeviceConfig `json:"devices"`
}

// FakeBusBuilder builds a FakeBus from a device profile.
//
//	fb := testutils.NewFakeBusBuilder().
//	    WithDevice("AA:BB:CC:DD:EE:FF", "FIRMATA").
//	    WithService("6e400001-b5a3-f393-e0a9-e50e24dcca9e").
//	    WithCharacteristic("6e400002-b5a3-f393-e0a9-e50e24dcca9e", nil).
//	    Build()
type FakeBusBuilder struct {
	profile BusProfileConfig
}

// NewFakeBusBuilder creates a builder with the default adapter and no devices.
func NewFakeBusBuilder() *FakeBusBuilder {
	return &FakeBusBuilder{profile: BusProfileConfig{Adapter: string(bluez.DefaultAdapterPath)}}
}

// WithAdapter overrides the adapter object path.
func (b *FakeBusBuilder) WithAdapter(path string) *FakeBusBuilder {
	b.profile.Adapter = path
	return b
}

// WithDevice adds a named device.
func (b *FakeBusBuilder) WithDevice(address, name string) *FakeBusBuilder {
	b.profile.Devices = append(b.profile.Devices, DeviceConfig{Address: address, Name: &name})
	return b
}

// WithUnnamedDevice adds a device that exposes no Name property.
func (b *FakeBusBuilder) WithUnnamedDevice(address string) *FakeBusBuilder {
	b.profile.Devices = append(b.profile.Devices, DeviceConfig{Address: address})
	return b
}

// Paired marks the last added device as paired.
func (b *FakeBusBuilder) Paired() *FakeBusBuilder {
	b.lastDevice().Paired = true
	return b
}

// WithService adds a primary service to the last added device.
func (b *FakeBusBuilder) WithService(uuid string) *FakeBusBuilder {
	dev := b.lastDevice()
	dev.Services = append(dev.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
func (b *FakeBusBuilder) WithCharacteristic(uuid string, value []byte) *FakeBusBuilder {
	dev := b.lastDevice()
	if len(dev.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	svc := &dev.Services[len(dev.Services)-1]
	svc.Characteristics = append(svc.Characteristics, CharacteristicConfig{UUID: uuid, Value: value})
	return b
}

// FromJSON replaces the profile with one decoded from JSON.
func (b *FakeBusBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *FakeBusBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config BusProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("FakeBusBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if config.Adapter == "" {
		config.Adapter = string(bluez.DefaultAdapterPath)
	}

	b.profile = config
	return b
}

func (b *FakeBusBuilder) lastDevice() *DeviceConfig {
	if len(b.profile.Devices) == 0 {
		panic("FakeBusBuilder: no device added yet, call WithDevice first")
	}
	return &b.profile.Devices[len(b.profile.Devices)-1]
}

// Build exports the profile on a new FakeBus. Object paths follow BlueZ
// naming: dev_XX_XX.., serviceNNNN, charNNNN.
func (b *FakeBusBuilder) Build() *FakeBus {
	fb := NewFakeBus()
	Populate(fb, b.profile)
	return fb
}

// Populate exports profile on fb in BlueZ object order.
func Populate(fb *FakeBus, profile BusProfileConfig) {
	adapter := dbus.ObjectPath(profile.Adapter)
	fb.AddObject(adapter, map[string]map[string]dbus.Variant{
		bluez.AdapterInterface: {
			"Powered":     dbus.MakeVariant(true),
			"Discovering": dbus.MakeVariant(false),
		},
	})

	for _, dev := range profile.Devices {
		devPath := bluez.PathFromAddress(adapter, dev.Address)
		props := map[string]dbus.Variant{
			bluez.PropAddress:   dbus.MakeVariant(dev.Address),
			bluez.PropPaired:    dbus.MakeVariant(dev.Paired),
			bluez.PropTrusted:   dbus.MakeVariant(dev.Trusted),
			bluez.PropConnected: dbus.MakeVariant(dev.Connected),
		}
		if dev.Name != nil {
			props[bluez.PropName] = dbus.MakeVariant(*dev.Name)
		}
		fb.AddObject(devPath, map[string]map[string]dbus.Variant{bluez.DeviceInterface: props})

		handle := 0x10
		for _, svc := range dev.Services {
			svcPath := dbus.ObjectPath(fmt.Sprintf("%s/service%04x", devPath, handle))
			handle++
			primary := true
			if svc.Primary != nil {
				primary = *svc.Primary
			}
			fb.AddObject(svcPath, map[string]map[string]dbus.Variant{
				bluez.ServiceInterface: {
					bluez.PropUUID:    dbus.MakeVariant(svc.UUID),
					bluez.PropPrimary: dbus.MakeVariant(primary),
					"Device":          dbus.MakeVariant(devPath),
				},
			})

			for _, ch := range svc.Characteristics {
				chPath := dbus.ObjectPath(fmt.Sprintf("%s/char%04x", svcPath, handle))
				handle++
				value := ch.Value
				if value == nil {
					value = []byte{}
				}
				fb.AddObject(chPath, map[string]map[string]dbus.Variant{
					bluez.CharacteristicInterface: {
						bluez.PropUUID:  dbus.MakeVariant(ch.UUID),
						bluez.PropValue: dbus.MakeVariant(value),
						"Service":       dbus.MakeVariant(svcPath),
						"Notifying":     dbus.MakeVariant(false),
					},
				})
			}
		}
	}
}
