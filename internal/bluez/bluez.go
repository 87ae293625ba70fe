// Package bluez holds the BlueZ D-Bus names and the helpers that map between
// Bluetooth addresses and BlueZ object paths.
package bluez

import (
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	Destination = "org.bluez"
	RootPath    = dbus.ObjectPath("/")

	DefaultAdapterPath = dbus.ObjectPath("/org/bluez/hci0")

	AdapterInterface        = "org.bluez.Adapter1"
	DeviceInterface         = "org.bluez.Device1"
	ServiceInterface        = "org.bluez.GattService1"
	CharacteristicInterface = "org.bluez.GattCharacteristic1"

	ObjectManagerInterface = "org.freedesktop.DBus.ObjectManager"
	IntrospectInterface    = "org.freedesktop.DBus.Introspectable"
	PropertiesInterface    = "org.freedesktop.DBus.Properties"

	PropertiesChangedMember = "PropertiesChanged"
)

// Method names, relative to their interface.
const (
	MethodStartDiscovery    = "StartDiscovery"
	MethodStopDiscovery     = "StopDiscovery"
	MethodConnect           = "Connect"
	MethodDisconnect        = "Disconnect"
	MethodPair              = "Pair"
	MethodCancelPairing     = "CancelPairing"
	MethodReadValue         = "ReadValue"
	MethodWriteValue        = "WriteValue"
	MethodStartNotify       = "StartNotify"
	MethodStopNotify        = "StopNotify"
	MethodGetManagedObjects = "GetManagedObjects"
	MethodIntrospect        = "Introspect"
	MethodGet               = "Get"
)

// Property names read from BlueZ objects.
const (
	PropName      = "Name"
	PropAddress   = "Address"
	PropPaired    = "Paired"
	PropTrusted   = "Trusted"
	PropConnected = "Connected"
	PropUUID      = "UUID"
	PropPrimary   = "Primary"
	PropValue     = "Value"
)

const devicePrefix = "dev_"

// AddressFromPath extracts the Bluetooth address from a device object path,
// e.g. /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF -> AA:BB:CC:DD:EE:FF.
// Paths below a device (services, characteristics) resolve to the owning device.
// Returns "" when the path carries no device segment.
func AddressFromPath(path dbus.ObjectPath) string {
	for _, seg := range strings.Split(string(path), "/") {
		if strings.HasPrefix(seg, devicePrefix) {
			return strings.ReplaceAll(strings.TrimPrefix(seg, devicePrefix), "_", ":")
		}
	}
	return ""
}

// PathFromAddress builds the device object path under the given adapter.
func PathFromAddress(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	seg := devicePrefix + strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(strings.TrimSuffix(string(adapter), "/") + "/" + seg)
}

// Member joins an interface and a method name the way godbus expects.
func Member(iface, method string) string {
	return iface + "." + method
}
