// Package bledb names well-known GATT services and characteristics for
// display. Entries cover the Bluetooth SIG assigned numbers BlueZ peripherals
// commonly expose plus the Nordic UART service used by Firmata-over-BLE boards.
package bledb

import (
	"strings"
)

const sigBase = "00001000800000805f9b34fb"

// NormalizeUUID returns the lookup key for uuid: the 16-bit form for Bluetooth
// SIG base UUIDs, otherwise the lowercase 128-bit form without dashes.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.Trim(u, "{}")
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBase) {
		return u[4:8]
	}
	return u
}

var services = map[string]string{
	"1800":                             "Generic Access",
	"1801":                             "Generic Attribute",
	"180a":                             "Device Information",
	"180d":                             "Heart Rate",
	"180f":                             "Battery Service",
	"1812":                             "Human Interface Device",
	"181a":                             "Environmental Sensing",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristics = map[string]string{
	"2a00":                             "Device Name",
	"2a01":                             "Appearance",
	"2a05":                             "Service Changed",
	"2a19":                             "Battery Level",
	"2a24":                             "Model Number String",
	"2a25":                             "Serial Number String",
	"2a26":                             "Firmware Revision String",
	"2a29":                             "Manufacturer Name String",
	"2a37":                             "Heart Rate Measurement",
	"2a38":                             "Body Sensor Location",
	"2a6e":                             "Temperature",
	"2a6f":                             "Humidity",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
}

// LookupService returns the service name for uuid, or "" when unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the characteristic name for uuid, or "" when unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}
