// Package device models the remote BLE peripherals known to the BlueZ daemon.
//
// A Registry discovers devices with a timed adapter scan and keeps them in
// discovery order. Each Device drives its org.bluez.Device1 object:
//   - connection and pairing (Connect, Disconnect, Pair, Unpair)
//   - GATT discovery into a Service/Characteristic tree (GetServices)
//   - characteristic access by UUID (ReadFromCharacteristic, WriteToCharacteristic)
//
// Lookups by name, address, path or UUID match on prefix and return the first
// match in discovery order.
package device
