package bluez

import (
	"fmt"
	"strings"

	blelib "github.com/go-ble/ble"
)

const sigBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID lowercases a UUID and strips a 0x prefix. Short 16 and
// 32-bit forms are expanded to the Bluetooth SIG base UUID, which is the form
// BlueZ reports in the UUID property.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	switch len(u) {
	case 4:
		return "0000" + u + sigBaseSuffix
	case 8:
		return u + sigBaseSuffix
	}
	return u
}

// ShortenUUID returns the 16-bit form of a SIG base UUID, or the first eight
// characters of any other long UUID, for display.
func ShortenUUID(uuid string) string {
	u := strings.ToLower(uuid)
	if strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) && len(u) == 36 {
		return u[4:8]
	}
	if len(u) > 8 {
		return u[:8]
	}
	return u
}

// ValidateUUID checks every argument parses as a BLE UUID and returns them
// normalized. Prefix queries are not valid here; use it for full UUIDs only.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		if uuid == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		if _, err := blelib.Parse(strings.TrimPrefix(strings.ToLower(uuid), "0x")); err != nil {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s: %w", i, uuid, err)
		}
		result = append(result, NormalizeUUID(uuid))
	}
	return result, nil
}
