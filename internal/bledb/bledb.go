// Package bledb resolves BLE UUIDs to human-readable names. It carries
// the handful of Bluetooth SIG assignments the application encounters
// plus the vendor sensor services; everything else resolves to "".
package bledb

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG 128-bit base UUID.
// Short 16-bit assignments expand to 0000xxxx-<base>.
const sigBaseSuffix = "00001000800000805f9b34fb"

var serviceNames = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"aa00": "Pulse Oximetry Stream",
	"aa20": "Electrocardiogram Stream",
}

var characteristicNames = map[string]string{
	"2a00": "Device Name",
	"2a19": "Battery Level",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"aa03": "PPG Samples",
	"aa21": "ECG Samples",
}

// shortForm reduces a UUID to its 16-bit SIG short form when it is a SIG
// base expansion; other UUIDs are returned normalized (lowercase, no
// dashes, no 0x prefix).
func shortForm(uuid string) string {
	u := strings.ToLower(uuid)
	u = strings.ReplaceAll(u, "-", "")
	u = strings.TrimPrefix(u, "0x")
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// LookupService returns the known name for a service UUID, or "".
func LookupService(uuid string) string {
	return serviceNames[shortForm(uuid)]
}

// LookupCharacteristic returns the known name for a characteristic UUID,
// or "".
func LookupCharacteristic(uuid string) string {
	return characteristicNames[shortForm(uuid)]
}
