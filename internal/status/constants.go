// internal/status/constants.go
package status

// Device Status Block layout constants.
// These values define the block layout and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of holding registers per device.
const SlotsPerDevice = 20

// ---- SLOT INDICES ----

const (
	SlotHealthCode     = 0
	SlotLastErrorCode  = 1
	SlotSecondsInError = 2
)

// Slots 3-10 are reserved and written as zero.
const (
	SlotReservedStart = 3
	SlotReservedEnd   = 10
)

// ---- DEVICE NAME ----

// SlotDeviceNameStart is the first slot used for the device name.
// The name always sits at the end of the block.
const SlotDeviceNameStart = 11

// SlotDeviceNameSlots is the number of slots reserved for the device name.
const SlotDeviceNameSlots = 8

// SlotDeviceNameEnd is the last slot used for the device name (inclusive).
const SlotDeviceNameEnd = SlotDeviceNameStart + SlotDeviceNameSlots - 1

// DeviceNameMaxChars is the maximum number of ASCII characters stored for the name.
const DeviceNameMaxChars = 16

// ---- HEALTH CODES ----

const (
	// HealthUnknown is the boot state, before the first result.
	HealthUnknown uint16 = 0
	// HealthOK means every read block of the device succeeded last time.
	HealthOK uint16 = 1
	// HealthCommunicationError means the device could not be reached or did not answer.
	HealthCommunicationError uint16 = 2
	// HealthDataError means the device answered with an exception: the
	// configured request is invalid for it.
	HealthDataError uint16 = 3
	// HealthDisabled marks a device that is configured but not polled.
	HealthDisabled uint16 = 4
)

// MaxSecondsInError is where seconds_in_error saturates.
const MaxSecondsInError = 65535
