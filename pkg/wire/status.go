package wire

import "strings"

// Status represents a device-returned status indicator.
type Status uint8

const (
	// StatusOK indicates the call completed and carries data.
	StatusOK Status = 0

	// StatusBusy indicates the device is occupied; the same call may succeed later.
	StatusBusy Status = 1

	// StatusInvalidParameter indicates the caller sent a value the device rejects.
	StatusInvalidParameter Status = 2

	// StatusRejected indicates the call is not valid in the device's current mode.
	StatusRejected Status = 3

	// StatusUnknown is any status string the device returned that is not listed above.
	StatusUnknown Status = 255
)

// Device status strings as they appear on the wire.
const (
	codeOK               = "ok"
	codeBusy             = "err_busy"
	codeInvalidParameter = "err_param"
	codeRejected         = "err_reject"
)

// ParseStatus classifies a raw status code.
func ParseStatus(code string) Status {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case codeOK:
		return StatusOK
	case codeBusy:
		return StatusBusy
	case codeInvalidParameter:
		return StatusInvalidParameter
	case codeRejected:
		return StatusRejected
	default:
		return StatusUnknown
	}
}

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBusy:
		return "BUSY"
	case StatusInvalidParameter:
		return "INVALID_PARAMETER"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusOK
}

// Retryable returns true if the same call may be re-issued unchanged.
func (s Status) Retryable() bool {
	return s == StatusBusy
}
