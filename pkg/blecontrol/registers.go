package blecontrol

// Logical register addresses.
const (
	RegSyncNonce   uint16 = 0x002A
	RegSyncCommand uint16 = 0x002C
	RegSyncConfirm uint16 = 0x002E
	RegWiFiMode    uint16 = 0x0030
	RegSyncName    uint16 = 0x0036
	RegSyncStatus  uint16 = 0x0038
	RegGPSData     uint16 = 0x003E
	RegSyncClock   uint16 = 0x0044
	RegAPControl   uint16 = 0x004A
	RegAPSSID      uint16 = 0x004E
	RegShutter     uint16 = 0x0068

	RegLabIdentity uint16 = 0x0070
	RegLabCommand  uint16 = 0x0072
	RegLabConfirm  uint16 = 0x0074
	RegLabName     uint16 = 0x0076
	RegLabNonce    uint16 = 0x007A
	RegLabAP       uint16 = 0x007C
	RegCardStatus  uint16 = 0x0086
	RegGPSEnable   uint16 = 0x008E
	RegLabClock    uint16 = 0x0090
	RegModel       uint16 = 0x0094
	RegFirmware    uint16 = 0x0096
	RegLens        uint16 = 0x0098
	RegWiFiBand    uint16 = 0x00A0
)

// Shutter register values.
const (
	shutterHalfPress   byte = 0x01
	shutterHalfRelease byte = 0x02
	shutterPress       byte = 0x04
	shutterRelease     byte = 0x05
	videoPress         byte = 0x06
	videoRelease       byte = 0x07
)

// Access point control values.
const (
	apActivate byte = 0x01
	apLeave    byte = 0x02
	apJoin     byte = 0x03

	wifiModeAP     byte = 0x05
	wifiModeClient byte = 0x03
)

// SSIDSize is the fixed width of the SSID register.
const SSIDSize = 32

// GPS values.
const (
	gpsOn  byte = 0x01
	gpsOff byte = 0x02

	gpsHeaderStart uint32 = 0x5486AF20
	gpsTrailer     int32  = 4260249
)

// DefaultAppIdentity is written during the Lab login.
const DefaultAppIdentity = "LUMIX LUT Creators APP 1.2.1\x00\x00\x00\x00"

// Flavor selects the login sequence and register set.
type Flavor uint8

const (
	// FlavorSync logs in the way the sync companion app does.
	FlavorSync Flavor = iota
	// FlavorLab logs in the way the lab companion app does.
	FlavorLab
)

// String returns the flavor name.
func (f Flavor) String() string {
	switch f {
	case FlavorSync:
		return "sync"
	case FlavorLab:
		return "lab"
	default:
		return "unknown"
	}
}

// ParseFlavor reads "sync" or "lab".
func ParseFlavor(s string) (Flavor, bool) {
	switch s {
	case "sync", "":
		return FlavorSync, true
	case "lab":
		return FlavorLab, true
	}
	return FlavorSync, false
}

func (f Flavor) nameRegister() uint16 {
	if f == FlavorLab {
		return RegLabName
	}
	return RegSyncName
}

func (f Flavor) clockRegister() uint16 {
	if f == FlavorLab {
		return RegLabClock
	}
	return RegSyncClock
}
