package discovery

import "strings"

// BLENamePrefix is the advertised local name prefix of the camera.
const BLENamePrefix = "G9M2"

// CleanBLEName strips the trailing control bytes some advertisements carry
// after the name, e.g. "G9M2-E77E48\n\x05".
func CleanBLEName(name string) string {
	if i := strings.IndexFunc(name, func(r rune) bool { return r < 0x20 }); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

// IsCameraName reports whether an advertised name belongs to the camera.
func IsCameraName(name string) bool {
	return strings.HasPrefix(CleanBLEName(name), BLENamePrefix)
}
