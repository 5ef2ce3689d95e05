package hostwifi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/lumix-remote/lumix-go/pkg/wire"
)

const (
	// DefaultPrefix matches the access point names of the G9 II.
	DefaultPrefix = "G9M2"

	// CameraHost is the camera address on its own access point.
	CameraHost = "192.168.54.1"

	DefaultJoinTimeout  = 30 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// ErrActivationFailed reports a connection that went down while activating.
var ErrActivationFailed = errors.New("connection activation failed")

// AccessPoint is one visible network.
type AccessPoint struct {
	SSID     string
	Strength uint8

	// Ref is the backend handle of the access point.
	Ref any
}

// State is the state of an activating connection.
type State int

const (
	StateActivating State = iota
	StateActivated
	StateFailed
)

// Activation is a connection being brought up.
type Activation interface {
	State() (State, error)
}

// Backend is the host network stack.
type Backend interface {
	// Scan triggers a scan and returns the visible access points.
	Scan(ctx context.Context) ([]AccessPoint, error)

	// Activate connects to ap. psk is empty for open networks.
	Activate(ctx context.Context, ap AccessPoint, psk string) (Activation, error)
}

// Config configures a Joiner.
type Config struct {
	Timeout      time.Duration
	PollInterval time.Duration

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger
}

// Joiner associates the host with a camera access point.
type Joiner struct {
	backend Backend
	config  Config
}

// NewJoiner creates a Joiner on backend.
func NewJoiner(backend Backend, config Config) *Joiner {
	if config.Timeout <= 0 {
		config.Timeout = DefaultJoinTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	return &Joiner{backend: backend, config: config}
}

// Select returns the strongest access point whose SSID equals ssid or,
// failing that, starts with it.
func Select(aps []AccessPoint, ssid string) (AccessPoint, bool) {
	var exact, prefixed []AccessPoint
	for _, ap := range aps {
		switch {
		case ap.SSID == ssid:
			exact = append(exact, ap)
		case strings.HasPrefix(ap.SSID, ssid):
			prefixed = append(prefixed, ap)
		}
	}
	pick := exact
	if len(pick) == 0 {
		pick = prefixed
	}
	if len(pick) == 0 {
		return AccessPoint{}, false
	}
	sort.SliceStable(pick, func(i, j int) bool { return pick[i].Strength > pick[j].Strength })
	return pick[0], true
}

// Join connects to the access point matching ssid and returns its full
// SSID once the connection is up.
func (j *Joiner) Join(ctx context.Context, ssid, psk string) (string, error) {
	if ssid == "" {
		ssid = DefaultPrefix
	}
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	aps, err := j.backend.Scan(ctx)
	if err != nil {
		return "", &wire.TransportError{Op: "wifi scan", Err: err}
	}
	ap, ok := Select(aps, ssid)
	if !ok {
		return "", fmt.Errorf("%w: no access point matching %q among %d", wire.ErrDeviceNotFound, ssid, len(aps))
	}
	j.debugLog("joining access point", "ssid", ap.SSID, "strength", ap.Strength)

	act, err := j.backend.Activate(ctx, ap, psk)
	if err != nil {
		return "", &wire.TransportError{Op: "wifi join " + ap.SSID, Err: err}
	}

	ticker := time.NewTicker(j.config.PollInterval)
	defer ticker.Stop()
	for {
		st, err := act.State()
		if err != nil {
			return "", &wire.TransportError{Op: "wifi join " + ap.SSID, Err: err}
		}
		switch st {
		case StateActivated:
			return ap.SSID, nil
		case StateFailed:
			return "", &wire.TransportError{Op: "wifi join " + ap.SSID, Err: ErrActivationFailed}
		}
		select {
		case <-ctx.Done():
			return "", &wire.TransportError{Op: "wifi join " + ap.SSID, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

func (j *Joiner) debugLog(msg string, args ...any) {
	if j.config.Logger != nil {
		j.config.Logger.Debug(msg, args...)
	}
}
