package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/koron/go-ssdp"

	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// SSDP defaults.
const (
	// SearchAll is the M-SEARCH target used to find the camera.
	SearchAll = ssdp.All

	// DescriptionPath is the Location path that identifies the camera.
	DescriptionPath = "/Lumix/Server0/ddd"

	// DefaultSearchWait is the MX of one M-SEARCH round.
	DefaultSearchWait = 3 * time.Second

	retryPause = 500 * time.Millisecond
)

// ErrMultipleDevices is returned when more than one camera answered.
var ErrMultipleDevices = errors.New("multiple cameras found")

// SearchFunc performs one SSDP search round. It matches ssdp.Search.
type SearchFunc func(searchType string, waitSec int, localAddr string) ([]ssdp.Service, error)

// BrowserConfig configures SSDP browsing.
type BrowserConfig struct {
	// Wait is the length of one search round.
	Wait time.Duration

	// LocalAddr binds the search socket, e.g. "192.168.54.10:0". Empty
	// lets the system choose.
	LocalAddr string

	// Search overrides the SSDP implementation (tests).
	Search SearchFunc

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultBrowserConfig returns a three second search round on all
// interfaces.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{Wait: DefaultSearchWait}
}

// Candidate is a camera answer to an SSDP search.
type Candidate struct {
	Host     string
	Location string
	Server   string
	USN      string
}

// Browser finds cameras on the local network over SSDP.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a Browser.
func NewBrowser(config BrowserConfig) *Browser {
	if config.Wait <= 0 {
		config.Wait = DefaultSearchWait
	}
	if config.Search == nil {
		config.Search = ssdp.Search
	}
	return &Browser{config: config}
}

// Browse runs one search round and returns every camera answer, one per
// host.
func (b *Browser) Browse(ctx context.Context) ([]Candidate, error) {
	type result struct {
		services []ssdp.Service
		err      error
	}
	ch := make(chan result, 1)
	wait := int(b.config.Wait / time.Second)
	if wait < 1 {
		wait = 1
	}
	go func() {
		s, err := b.config.Search(SearchAll, wait, b.config.LocalAddr)
		ch <- result{s, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-ch:
	}
	if r.err != nil {
		return nil, &wire.TransportError{Op: "ssdp search", Err: r.err}
	}
	return FilterCameras(r.services), nil
}

// Find searches until exactly one camera answers or ctx ends. More than one
// distinct host is an error naming them.
func (b *Browser) Find(ctx context.Context) (Candidate, error) {
	for {
		found, err := b.Browse(ctx)
		if err != nil && ctx.Err() == nil {
			b.debugLog("ssdp search failed", "error", err)
		}
		switch len(found) {
		case 0:
		case 1:
			return found[0], nil
		default:
			hosts := make([]string, len(found))
			for i, c := range found {
				hosts[i] = c.Host
			}
			return Candidate{}, fmt.Errorf("%w: %s", ErrMultipleDevices, strings.Join(hosts, ", "))
		}
		if ctx.Err() != nil {
			return Candidate{}, fmt.Errorf("%w: no SSDP answer with %s", wire.ErrDeviceNotFound, DescriptionPath)
		}
		if err != nil {
			select {
			case <-ctx.Done():
			case <-time.After(retryPause):
			}
		}
	}
}

// FilterCameras keeps answers whose Location path is the camera
// description, one per host, sorted by host.
func FilterCameras(services []ssdp.Service) []Candidate {
	byHost := map[string]Candidate{}
	for _, s := range services {
		u, err := url.Parse(s.Location)
		if err != nil || u.Path != DescriptionPath {
			continue
		}
		host := u.Hostname()
		if _, seen := byHost[host]; seen {
			continue
		}
		byHost[host] = Candidate{Host: host, Location: s.Location, Server: s.Server, USN: s.USN}
	}
	out := make([]Candidate, 0, len(byHost))
	for _, c := range byHost {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Candidate) int { return strings.Compare(a.Host, b.Host) })
	return out
}

func (b *Browser) debugLog(msg string, args ...any) {
	if b.config.Logger != nil {
		b.config.Logger.Debug(msg, args...)
	}
}
