package register

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/lumix-remote/lumix-go/pkg/log"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Capability is a bit set of what a register supports.
type Capability uint8

const (
	CapRead Capability = 1 << iota
	CapWrite
	CapWriteNoResponse
	CapNotify
)

// Has reports whether all bits in c2 are set.
func (c Capability) Has(c2 Capability) bool { return c&c2 == c2 }

// String renders the set as "rwWn" style flags.
func (c Capability) String() string {
	b := []byte("----")
	if c.Has(CapRead) {
		b[0] = 'r'
	}
	if c.Has(CapWrite) {
		b[1] = 'w'
	}
	if c.Has(CapWriteNoResponse) {
		b[2] = 'W'
	}
	if c.Has(CapNotify) {
		b[3] = 'n'
	}
	return string(b)
}

// DefaultSkip lists notifiable registers that must not be subscribed.
var DefaultSkip = []uint16{0x0039, 0x003F, 0x0045, 0x0069}

// ErrLinkDropped is returned when the link went away during or before an
// operation. It matches wire.ErrTransport.
var ErrLinkDropped error = linkDropped{}

type linkDropped struct{}

func (linkDropped) Error() string          { return "register link dropped" }
func (linkDropped) Is(target error) bool { return target == wire.ErrTransport }

// Characteristic is one entry reported by the link.
type Characteristic struct {
	// Handle is the declaration handle.
	Handle uint16
	UUID   string
	Caps   Capability
}

// Link is the raw register transport. Addresses passed to it are
// declaration handles.
type Link interface {
	Characteristics(ctx context.Context) ([]Characteristic, error)
	Read(ctx context.Context, handle uint16) ([]byte, error)
	Write(ctx context.Context, handle uint16, data []byte, withResponse bool) error
	Subscribe(ctx context.Context, handle uint16) error
}

// Register is a catalog entry keyed by logical address.
type Register struct {
	Address uint16
	Handle  uint16
	UUID    string
	Caps    Capability
}

// Source tells where a cached value came from.
type Source uint8

const (
	SourceRead Source = iota
	SourceWrite
	SourceNotify
)

// Value is a last-known register value.
type Value struct {
	Data   []byte
	At     time.Time
	Source Source
}

// NotifyFunc receives notifications by logical address.
type NotifyFunc func(addr uint16, data []byte)

// Config configures an Access.
type Config struct {
	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger

	// Protocol receives register events. May be nil.
	Protocol *log.Scope
}

// Access maps logical register addresses onto a Link.
type Access struct {
	link   Link
	config Config

	mu      sync.RWMutex
	catalog map[uint16]Register

	cache *xsync.MapOf[uint16, Value]

	lmu       sync.RWMutex
	listeners map[int]NotifyFunc
	nextID    int
}

// New creates an Access over link. The catalog is empty until Load.
func New(link Link, config Config) *Access {
	return &Access{
		link:      link,
		config:    config,
		cache:     xsync.NewMapOf[uint16, Value](),
		listeners: map[int]NotifyFunc{},
	}
}

// AddressOf converts a declaration handle to its logical address.
func AddressOf(handle uint16) uint16 { return handle + 1 }

// Load enumerates the link and builds the catalog, replacing any previous
// one.
func (a *Access) Load(ctx context.Context) error {
	chars, err := a.link.Characteristics(ctx)
	if err != nil {
		return a.dropped("enumerate", err)
	}
	catalog := make(map[uint16]Register, len(chars))
	for _, c := range chars {
		addr := AddressOf(c.Handle)
		catalog[addr] = Register{Address: addr, Handle: c.Handle, UUID: c.UUID, Caps: c.Caps}
	}
	a.mu.Lock()
	a.catalog = catalog
	a.mu.Unlock()
	a.debugLog("register catalog loaded", "count", len(catalog))
	return nil
}

// Invalidate discards the catalog. Calls fail with ErrLinkDropped until the
// next Load. Cached values are kept for diagnostics.
func (a *Access) Invalidate() {
	a.mu.Lock()
	a.catalog = nil
	a.mu.Unlock()
}

// Loaded reports whether a catalog is present.
func (a *Access) Loaded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.catalog != nil
}

// Catalog returns the registers sorted by address.
func (a *Access) Catalog() []Register {
	a.mu.RLock()
	out := make([]Register, 0, len(a.catalog))
	for _, r := range a.catalog {
		out = append(out, r)
	}
	a.mu.RUnlock()
	slices.SortFunc(out, func(x, y Register) int { return int(x.Address) - int(y.Address) })
	return out
}

// Lookup returns the register at addr.
func (a *Access) Lookup(addr uint16) (Register, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.catalog == nil {
		return Register{}, fmt.Errorf("register 0x%04x: %w", addr, ErrLinkDropped)
	}
	r, ok := a.catalog[addr]
	if !ok {
		return Register{}, fmt.Errorf("register 0x%04x: %w: unknown address", addr, wire.ErrInvalidParameter)
	}
	return r, nil
}

// Read reads addr from the device.
func (a *Access) Read(ctx context.Context, addr uint16) ([]byte, error) {
	r, err := a.Lookup(addr)
	if err != nil {
		return nil, err
	}
	if !r.Caps.Has(CapRead) {
		return nil, fmt.Errorf("register 0x%04x: %w: not readable", addr, wire.ErrInvalidParameter)
	}
	data, err := a.link.Read(ctx, r.Handle)
	if err != nil {
		return nil, a.dropped(fmt.Sprintf("read 0x%04x", addr), err)
	}
	a.cache.Store(addr, Value{Data: slices.Clone(data), At: time.Now(), Source: SourceRead})
	a.config.Protocol.Register(log.RegisterRead, addr, data)
	return data, nil
}

// Write writes data to addr. With ack set the write waits for the device's
// response.
func (a *Access) Write(ctx context.Context, addr uint16, data []byte, ack bool) error {
	r, err := a.Lookup(addr)
	if err != nil {
		return err
	}
	want := CapWriteNoResponse
	if ack {
		want = CapWrite
	}
	if !r.Caps.Has(want) && !r.Caps.Has(CapWrite) {
		return fmt.Errorf("register 0x%04x: %w: not writable", addr, wire.ErrInvalidParameter)
	}
	a.config.Protocol.Register(log.RegisterWrite, addr, data)
	if err := a.link.Write(ctx, r.Handle, data, ack); err != nil {
		return a.dropped(fmt.Sprintf("write 0x%04x", addr), err)
	}
	a.cache.Store(addr, Value{Data: slices.Clone(data), At: time.Now(), Source: SourceWrite})
	return nil
}

// WriteIfChanged writes only when data differs from the last known value.
// It reports whether a write happened.
func (a *Access) WriteIfChanged(ctx context.Context, addr uint16, data []byte, ack bool) (bool, error) {
	if v, ok := a.cache.Load(addr); ok && slices.Equal(v.Data, data) {
		return false, nil
	}
	if err := a.Write(ctx, addr, data, ack); err != nil {
		return false, err
	}
	return true, nil
}

// Subscribe enables notifications on every notifiable register not in
// skip. It returns the subscribed addresses.
func (a *Access) Subscribe(ctx context.Context, skip []uint16) ([]uint16, error) {
	var subscribed []uint16
	for _, r := range a.Catalog() {
		if !r.Caps.Has(CapNotify) || slices.Contains(skip, r.Address) {
			continue
		}
		if err := a.link.Subscribe(ctx, r.Handle); err != nil {
			return subscribed, a.dropped(fmt.Sprintf("subscribe 0x%04x", r.Address), err)
		}
		subscribed = append(subscribed, r.Address)
	}
	a.debugLog("notifications enabled", "count", len(subscribed))
	return subscribed, nil
}

// HandleNotification is called by the link for every notification, keyed
// by declaration handle.
func (a *Access) HandleNotification(handle uint16, data []byte) {
	addr := AddressOf(handle)
	data = slices.Clone(data)
	a.cache.Store(addr, Value{Data: data, At: time.Now(), Source: SourceNotify})
	a.config.Protocol.Register(log.RegisterNotify, addr, data)

	a.lmu.RLock()
	fns := make([]NotifyFunc, 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.lmu.RUnlock()
	for _, fn := range fns {
		fn(addr, data)
	}
}

// OnNotify registers fn for notifications. The returned func removes it.
func (a *Access) OnNotify(fn NotifyFunc) func() {
	a.lmu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.lmu.Unlock()
	return func() {
		a.lmu.Lock()
		delete(a.listeners, id)
		a.lmu.Unlock()
	}
}

// Cached returns the last known value of addr.
func (a *Access) Cached(addr uint16) (Value, bool) {
	return a.cache.Load(addr)
}

// Snapshot returns a copy of all cached values.
func (a *Access) Snapshot() map[uint16]Value {
	out := make(map[uint16]Value, a.cache.Size())
	a.cache.Range(func(k uint16, v Value) bool {
		out[k] = v
		return true
	})
	return out
}

// dropped invalidates the catalog and wraps cause as ErrLinkDropped.
// Cancellation leaves the catalog alone.
func (a *Access) dropped(op string, cause error) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return &wire.TransportError{Op: op, Err: cause}
	}
	a.Invalidate()
	a.config.Protocol.Error(log.LayerLink, op, cause)
	a.debugLog("link dropped", "op", op, "error", cause)
	return fmt.Errorf("%s: %w: %w", op, ErrLinkDropped, cause)
}

func (a *Access) debugLog(msg string, args ...any) {
	if a.config.Logger != nil {
		a.config.Logger.Debug(msg, args...)
	}
}
