package register

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumix-remote/lumix-go/pkg/interaction"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

type write struct {
	handle uint16
	data   []byte
	ack    bool
}

type fakeLink struct {
	mu         sync.Mutex
	chars      []Characteristic
	values     map[uint16][]byte
	writes     []write
	subscribed []uint16
	failNext   error
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		chars: []Characteristic{
			{Handle: 0x0029, Caps: CapRead},                       // 0x002A nonce
			{Handle: 0x002B, Caps: CapWrite},                      // 0x002C
			{Handle: 0x0038, Caps: CapRead | CapNotify},           // 0x0039 skipped
			{Handle: 0x0067, Caps: CapWrite | CapNotify},          // 0x0068 capture
			{Handle: 0x0073, Caps: CapWriteNoResponse},            // 0x0074
			{Handle: 0x003D, Caps: CapWriteNoResponse | CapNotify}, // 0x003E
		},
		values: map[uint16][]byte{0x0029: {0x09, 0xE9, 0xC4, 0x28}},
	}
}

func (f *fakeLink) Characteristics(ctx context.Context) ([]Characteristic, error) {
	return f.chars, nil
}

func (f *fakeLink) take() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeLink) Read(ctx context.Context, handle uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take(); err != nil {
		return nil, err
	}
	return f.values[handle], nil
}

func (f *fakeLink) Write(ctx context.Context, handle uint16, data []byte, ack bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take(); err != nil {
		return err
	}
	f.writes = append(f.writes, write{handle, data, ack})
	return nil
}

func (f *fakeLink) Subscribe(ctx context.Context, handle uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, handle)
	return nil
}

func loaded(t *testing.T) (*Access, *fakeLink) {
	t.Helper()
	link := newFakeLink()
	a := New(link, Config{})
	require.NoError(t, a.Load(context.Background()))
	return a, link
}

func TestLoadAppliesAddressOffset(t *testing.T) {
	a, _ := loaded(t)
	r, err := a.Lookup(0x002A)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0029), r.Handle)

	_, err = a.Lookup(0x0029)
	assert.ErrorIs(t, err, wire.ErrInvalidParameter)

	cat := a.Catalog()
	require.Len(t, cat, 6)
	assert.Equal(t, uint16(0x002A), cat[0].Address)
}

func TestReadWrite(t *testing.T) {
	a, link := loaded(t)
	ctx := context.Background()

	data, err := a.Read(ctx, 0x002A)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x09, 0xE9, 0xC4, 0x28}, data)

	require.NoError(t, a.Write(ctx, 0x0068, []byte{1}, true))
	require.NoError(t, a.Write(ctx, 0x0074, []byte{2}, false))
	assert.Equal(t, []write{{0x0067, []byte{1}, true}, {0x0073, []byte{2}, false}}, link.writes)

	v, ok := a.Cached(0x0068)
	require.True(t, ok)
	assert.Equal(t, SourceWrite, v.Source)

	t.Run("capability checks", func(t *testing.T) {
		_, err := a.Read(ctx, 0x0068)
		assert.ErrorIs(t, err, wire.ErrInvalidParameter)
		assert.ErrorIs(t, a.Write(ctx, 0x002A, []byte{0}, true), wire.ErrInvalidParameter)
		assert.ErrorIs(t, a.Write(ctx, 0x0074, []byte{0}, true), wire.ErrInvalidParameter)
	})
}

func TestWriteIfChanged(t *testing.T) {
	a, link := loaded(t)
	ctx := context.Background()

	wrote, err := a.WriteIfChanged(ctx, 0x003E, []byte{1, 2}, false)
	require.NoError(t, err)
	assert.True(t, wrote)
	wrote, err = a.WriteIfChanged(ctx, 0x003E, []byte{1, 2}, false)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Len(t, link.writes, 1)
}

func TestSubscribeSkipsListed(t *testing.T) {
	a, link := loaded(t)
	got, err := a.Subscribe(context.Background(), DefaultSkip)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x003E, 0x0068}, got)
	assert.ElementsMatch(t, []uint16{0x003D, 0x0067}, link.subscribed)
}

func TestLinkDropInvalidatesCatalog(t *testing.T) {
	a, link := loaded(t)
	ctx := context.Background()

	link.failNext = io.EOF
	err := a.Write(ctx, 0x0068, []byte{4}, true)
	assert.ErrorIs(t, err, ErrLinkDropped)
	assert.ErrorIs(t, err, wire.ErrTransport)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, a.Loaded())

	_, err = a.Read(ctx, 0x002A)
	assert.ErrorIs(t, err, ErrLinkDropped, "no reuse of a dead catalog")

	require.NoError(t, a.Load(ctx))
	_, err = a.Read(ctx, 0x002A)
	assert.NoError(t, err)
}

func TestCancelledReadKeepsCatalog(t *testing.T) {
	a, link := loaded(t)
	link.failNext = context.Canceled
	_, err := a.Read(context.Background(), 0x002A)
	assert.ErrorIs(t, err, wire.ErrTransport)
	assert.True(t, a.Loaded())
}

func TestNotifications(t *testing.T) {
	a, _ := loaded(t)
	var got []uint16
	remove := a.OnNotify(func(addr uint16, data []byte) { got = append(got, addr) })

	a.HandleNotification(0x0067, []byte{5})
	v, ok := a.Cached(0x0068)
	require.True(t, ok)
	assert.Equal(t, SourceNotify, v.Source)
	assert.Equal(t, []byte{5}, v.Data)

	remove()
	a.HandleNotification(0x0067, []byte{6})
	assert.Equal(t, []uint16{0x0068}, got)
	assert.Len(t, a.Snapshot(), 1)
}

func TestDispatch(t *testing.T) {
	a, _ := loaded(t)
	ctx := context.Background()

	res, err := a.Dispatch(ctx, ReadCall(0x002A))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusOK, res.Status)
	assert.Equal(t, []byte{0x09, 0xE9, 0xC4, 0x28}, res.Payload)

	_, err = a.Dispatch(ctx, WriteCall(0x0068, []byte{1}))
	assert.NoError(t, err)

	_, err = a.Dispatch(ctx, otherCall{})
	assert.ErrorIs(t, err, wire.ErrInvalidParameter)

	assert.Equal(t, "write 0x0068=0405", WriteCall(0x0068, []byte{4, 5}).Target())
	assert.Equal(t, "read 0x002a", ReadCall(0x002A).Target())
	assert.False(t, errors.Is(ErrLinkDropped, wire.ErrBusy))
}

type otherCall struct{}

func (otherCall) Target() string { return "other" }

var _ interaction.Call = otherCall{}
