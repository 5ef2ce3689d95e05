package hostwifi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumix-remote/lumix-go/pkg/wire"
)

type fakeActivation struct {
	states []State
	i      int
}

func (a *fakeActivation) State() (State, error) {
	st := a.states[a.i]
	if a.i < len(a.states)-1 {
		a.i++
	}
	return st, nil
}

type fakeBackend struct {
	aps     []AccessPoint
	scanErr error
	act     *fakeActivation
	joined  AccessPoint
	psk     string
}

func (b *fakeBackend) Scan(context.Context) ([]AccessPoint, error) {
	return b.aps, b.scanErr
}

func (b *fakeBackend) Activate(_ context.Context, ap AccessPoint, psk string) (Activation, error) {
	b.joined, b.psk = ap, psk
	return b.act, nil
}

func TestSelect(t *testing.T) {
	aps := []AccessPoint{
		{SSID: "HomeNet", Strength: 90},
		{SSID: "G9M2-11AA22", Strength: 40},
		{SSID: "G9M2-33BB44", Strength: 70},
		{SSID: "G9M2", Strength: 10},
	}

	ap, ok := Select(aps, "G9M2")
	require.True(t, ok)
	assert.Equal(t, "G9M2", ap.SSID, "exact match wins over stronger prefix matches")

	ap, ok = Select(aps, "G9M2-")
	require.True(t, ok)
	assert.Equal(t, "G9M2-33BB44", ap.SSID)

	_, ok = Select(aps, "GH7")
	assert.False(t, ok)
}

func TestJoin(t *testing.T) {
	cfg := Config{Timeout: time.Second, PollInterval: time.Millisecond}

	t.Run("activated", func(t *testing.T) {
		b := &fakeBackend{
			aps: []AccessPoint{{SSID: "G9M2-11AA22", Strength: 60}},
			act: &fakeActivation{states: []State{StateActivating, StateActivating, StateActivated}},
		}
		ssid, err := NewJoiner(b, cfg).Join(context.Background(), "", "secret12")
		require.NoError(t, err)
		assert.Equal(t, "G9M2-11AA22", ssid)
		assert.Equal(t, "secret12", b.psk)
	})

	t.Run("no match", func(t *testing.T) {
		b := &fakeBackend{aps: []AccessPoint{{SSID: "HomeNet"}}}
		_, err := NewJoiner(b, cfg).Join(context.Background(), "G9M2", "")
		assert.ErrorIs(t, err, wire.ErrDeviceNotFound)
	})

	t.Run("scan error", func(t *testing.T) {
		b := &fakeBackend{scanErr: errors.New("radio off")}
		_, err := NewJoiner(b, cfg).Join(context.Background(), "G9M2", "")
		assert.ErrorIs(t, err, wire.ErrTransport)
	})

	t.Run("activation fails", func(t *testing.T) {
		b := &fakeBackend{
			aps: []AccessPoint{{SSID: "G9M2-11AA22"}},
			act: &fakeActivation{states: []State{StateActivating, StateFailed}},
		}
		_, err := NewJoiner(b, cfg).Join(context.Background(), "G9M2", "")
		assert.ErrorIs(t, err, wire.ErrTransport)
		assert.ErrorIs(t, err, ErrActivationFailed)
	})

	t.Run("timeout", func(t *testing.T) {
		b := &fakeBackend{
			aps: []AccessPoint{{SSID: "G9M2-11AA22"}},
			act: &fakeActivation{states: []State{StateActivating}},
		}
		j := NewJoiner(b, Config{Timeout: 20 * time.Millisecond, PollInterval: time.Millisecond})
		_, err := j.Join(context.Background(), "G9M2", "")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
