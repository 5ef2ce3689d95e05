package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeardownClearsConnectionState(t *testing.T) {
	s := New(TransportWiFi, "")
	s.SetIdentity(Identity{Address: "192.168.54.1", Name: "G9M2", UDN: "uuid:4D454930-0100-1000-8001-A0CD25A7D1C6"})
	s.SetState(StateReady)
	s.SetToken("abc")
	s.SetBusy(true)
	s.UpdateSnapshot(map[string]string{"cammode": "rec"})

	epoch := s.Epoch()
	var ranLocked bool
	prev := s.Teardown(func() { ranLocked = true })

	assert.Equal(t, StateReady, prev)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, epoch+1, s.Epoch())
	assert.Empty(t, s.Token())
	assert.False(t, s.Busy())
	assert.True(t, ranLocked)

	snap, stale := s.Snapshot()
	assert.True(t, stale)
	assert.Equal(t, "rec", snap["cammode"], "last values survive for diagnostics")
	assert.Equal(t, "G9M2", s.Identity().Name, "identity survives teardown")
}

func TestAdvanceRejectsStaleEpoch(t *testing.T) {
	s := New(TransportBLE, "")
	epoch := s.Epoch()
	s.Teardown(nil)
	_, ok := s.Advance(epoch, StateReady)
	assert.False(t, ok)
	assert.Equal(t, StateDisconnected, s.State())

	_, ok = s.Advance(s.Epoch(), StateTransportConnected)
	assert.True(t, ok)
}

func TestClosedIsTerminal(t *testing.T) {
	s := New(TransportBLE, "")
	s.SetState(StateClosed)
	s.SetState(StateReady)
	s.Teardown(nil)
	assert.Equal(t, StateClosed, s.State())
}

func TestIdentityPinning(t *testing.T) {
	t.Run("discovered is forgotten", func(t *testing.T) {
		s := New(TransportBLE, "")
		s.SetIdentity(Identity{Address: "AA:BB"})
		s.ForgetDevice()
		assert.False(t, s.Identity().Known())
	})
	t.Run("pinned is kept", func(t *testing.T) {
		s := New(TransportWiFi, "192.168.54.1")
		s.ForgetDevice()
		assert.Equal(t, "192.168.54.1", s.Identity().Address)
		assert.True(t, s.Pinned())
	})
	t.Run("fields are write once", func(t *testing.T) {
		s := New(TransportWiFi, "192.168.54.1")
		s.SetIdentity(Identity{Address: "10.0.0.1", Model: "DC-G9M2"})
		id := s.Identity()
		assert.Equal(t, "192.168.54.1", id.Address)
		assert.Equal(t, "DC-G9M2", id.Model)
	})
}

func TestUpdateSnapshotReportsChanges(t *testing.T) {
	s := New(TransportWiFi, "")
	changed := s.UpdateSnapshot(map[string]string{"cammode": "rec", "batt": "3/3"})
	assert.ElementsMatch(t, []string{"cammode", "batt"}, changed)
	changed = s.UpdateSnapshot(map[string]string{"cammode": "play", "batt": "3/3"})
	assert.Equal(t, []string{"cammode"}, changed)
	_, stale := s.Snapshot()
	assert.False(t, stale)
}

func TestUpdateSnapshotAtDropsValuesFromBeforeTeardown(t *testing.T) {
	s := New(TransportWiFi, "")
	s.SetState(StateReady)
	_, epoch := s.Ready()

	s.Teardown(nil)

	changed, ok := s.UpdateSnapshotAt(epoch, map[string]string{"cammode": "rec"})
	assert.False(t, ok)
	assert.Empty(t, changed)
	snap, stale := s.Snapshot()
	assert.True(t, stale, "a poll from the old connection must not clear the stale marker")
	assert.NotContains(t, snap, "cammode")

	changed, ok = s.UpdateSnapshotAt(s.Epoch(), map[string]string{"cammode": "rec"})
	assert.True(t, ok)
	assert.Equal(t, []string{"cammode"}, changed)
	_, stale = s.Snapshot()
	assert.False(t, stale)
}

func TestCommandSlotIsExclusive(t *testing.T) {
	s := New(TransportWiFi, "")
	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := s.AcquireCommand(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			defer release()
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestAcquireCommandHonoursContext(t *testing.T) {
	s := New(TransportWiFi, "")
	release, err := s.AcquireCommand(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.AcquireCommand(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // second release is a no-op
	release2, err := s.AcquireCommand(context.Background())
	require.NoError(t, err)
	release2()
}
