package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-relay/internal/signal"
	"signal-relay/internal/storage"
)

// rendezvousStore holds every LatestOrderMessage caller until a second one
// arrives or the wait expires, so unserialized callers read the same state.
type rendezvousStore struct {
	*storage.MemoryStore
	arrived chan struct{}
	wait    time.Duration
}

func (s *rendezvousStore) LatestOrderMessage(ctx context.Context, orderID string, channelID, messageID int64) (storage.MessageRecord, error) {
	s.arrived <- struct{}{}
	deadline := time.After(s.wait)
	for len(s.arrived) < 2 {
		select {
		case <-deadline:
			return s.MemoryStore.LatestOrderMessage(ctx, orderID, channelID, messageID)
		case <-time.After(time.Millisecond):
		}
	}
	return s.MemoryStore.LatestOrderMessage(ctx, orderID, channelID, messageID)
}

func TestConcurrentHitsOnOneOrderNotifyOnce(t *testing.T) {
	memory := storage.NewMemoryStore()
	ctx := context.Background()

	msg, event := entry(111)
	_, err := NewGate(memory, memory, zerolog.Nop()).Apply(ctx, msg, event, "fx_gold_killer")
	require.NoError(t, err)

	store := &rendezvousStore{MemoryStore: memory, arrived: make(chan struct{}, 2), wait: 200 * time.Millisecond}
	gate := NewGate(store, memory, zerolog.Nop())

	var notified atomic.Int32
	var wg sync.WaitGroup
	for i, id := range []int64{150, 151} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, e := outcome(id, signal.ActionTPHit, base.Add(time.Duration(i+1)*time.Minute))
			d, err := gate.Apply(ctx, m, e, "fx_gold_killer")
			assert.NoError(t, err)
			if d.ShouldNotify {
				notified.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), notified.Load(), "back-to-back TP hits on one order notify once")
	assert.Zero(t, gate.locks.size())
}

func TestChannelLocksAreIndependent(t *testing.T) {
	locks := newChannelLocks()

	unlockA := locks.lock(1)
	done := make(chan struct{})
	go func() {
		unlock := locks.lock(2)
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another channel blocked")
	}

	blocked := make(chan struct{})
	go func() {
		unlock := locks.lock(1)
		unlock()
		close(blocked)
	}()
	select {
	case <-blocked:
		t.Fatal("second holder of the same channel did not wait")
	case <-time.After(50 * time.Millisecond):
	}

	unlockA()
	<-blocked
	assert.Zero(t, locks.size())
}
