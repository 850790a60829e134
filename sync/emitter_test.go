package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterBroadcastsToAllSubscribers(t *testing.T) {
	e := NewEmitter()
	chA := make(chan Emission, 1)
	chB := make(chan Emission, 1)
	e.Subscribe(chA)
	e.Subscribe(chB)

	e.Emit(Emission{Kind: EventPeerAdded, PeerID: "1000"})

	require.Len(t, chA, 1)
	require.Len(t, chB, 1)
	assert.Equal(t, "1000", (<-chA).PeerID)
	assert.Equal(t, "1000", (<-chB).PeerID)
}

func TestEmitterUnsubscribeStopsDelivery(t *testing.T) {
	e := NewEmitter()
	ch := make(chan Emission, 1)
	unsub := e.Subscribe(ch)
	unsub()

	e.Emit(Emission{Kind: EventPeerAdded, PeerID: "1000"})

	assert.Empty(t, ch)
}

func TestEmitterDropsOnFullSubscriberChannel(t *testing.T) {
	e := NewEmitter()
	ch := make(chan Emission) // unbuffered, nobody reading
	e.Subscribe(ch)

	done := make(chan struct{})
	go func() {
		e.Emit(Emission{Kind: EventPeerAdded, PeerID: "1000"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full subscriber channel")
	}
}

func TestWaitUntilReadyReturnsOnMatchingEmission(t *testing.T) {
	e := NewEmitter()
	current := func() []ReadyState { return nil }

	errCh := make(chan error, 1)
	go func() {
		errCh <- WaitUntilReady(context.Background(), e, current, "d1", func(s []ReadyState) bool {
			return len(s) == 1 && s[0].Status == StatusRespondedWithData
		})
	}()

	// give WaitUntilReady a moment to subscribe before emitting
	time.Sleep(20 * time.Millisecond)
	e.Emit(Emission{
		Kind:  EventReadyStateChanged,
		DocID: "d1",
		ReadyStates: []ReadyState{
			{ChannelID: 1, Status: StatusRespondedWithData},
		},
	})

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitUntilReady never returned")
	}
}

func TestWaitUntilReadyIgnoresEmissionsForOtherDocs(t *testing.T) {
	e := NewEmitter()
	current := func() []ReadyState { return nil }

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- WaitUntilReady(ctx, e, current, "d1", func(s []ReadyState) bool { return len(s) > 0 })
	}()

	e.Emit(Emission{Kind: EventReadyStateChanged, DocID: "other-doc", ReadyStates: []ReadyState{{ChannelID: 1}}})

	err := <-errCh
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
