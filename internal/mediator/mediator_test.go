package mediator_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senutpal/paxosvs/internal/hostaddr"
	"github.com/senutpal/paxosvs/internal/identity"
	"github.com/senutpal/paxosvs/internal/mediator"
	"github.com/senutpal/paxosvs/internal/wire"
)

var dialDelays = []time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
}

// TestTwoPeersHandshakeAndExchangeMessages starts two real mediators over
// loopback TCP, lets them dial and greet each other (an authenticated
// Server handshake), and checks a message sent by one arrives at the other's
// handler.
func TestTwoPeersHandshakeAndExchangeMessages(t *testing.T) {
	secret := "shared-secret"

	nodeA := identity.Node{UID: uuid.New(), Secret: secret}
	nodeB := identity.Node{UID: uuid.New(), Secret: secret}

	portA, err := hostaddr.ParsePort("19401")
	require.NoError(t, err)
	portB, err := hostaddr.ParsePort("19402")
	require.NoError(t, err)

	hostA, err := hostaddr.ParseHostPort("127.0.0.1:19401")
	require.NoError(t, err)
	hostB, err := hostaddr.ParseHostPort("127.0.0.1:19402")
	require.NoError(t, err)

	medA := mediator.New(nodeA, []hostaddr.Host{hostB})
	medB := mediator.New(nodeB, []hostaddr.Host{hostA})
	t.Cleanup(func() {
		medA.Close()
		medB.Close()
	})

	received := make(chan wire.Message, 1)

	go medA.Start(portA, dialDelays, func(uid uuid.UUID, m wire.Message) error { return nil })
	medB.Start(portB, dialDelays, func(uid uuid.UUID, m wire.Message) error {
		received <- m
		return nil
	})

	assert.Equal(t, 1, medA.Majority())
	assert.Equal(t, 1, medB.Majority())

	require.Eventually(t, func() bool {
		return medA.Send(nodeB.UID, &wire.Learn{Value: "hello"}) == nil
	}, 2*time.Second, 20*time.Millisecond)

	select {
	case m := <-received:
		learn, ok := m.(*wire.Learn)
		require.True(t, ok)
		assert.Equal(t, "hello", learn.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message to arrive at peer B")
	}
}
