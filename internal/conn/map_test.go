package conn_test

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senutpal/paxosvs/internal/conn"
	"github.com/senutpal/paxosvs/internal/wire"
)

func TestMapBroadcastReachesEveryPeer(t *testing.T) {
	m := conn.NewMap()

	uidA, uidB := uuid.New(), uuid.New()

	aClient, aServer := net.Pipe()
	bClient, bServer := net.Pipe()
	t.Cleanup(func() {
		aClient.Close()
		aServer.Close()
		bClient.Close()
		bServer.Close()
	})

	m.EnsureWriter(uidA, aClient)
	m.EnsureWriter(uidB, bClient)

	gotA := make(chan wire.Message, 1)
	gotB := make(chan wire.Message, 1)

	go func() {
		msg, err := wire.ReadMessage(aServer)
		if err == nil {
			gotA <- msg
		}
	}()
	go func() {
		msg, err := wire.ReadMessage(bServer)
		if err == nil {
			gotB <- msg
		}
	}()

	m.Broadcast(&wire.Learn{Value: "v"})

	for _, ch := range []chan wire.Message{gotA, gotB} {
		select {
		case msg := <-ch:
			learn, ok := msg.(*wire.Learn)
			require.True(t, ok)
			assert.Equal(t, "v", learn.Value)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for broadcast")
		}
	}

	assert.Equal(t, 2, m.Len())
}

func TestMapSendUnknownUIDFails(t *testing.T) {
	m := conn.NewMap()
	err := m.Send(uuid.New(), &wire.Learn{Value: "v"})
	assert.Error(t, err)
}

func TestMapOnFailRemovesEntry(t *testing.T) {
	m := conn.NewMap()
	uid := uuid.New()

	client, server := net.Pipe()

	failed := make(chan uuid.UUID, 1)
	m.OnFail(func(u uuid.UUID) { failed <- u })

	m.EnsureWriter(uid, client)
	server.Close()
	client.Close()

	m.Send(uid, &wire.Learn{Value: "v"})

	select {
	case u := <-failed:
		assert.Equal(t, uid, u)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fail callback")
	}

	assert.False(t, m.Contains(uid))
}
