package server

import (
	"testing"
	"time"

	natsd "github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/npezzotti/go-chatroom-client/internal/testutil"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNatsServer(t *testing.T) *natsd.Server {
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s
}

func newTestNatsRelay(t *testing.T, url string) (*NatsRelay, chan types.Message) {
	r, err := NewNatsRelay(url, testutil.TestLogger(t))
	require.NoError(t, err)
	t.Cleanup(r.Close)

	got := make(chan types.Message, 8)
	require.NoError(t, r.Subscribe(func(m types.Message) { got <- m }))
	require.NoError(t, r.nc.Flush())
	return r, got
}

func relayed(t *testing.T, ch chan types.Message) types.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed message")
		return types.Message{}
	}
}

func TestNatsRelayBetweenInstances(t *testing.T) {
	s := runNatsServer(t)

	a, fromA := newTestNatsRelay(t, s.ClientURL())
	_, fromB := newTestNatsRelay(t, s.ClientURL())

	msg := types.Message{CmNo: 3, ChatNo: 2, Uid: "u1", Name: "Alice", Message: "hi"}
	require.NoError(t, a.Publish(msg))

	assert.Equal(t, msg, relayed(t, fromA), "expected the publishing instance to deliver locally")
	assert.Equal(t, msg, relayed(t, fromB), "expected the other instance to receive the message")
}

func TestNatsRelayScopesToSubject(t *testing.T) {
	s := runNatsServer(t)
	_, got := newTestNatsRelay(t, s.ClientURL())

	nc, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	require.NoError(t, nc.Publish("chatroom.4", []byte(`not json`)))
	require.NoError(t, nc.Publish("chatroom.4", []byte(`{"cmNo":1,"chatNo":5,"message":"wrong room"}`)))
	require.NoError(t, nc.Publish("chatroom.x", []byte(`{"cmNo":2,"message":"bad subject"}`)))
	require.NoError(t, nc.Publish("chatroom.4", []byte(`{"cmNo":3,"message":"no room id"}`)))
	require.NoError(t, nc.Flush())

	m := relayed(t, got)
	assert.Equal(t, 3, m.CmNo, "expected invalid messages to be dropped")
	assert.Equal(t, 4, m.ChatNo, "expected the room to come from the subject")
}

func TestSubjectRoom(t *testing.T) {
	tests := []struct {
		subject string
		chatNo  int
		ok      bool
	}{
		{"chatroom.12", 12, true},
		{"chatroom.0", 0, false},
		{"chatroom.x", 0, false},
		{"other.12", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			chatNo, ok := subjectRoom(tt.subject)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.chatNo, chatNo)
			}
		})
	}
}
