package main

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/go-chatroom-client/internal/chat"
	"github.com/npezzotti/go-chatroom-client/internal/realtime"
	"github.com/npezzotti/go-chatroom-client/internal/rest"
	"github.com/npezzotti/go-chatroom-client/internal/session"
	"github.com/npezzotti/go-chatroom-client/internal/stats"
	"github.com/npezzotti/go-chatroom-client/internal/testutil"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tcases := []struct {
		input string
		name  string
		arg   string
	}{
		{input: "hello there", name: "", arg: "hello there"},
		{input: "  /join 3 ", name: "join", arg: "3"},
		{input: "/create  Weekend plans", name: "create", arg: "Weekend plans"},
		{input: "/LOGOUT", name: "logout", arg: ""},
		{input: "", name: "", arg: ""},
	}

	for _, tc := range tcases {
		t.Run(tc.input, func(t *testing.T) {
			name, arg := parseCommand(tc.input)
			assert.Equal(t, tc.name, name)
			assert.Equal(t, tc.arg, arg)
		})
	}
}

func TestFormatMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local)

	tcases := []struct {
		name     string
		msg      types.Message
		expected string
	}{
		{
			name:     "named sender",
			msg:      types.Message{Uid: "u1", Name: "Alice", Message: "hi", CDate: types.Timestamp{Time: at}},
			expected: "[09:30] Alice: hi",
		},
		{
			name:     "falls back to uid",
			msg:      types.Message{Uid: "u1", Message: "hi", CDate: types.Timestamp{Time: at}},
			expected: "[09:30] u1: hi",
		},
		{
			name:     "no timestamp",
			msg:      types.Message{Name: "Alice", Message: "hi"},
			expected: "[--:--] Alice: hi",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, formatMessage(tc.msg))
		})
	}
}

func TestFormatRoom(t *testing.T) {
	assert.Equal(t, "#5 General", formatRoom(types.Room{ChatNo: 5, Title: "General"}))
}

// fakeBackend serves the REST calls of both the prompt and the coordinator.
type fakeBackend struct {
	rooms    []types.Room
	history  map[int][]types.Message
	roomsErr error
	histErr  error
}

func (b *fakeBackend) Login(_ context.Context, email, _ string) (types.Identity, error) {
	return types.Identity{Uid: "u1", Name: "Alice", AccessToken: "tok"}, nil
}

func (b *fakeBackend) ListRooms(context.Context, string) ([]types.Room, error) {
	return b.rooms, b.roomsErr
}

func (b *fakeBackend) CreateRoom(_ context.Context, _, title string) (types.Room, error) {
	return types.Room{ChatNo: len(b.rooms) + 1, Title: title}, nil
}

func (b *fakeBackend) LeaveRoom(context.Context, string, int) error {
	return nil
}

func (b *fakeBackend) Messages(_ context.Context, chatNo int) ([]types.Message, error) {
	return b.history[chatNo], nil
}

func (b *fakeBackend) RoomMessages(_ context.Context, chatNo int) ([]types.Message, error) {
	if b.histErr != nil {
		return nil, b.histErr
	}
	msgs, ok := b.history[chatNo]
	if !ok {
		return nil, &rest.Error{StatusCode: http.StatusNotFound, Message: "Not Found"}
	}
	return msgs, nil
}

type stubConn struct{}

type stubSub struct{}

func (stubSub) Unsubscribe() {}

func (stubConn) Connect(context.Context, func()) error { return nil }
func (stubConn) Connected() bool { return true }
func (stubConn) PublishJSON(string, any) bool { return true }
func (stubConn) OnStateChange(func(realtime.State)) {}
func (stubConn) Close() {}

func (stubConn) Subscribe(string, func([]byte)) (chat.Subscription, error) {
	return stubSub{}, nil
}

func newTestRepl(t *testing.T, backend *fakeBackend) (*repl, *bytes.Buffer) {
	logger := testutil.TestLogger(t)
	store := session.NewStore(logger, &session.MemoryPersister{})
	store.Login(types.Identity{Uid: "u1", Name: "Alice", AccessToken: "tok"})

	dial := func(string) (chat.Conn, error) { return stubConn{}, nil }
	coord := chat.NewCoordinator(store, backend, dial, stats.Nop{}, logger)
	t.Cleanup(coord.Close)

	out := &bytes.Buffer{}
	return &repl{
		coord:   coord,
		store:   store,
		backend: backend,
		timeout: time.Second,
		out:     out,
	}, out
}

func TestHistoryCommand(t *testing.T) {
	backend := &fakeBackend{
		rooms:   []types.Room{{ChatNo: 1, Title: "General"}},
		history: map[int][]types.Message{1: {{CmNo: 1, ChatNo: 1, Name: "Bob", Message: "hi"}}, 2: {}},
	}

	tcases := []struct {
		name    string
		input   string
		histErr error
		want    string
		wantErr string
	}{
		{name: "other room by number", input: "/history 1", want: "[--:--] Bob: hi\n"},
		{name: "other room by title", input: "/history general", want: "[--:--] Bob: hi\n"},
		{name: "empty room", input: "/history 2", want: "* no messages in #2\n"},
		{name: "unknown room", input: "/history 9", wantErr: "room #9 does not exist"},
		{name: "rejected token", input: "/history 1", histErr: &rest.Error{StatusCode: http.StatusUnauthorized}, wantErr: errSessionExpired.Error()},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			backend.histErr = tc.histErr
			r, out := newTestRepl(t, backend)
			require.NoError(t, r.coord.Refresh(context.Background()))

			more, err := r.handle(tc.input)
			assert.True(t, more)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.String())
		})
	}
}

func TestRejectedTokenLogsOut(t *testing.T) {
	backend := &fakeBackend{histErr: &rest.Error{StatusCode: http.StatusUnauthorized}}
	r, _ := newTestRepl(t, backend)

	_, err := r.handle("/history 1")
	assert.ErrorIs(t, err, errSessionExpired)
	assert.True(t, r.store.Identity().Anonymous(), "expected the session to end")
}

func TestStartWithRejectedToken(t *testing.T) {
	backend := &fakeBackend{roomsErr: &rest.Error{StatusCode: http.StatusUnauthorized}}
	r, out := newTestRepl(t, backend)

	assert.ErrorIs(t, r.start(), errSessionExpired)
	assert.True(t, r.store.Identity().Anonymous())
	assert.Contains(t, out.String(), "welcome back Alice")
}
