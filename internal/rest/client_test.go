package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/go-chatroom-client/internal/testutil"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestClient(t *testing.T, mux *http.ServeMux, token string) *Client {
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, srv.Client(), staticToken(token), testutil.TestLogger(t))
}

func writeJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestListRooms(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/{uid}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.PathValue("uid"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJson(w, http.StatusOK, []types.Room{{ChatNo: 1, Title: "General", Status: "active"}})
	})
	c := newTestClient(t, mux, "tok")

	rooms, err := c.ListRooms(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []types.Room{{ChatNo: 1, Title: "General", Status: "active"}}, rooms)
}

func TestListRoomsNoToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/{uid}", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "expected no auth header without a token")
		w.Write([]byte("null"))
	})
	c := newTestClient(t, mux, "")

	rooms, err := c.ListRooms(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestListRoomsShapeMismatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/{uid}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rooms":[]}`))
	})
	c := newTestClient(t, mux, "")

	_, err := c.ListRooms(context.Background(), "u1")
	var schemaErr *types.SchemaError
	assert.ErrorAs(t, err, &schemaErr, "expected a schema error for an object body")
}

func TestCreateRoom(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chatroom/{uid}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.PathValue("uid"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req CreateRoomRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, CreateRoomRequest{Title: "NewRoom", Status: "active"}, req)

		writeJson(w, http.StatusCreated, types.Room{ChatNo: 5, Title: "NewRoom", Status: "active"})
	})
	c := newTestClient(t, mux, "tok")

	room, err := c.CreateRoom(context.Background(), "u1", "NewRoom")
	require.NoError(t, err)
	assert.Equal(t, types.Room{ChatNo: 5, Title: "NewRoom", Status: "active"}, room)
}

func TestLeaveRoom(t *testing.T) {
	tcases := []struct {
		name   string
		status int
		err    bool
	}{
		{name: "no content", status: http.StatusNoContent},
		{name: "ok", status: http.StatusOK},
		{name: "not found", status: http.StatusNotFound, err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("DELETE /chatroom", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "u1", r.URL.Query().Get("uid"))
				assert.Equal(t, "3", r.URL.Query().Get("chatNo"))
				w.WriteHeader(tc.status)
			})
			c := newTestClient(t, mux, "tok")

			err := c.LeaveRoom(context.Background(), "u1", 3)
			if tc.err {
				assert.True(t, IsNotFound(err), "expected a not found error, got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMessages(t *testing.T) {
	history := `[{"cmNo":10,"chatNo":1,"uid":"u2","name":"Bob","message":"hi","cDate":"2024-05-01T12:00:00"}]`

	mux := http.NewServeMux()
	mux.HandleFunc("GET /chat/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("chatNo"))
		w.Write([]byte(history))
	})
	mux.HandleFunc("GET /chatroom/{chatNo}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.PathValue("chatNo"))
		w.Write([]byte(history))
	})
	c := newTestClient(t, mux, "")

	msgs, err := c.Messages(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 10, msgs[0].CmNo)
	assert.Equal(t, "hi", msgs[0].Message)

	msgs, err = c.RoomMessages(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			writeJson(w, http.StatusUnauthorized, Error{StatusCode: http.StatusUnauthorized, Message: "unauthorized"})
			return
		}
		writeJson(w, http.StatusOK, types.Identity{Uid: "u1", Name: "Ann", AccessToken: "tok"})
	})
	c := newTestClient(t, mux, "")

	id, err := c.Login(context.Background(), "ann@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, types.Identity{Uid: "u1", Name: "Ann", AccessToken: "tok"}, id)

	_, err = c.Login(context.Background(), "ann@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, "401 unauthorized", err.Error())
}

func TestErrorWithoutBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/{uid}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(t, mux, "")

	_, err := c.ListRooms(context.Background(), "u1")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestRequestCancelled(t *testing.T) {
	mux := http.NewServeMux()
	c := newTestClient(t, mux, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListRooms(ctx, "u1")
	assert.ErrorIs(t, err, context.Canceled)
}
