package api

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-chatroom-client/internal/database"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUid(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		uid      string
		expected bool
	}{
		{
			name:     "no uid",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "empty uid",
			ctx:      WithUid(context.Background(), ""),
			expected: false,
		},
		{
			name:     "uid set",
			ctx:      WithUid(context.Background(), "u1"),
			uid:      "u1",
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			uid, ok := Uid(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected Uid to return %v", tc.expected)
			assert.Equal(t, tc.uid, uid, "expected Uid to return %q", tc.uid)
		})
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := hashPassword("secret")
	require.NoError(t, err)

	assert.NotEqual(t, "secret", hash)
	assert.True(t, verifyPassword(hash, "secret"))
	assert.False(t, verifyPassword(hash, "wrong"))
}

func TestExtractUidFromToken(t *testing.T) {
	app := &GoChatApp{signingKey: testSigningKey}

	valid, err := app.createJwtForSession("u1", time.Hour)
	require.NoError(t, err)

	expired, err := app.createJwtForSession("u1", -time.Hour)
	require.NoError(t, err)

	otherKey, err := (&GoChatApp{signingKey: []byte("other")}).createJwtForSession("u1", time.Hour)
	require.NoError(t, err)

	noUid, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		expClaim: time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSigningKey)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		uidClaim: "u1",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tcases := []struct {
		name    string
		token   string
		uid     string
		wantErr bool
	}{
		{name: "valid token", token: valid, uid: "u1"},
		{name: "expired token", token: expired, wantErr: true},
		{name: "wrong signing key", token: otherKey, wantErr: true},
		{name: "missing uid claim", token: noUid, wantErr: true},
		{name: "unsigned token", token: unsigned, wantErr: true},
		{name: "garbage", token: "not-a-token", wantErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			uid, err := app.extractUidFromToken(tc.token)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.uid, uid)
		})
	}
}

func TestTokenExpiryReadableByClient(t *testing.T) {
	app := &GoChatApp{signingKey: testSigningKey}
	token, err := app.createJwtForSession("u1", time.Hour)
	require.NoError(t, err)

	exp, ok := types.Identity{Uid: "u1", AccessToken: token}.TokenExpiry()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)
}

func TestRequestToken(t *testing.T) {
	tcases := []struct {
		name   string
		header string
		cookie string
		token  string
		ok     bool
	}{
		{name: "bearer header", header: "Bearer abc", token: "abc", ok: true},
		{name: "cookie fallback", cookie: "def", token: "def", ok: true},
		{name: "header wins", header: "Bearer abc", cookie: "def", token: "abc", ok: true},
		{name: "other scheme", header: "Basic abc", ok: false},
		{name: "empty bearer", header: "Bearer ", ok: false},
		{name: "nothing", ok: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: tc.cookie})
			}

			token, ok := requestToken(req)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.token, token)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	app := &GoChatApp{signingKey: testSigningKey, db: db}
	token, err := app.createJwtForSession("u1", time.Hour)
	require.NoError(t, err)

	t.Run("known account", func(t *testing.T) {
		db.On("GetAccountByUid", "u1").Return(database.Account{Uid: "u1", Name: "Alice", Email: "alice@example.com"}, nil).Once()

		id, err := app.authenticate(token)
		require.NoError(t, err)
		assert.Equal(t, types.Identity{Uid: "u1", Name: "Alice", Email: "alice@example.com", AccessToken: token}, id)
	})

	t.Run("deleted account", func(t *testing.T) {
		db.On("GetAccountByUid", "u1").Return(database.Account{}, sql.ErrNoRows).Once()

		_, err := app.authenticate(token)
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := app.authenticate("garbage")
		assert.Error(t, err)
	})
}
