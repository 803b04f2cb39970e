package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerConfig(t *testing.T) {
	var (
		addr = "localhost:8080"
		dsn  = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
		key  = "c29tZV9zZWNyZXQ="
		orig = []string{"http://localhost:3000"}
	)

	tcases := []struct {
		name string
		addr string
		dsn  string
		key  string
		orig []string
		err  bool
	}{
		{
			name: "valid config",
			addr: addr,
			dsn:  dsn,
			key:  key,
			orig: orig,
			err:  false,
		},
		{
			name: "valid config without database",
			addr: addr,
			dsn:  "",
			key:  key,
			orig: orig,
			err:  false,
		},
		{
			name: "empty address",
			addr: "",
			dsn:  dsn,
			key:  key,
			orig: orig,
			err:  true,
		},
		{
			name: "empty signing key",
			addr: addr,
			dsn:  dsn,
			key:  "",
			orig: orig,
			err:  true,
		},
		{
			name: "invalid signing key",
			addr: addr,
			dsn:  dsn,
			key:  "invalid_base64",
			orig: orig,
			err:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			config, err := NewServerConfig(tc.addr, tc.dsn, tc.key, "", tc.orig)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, tc.addr, config.ServerAddr, "expected server address to match")
			assert.Equal(t, tc.dsn, config.DatabaseDSN, "expected database DSN to match")
			assert.Equal(t, tc.orig, config.AllowedOrigins, "expected allowed origins to match")
			assert.Equal(t, []byte("some_secret"), config.SigningKey, "expected signing key to be decoded")
		})
	}
}

func TestNewClientConfig(t *testing.T) {
	tcases := []struct {
		name      string
		serverURL string
		wsURL     string
		expectWS  string
		expectURL string
		err       bool
	}{
		{
			name:      "derives ws url",
			serverURL: "http://localhost:8000",
			expectURL: "http://localhost:8000",
			expectWS:  "ws://localhost:8000/ws/chat/websocket",
		},
		{
			name:      "derives wss url and keeps base path",
			serverURL: "https://chat.example.com/api/",
			expectURL: "https://chat.example.com/api",
			expectWS:  "wss://chat.example.com/api/ws/chat/websocket",
		},
		{
			name:      "explicit ws url",
			serverURL: "http://localhost:8000",
			wsURL:     "ws://other:9000/stomp",
			expectURL: "http://localhost:8000",
			expectWS:  "ws://other:9000/stomp",
		},
		{
			name:      "empty server url",
			serverURL: "",
			err:       true,
		},
		{
			name:      "wrong scheme",
			serverURL: "ftp://localhost",
			err:       true,
		},
		{
			name:      "no host",
			serverURL: "http://",
			err:       true,
		},
		{
			name:      "bad ws scheme",
			serverURL: "http://localhost:8000",
			wsURL:     "http://localhost:8000/ws",
			err:       true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewClientConfig(tc.serverURL, tc.wsURL, "")
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectURL, cfg.ServerURL)
			assert.Equal(t, tc.expectWS, cfg.WebSocketURL)
			assert.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
		})
	}
}

func TestLoadClientFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.toml")
	contents := `
server_url = "http://file-host:8000"
session_file = "/tmp/session"
http_timeout = "3s"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	t.Run("file values", func(t *testing.T) {
		cfg, err := LoadClientFile(path, ClientConfig{})
		require.NoError(t, err)
		assert.Equal(t, "http://file-host:8000", cfg.ServerURL)
		assert.Equal(t, "ws://file-host:8000/ws/chat/websocket", cfg.WebSocketURL)
		assert.Equal(t, "/tmp/session", cfg.SessionFile)
		assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
	})

	t.Run("override wins", func(t *testing.T) {
		cfg, err := LoadClientFile(path, ClientConfig{ServerURL: "https://flag-host"})
		require.NoError(t, err)
		assert.Equal(t, "https://flag-host", cfg.ServerURL)
		assert.Equal(t, "wss://flag-host/ws/chat/websocket", cfg.WebSocketURL)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadClientFile(filepath.Join(t.TempDir(), "nope.toml"), ClientConfig{})
		assert.Error(t, err)
	})
}
