package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultWebSocketPath = "/ws/chat/websocket"
	DefaultHTTPTimeout   = 10 * time.Second
)

// ServerConfig configures the development backend.
type ServerConfig struct {
	ServerAddr     string
	DatabaseDSN    string
	NatsURL        string
	SigningKey     []byte
	AllowedOrigins []string
}

// ClientConfig configures the chat client. Field tags match the optional
// TOML config file.
type ClientConfig struct {
	ServerURL    string        `toml:"server_url"`
	WebSocketURL string        `toml:"websocket_url"`
	SessionFile  string        `toml:"session_file"`
	DebugAddr    string        `toml:"debug_addr"`
	HTTPTimeout  time.Duration `toml:"http_timeout"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewServerConfig(serverAddr, databaseDSN, base64Secret, natsURL string, allowedOrigins []string) (*ServerConfig, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &ServerConfig{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		NatsURL:        natsURL,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	}, nil
}

// NewClientConfig validates the server URL and derives the WebSocket URL
// from it when none is given.
func NewClientConfig(serverURL, webSocketURL, sessionFile string) (*ClientConfig, error) {
	cfg := &ClientConfig{
		ServerURL:    serverURL,
		WebSocketURL: webSocketURL,
		SessionFile:  sessionFile,
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ClientConfig) normalize() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server url cannot be empty")
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("server url has no host")
	}
	c.ServerURL = strings.TrimRight(u.String(), "/")

	if c.WebSocketURL == "" {
		c.WebSocketURL = deriveWebSocketURL(u)
	} else {
		wsu, err := url.Parse(c.WebSocketURL)
		if err != nil {
			return fmt.Errorf("parse websocket url: %w", err)
		}
		if wsu.Scheme != "ws" && wsu.Scheme != "wss" {
			return fmt.Errorf("websocket url must be ws or wss, got %q", wsu.Scheme)
		}
	}

	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	return nil
}

func deriveWebSocketURL(u *url.URL) string {
	wsu := *u
	if u.Scheme == "https" {
		wsu.Scheme = "wss"
	} else {
		wsu.Scheme = "ws"
	}
	wsu.Path = strings.TrimRight(u.Path, "/") + DefaultWebSocketPath
	wsu.RawQuery = ""
	return wsu.String()
}

// LoadClientFile reads a TOML client config. Values set on override win over
// the file; the result is validated like NewClientConfig.
func LoadClientFile(path string, override ClientConfig) (*ClientConfig, error) {
	var cfg ClientConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	if override.ServerURL != "" {
		cfg.ServerURL = override.ServerURL
	}
	if override.WebSocketURL != "" {
		cfg.WebSocketURL = override.WebSocketURL
	}
	if override.SessionFile != "" {
		cfg.SessionFile = override.SessionFile
	}
	if override.DebugAddr != "" {
		cfg.DebugAddr = override.DebugAddr
	}
	if override.HTTPTimeout > 0 {
		cfg.HTTPTimeout = override.HTTPTimeout
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
