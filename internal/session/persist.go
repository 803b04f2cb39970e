package session

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CookieFile keeps the cookie as a Set-Cookie line in a file.
type CookieFile struct {
	path string
}

func NewCookieFile(path string) *CookieFile {
	return &CookieFile{path: path}
}

func (f *CookieFile) Save(c *http.Cookie) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(c.String() + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	return os.Rename(tmp.Name(), f.path)
}

func (f *CookieFile) Load() (*http.Cookie, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	line := strings.TrimSpace(string(b))
	if line == "" {
		return nil, nil
	}

	c, err := http.ParseSetCookie(line)
	if err != nil {
		return nil, fmt.Errorf("parse session cookie: %w", err)
	}
	if c.Name != CookieName {
		return nil, fmt.Errorf("unexpected cookie %q", c.Name)
	}

	return c, nil
}

func (f *CookieFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// MemoryPersister keeps the cookie for the life of the process only.
type MemoryPersister struct {
	mu     sync.Mutex
	cookie *http.Cookie
}

func (m *MemoryPersister) Save(c *http.Cookie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.cookie = &cp
	return nil
}

func (m *MemoryPersister) Load() (*http.Cookie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cookie == nil {
		return nil, nil
	}
	cp := *m.cookie
	return &cp, nil
}

func (m *MemoryPersister) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cookie = nil
	return nil
}
