// Package session holds the authenticated identity for the lifetime of the
// client and persists it as a cookie between runs.
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/npezzotti/go-chatroom-client/internal/types"
)

const (
	CookieName = "auth"
	CookieTTL  = 24 * time.Hour
)

// Persister stores the single auth cookie. Load returns a nil cookie and nil
// error when nothing is stored.
type Persister interface {
	Save(c *http.Cookie) error
	Load() (*http.Cookie, error)
	Remove() error
}

type Store struct {
	log       *log.Logger
	persister Persister
	now       func() time.Time

	mu        sync.RWMutex
	identity  types.Identity
	listeners map[int]func(types.Identity)
	nextId    int
}

// NewStore creates a store and restores the identity from the persister.
func NewStore(logger *log.Logger, persister Persister) *Store {
	s := &Store{
		log:       logger,
		persister: persister,
		now:       time.Now,
		listeners: make(map[int]func(types.Identity)),
	}
	s.Load()
	return s
}

// Load replaces the in-memory identity with the persisted one, or with the
// anonymous identity when nothing usable is stored.
func (s *Store) Load() {
	id := s.restore()

	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
}

func (s *Store) restore() types.Identity {
	c, err := s.persister.Load()
	if err != nil {
		s.log.Println("load session cookie:", err)
		return types.Identity{}
	}
	if c == nil {
		return types.Identity{}
	}

	if !c.Expires.IsZero() && !c.Expires.After(s.now()) {
		s.log.Println("session cookie expired")
		if err := s.persister.Remove(); err != nil {
			s.log.Println("remove expired session cookie:", err)
		}
		return types.Identity{}
	}

	raw, err := url.QueryUnescape(c.Value)
	if err != nil {
		s.log.Println("unescape session cookie:", err)
		return types.Identity{}
	}

	return decodeIdentityFields(raw)
}

// decodeIdentityFields reads each field on its own so one bad field does not
// discard the others.
func decodeIdentityFields(raw string) types.Identity {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return types.Identity{}
	}

	str := func(key string) string {
		var v string
		if err := json.Unmarshal(fields[key], &v); err != nil {
			return ""
		}
		return v
	}

	return types.Identity{
		Uid:         str("uid"),
		Name:        str("name"),
		Email:       str("email"),
		Nick:        str("nick"),
		Role:        str("role"),
		Profile:     str("profile"),
		AccessToken: str("accessToken"),
	}
}

// Login makes id the current identity and persists it. Persistence is best
// effort: a failure is logged and the in-memory login still holds.
func (s *Store) Login(id types.Identity) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()

	if err := s.persist(id); err != nil {
		s.log.Println("persist session:", err)
	}

	s.notify(id)
}

func (s *Store) persist(id types.Identity) error {
	b, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	return s.persister.Save(&http.Cookie{
		Name:    CookieName,
		Value:   url.QueryEscape(string(b)),
		Path:    "/",
		Expires: s.now().Add(CookieTTL).UTC().Truncate(time.Second),
	})
}

// Logout clears the persisted cookie and resets to the anonymous identity.
// Listeners use the notification to stop fetches and connections.
func (s *Store) Logout() {
	if err := s.persister.Remove(); err != nil {
		s.log.Println("remove session cookie:", err)
	}

	s.mu.Lock()
	s.identity = types.Identity{}
	s.mu.Unlock()

	s.notify(types.Identity{})
}

func (s *Store) Identity() types.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Token returns the current access token, empty when anonymous.
func (s *Store) Token() string {
	return s.Identity().AccessToken
}

// OnChange registers fn to run after every login and logout. The returned
// function removes it.
func (s *Store) OnChange(fn func(types.Identity)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextId
	s.nextId++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify(id types.Identity) {
	s.mu.RLock()
	fns := make([]func(types.Identity), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(id)
	}
}
