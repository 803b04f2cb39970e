// Package realtime owns the single STOMP-over-WebSocket connection of a chat
// session and routes broadcast frames to per-destination subscriptions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatroom-client/internal/stats"
	"github.com/npezzotti/go-chatroom-client/internal/stomp"
	"github.com/teris-io/shortid"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingInterval     = (pongWait * 9) / 10
	handshakeTimeout = 10 * time.Second
	maxMessageSize   = 64 << 10
	sendBufferSize   = 256
)

// Handler receives MESSAGE frames for a subscription. Handlers run on the
// connection's read goroutine, one at a time, in arrival order. They must not
// call Unsubscribe or Close.
type Handler func(f *stomp.Frame)

type Options struct {
	// Token is sent as a bearer Authorization header on CONNECT.
	Token  string
	Dialer *websocket.Dialer
	Stats  stats.StatsProvider
}

type Manager struct {
	url    string
	host   string
	token  string
	dialer *websocket.Dialer
	log    *log.Logger
	stats  stats.StatsProvider

	mu        sync.Mutex
	state     State
	link      *link
	subs      map[string]*Subscription
	byDest    map[string]*Subscription
	listeners []func(State)
	closed    bool
	closeOnce sync.Once
	subSeq    int

	// dispatchMu is held while a handler runs so Unsubscribe can wait out
	// an in-flight delivery.
	dispatchMu sync.Mutex
}

// link is one live WebSocket connection.
type link struct {
	conn     *websocket.Conn
	send     chan []byte
	stop     chan struct{}
	stopOnce sync.Once
	graceful bool
	done     chan struct{}
}

func (l *link) shutdown(graceful bool) {
	l.stopOnce.Do(func() {
		l.graceful = graceful
		close(l.stop)
	})
}

func (l *link) stopping() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func NewManager(rawURL string, logger *log.Logger, opts Options) (*Manager, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}

	st := opts.Stats
	if st == nil {
		st = stats.Nop{}
	}

	return &Manager{
		url:    rawURL,
		host:   u.Hostname(),
		token:  opts.Token,
		dialer: dialer,
		log:    logger,
		stats:  st,
		state:  StateDisconnected,
		subs:   make(map[string]*Subscription),
		byDest: make(map[string]*Subscription),
	}, nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// OnStateChange registers fn to be called after every state transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// setStateLocked records the new state and returns the notification to run
// once the lock is released.
func (m *Manager) setStateLocked(s State) func() {
	if m.state == s {
		return func() {}
	}
	m.state = s
	fns := slices.Clone(m.listeners)
	return func() {
		for _, fn := range fns {
			fn(s)
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	notify := m.setStateLocked(s)
	m.mu.Unlock()
	notify()
}

// Connect opens the connection and completes the STOMP handshake. While a
// connection is being opened or is open, Connect does nothing. onReady runs
// once the broker accepts the session.
func (m *Manager) Connect(ctx context.Context, onReady func()) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	notify()

	conn, err := m.dial(ctx)
	if err != nil {
		var brokerErr *BrokerError
		if errors.As(err, &brokerErr) {
			m.log.Printf("broker reported error: %s", brokerErr.Message)
			if brokerErr.Details != "" {
				m.log.Printf("additional details: %s", brokerErr.Details)
			}
			m.setState(StateError)
		} else {
			m.log.Println("connect:", err)
			m.setState(StateDisconnected)
		}
		return err
	}

	l := &link{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	m.link = l
	notify = m.setStateLocked(StateConnected)
	m.mu.Unlock()

	go m.writePump(l)
	go m.readPump(l)

	m.log.Printf("connected to %s", m.url)
	notify()
	if onReady != nil {
		onReady()
	}

	return nil
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	// abort the handshake if the caller gives up
	stopWatch := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopWatch()

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	connect := stomp.NewFrame(stomp.Connect,
		stomp.HdrAcceptVersion, "1.2",
		stomp.HdrHost, m.host,
		stomp.HdrHeartBeat, "0,0",
	)
	if m.token != "" {
		connect.Set(stomp.HdrAuthorization, "Bearer "+m.token)
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, connect.Marshal()); err != nil {
		conn.Close()
		return nil, handshakeErr(ctx, "write connect", err)
	}

	conn.SetReadDeadline(deadline)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return nil, handshakeErr(ctx, "read connected", err)
		}

		f, err := stomp.Parse(raw)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("handshake: %w", err)
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case stomp.Connected:
			conn.SetReadDeadline(time.Time{})
			conn.SetWriteDeadline(time.Time{})
			return conn, nil
		case stomp.Error:
			conn.Close()
			return nil, &BrokerError{Message: f.Header(stomp.HdrMessage), Details: string(f.Body)}
		default:
			conn.Close()
			return nil, fmt.Errorf("handshake: unexpected %s frame", f.Command)
		}
	}
}

func handshakeErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (m *Manager) writePump(l *link) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()

	for {
		select {
		case msg := <-l.send:
			if !m.write(l, websocket.TextMessage, msg) {
				return
			}
		case <-l.stop:
			if l.graceful {
				m.drain(l)
				m.write(l, websocket.TextMessage, stomp.NewFrame(stomp.Disconnect).Marshal())
				m.write(l, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return
		case <-ticker.C:
			if !m.write(l, websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// drain flushes frames queued before a graceful shutdown.
func (m *Manager) drain(l *link) {
	for {
		select {
		case msg := <-l.send:
			if !m.write(l, websocket.TextMessage, msg) {
				return
			}
		default:
			return
		}
	}
}

func (m *Manager) write(l *link, msgType int, data []byte) bool {
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := l.conn.WriteMessage(msgType, data); err != nil {
		if !l.stopping() {
			m.log.Printf("write message: %s", err)
		}
		return false
	}
	return true
}

func (m *Manager) readPump(l *link) {
	defer func() {
		close(l.done)
		l.shutdown(false)
		m.detach(l)
	}()

	l.conn.SetReadLimit(maxMessageSize)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error { l.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			if !l.stopping() {
				m.log.Printf("ws: read: %v", err)
			}
			return
		}
		l.conn.SetReadDeadline(time.Now().Add(pongWait))

		f, err := stomp.Parse(raw)
		if err != nil {
			m.log.Println("error parsing frame:", err)
			continue
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case stomp.Message:
			m.dispatch(f)
		case stomp.Error:
			m.log.Printf("broker reported error: %s", f.Header(stomp.HdrMessage))
			if len(f.Body) > 0 {
				m.log.Printf("additional details: %s", f.Body)
			}
			m.setState(StateError)
			return
		case stomp.Receipt:
		default:
			m.log.Printf("ignoring unexpected %s frame", f.Command)
		}
	}
}

func (m *Manager) dispatch(f *stomp.Frame) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	sub := m.subs[f.Header(stomp.HdrSubscription)]
	m.mu.Unlock()

	if sub == nil {
		m.log.Printf("dropping message for unknown subscription %q", f.Header(stomp.HdrSubscription))
		return
	}

	sub.handler(f)
}

// detach forgets a dead link. Subscriptions die with the connection.
func (m *Manager) detach(l *link) {
	m.mu.Lock()
	if m.link != l {
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.subs = make(map[string]*Subscription)
	m.byDest = make(map[string]*Subscription)

	notify := func() {}
	if m.state != StateError {
		notify = m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()
	notify()
}

// queueLocked hands a frame to the writer without blocking. The caller holds m.mu.
func (m *Manager) queueLocked(f *stomp.Frame) bool {
	if m.state != StateConnected || m.link == nil {
		return false
	}

	select {
	case m.link.send <- f.Marshal():
		return true
	default:
		m.log.Println("failed to queue frame, send buffer is full")
		return false
	}
}

// Publish sends body to destination. When the connection is not open the
// frame is dropped and Publish returns false; nothing is queued for later.
func (m *Manager) Publish(destination string, body []byte) bool {
	f := stomp.NewFrame(stomp.Send,
		stomp.HdrDestination, destination,
		stomp.HdrContentType, "application/json",
	)
	f.Body = body

	m.mu.Lock()
	ok := m.queueLocked(f)
	m.mu.Unlock()

	if !ok {
		m.stats.Incr(stats.DroppedPublishes)
		m.log.Printf("publish to %q dropped: %v", destination, ErrNotConnected)
	}
	return ok
}

func (m *Manager) PublishJSON(destination string, v any) bool {
	body, err := json.Marshal(v)
	if err != nil {
		m.log.Printf("marshal publish to %q: %v", destination, err)
		return false
	}
	return m.Publish(destination, body)
}

// Subscribe registers handler for destination. An existing subscription to
// the same destination is cancelled first, so each destination has at most
// one live handler.
func (m *Manager) Subscribe(destination string, handler Handler) (*Subscription, error) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	prev := m.byDest[destination]
	m.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe()
	}

	sub := &Subscription{
		id:          m.newSubscriptionId(),
		destination: destination,
		handler:     handler,
		m:           m,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected {
		return nil, ErrNotConnected
	}
	if other := m.byDest[destination]; other != nil {
		// lost a race with a concurrent Subscribe to the same destination
		m.removeLocked(other)
		m.queueLocked(stomp.NewFrame(stomp.Unsubscribe, stomp.HdrID, other.id))
	}

	m.subs[sub.id] = sub
	m.byDest[destination] = sub
	m.queueLocked(stomp.NewFrame(stomp.Subscribe,
		stomp.HdrID, sub.id,
		stomp.HdrDestination, destination,
		"ack", "auto",
	))

	return sub, nil
}

func (m *Manager) newSubscriptionId() string {
	if id, err := shortid.Generate(); err == nil {
		return "sub-" + id
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subSeq++
	return fmt.Sprintf("sub-%d", m.subSeq)
}

func (m *Manager) removeLocked(sub *Subscription) bool {
	if m.subs[sub.id] != sub {
		return false
	}
	delete(m.subs, sub.id)
	if m.byDest[sub.destination] == sub {
		delete(m.byDest, sub.destination)
	}
	return true
}

// Subscriptions returns the destinations with a live handler.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	dests := make([]string, 0, len(m.byDest))
	for d := range m.byDest {
		dests = append(dests, d)
	}
	return dests
}

// Close tears the connection down. It is safe to call more than once and on a
// manager that never connected.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		l := m.link
		m.mu.Unlock()

		if l != nil {
			l.shutdown(true)
			select {
			case <-l.done:
			case <-time.After(writeWait):
				l.conn.Close()
			}
		}

		m.mu.Lock()
		m.link = nil
		m.subs = make(map[string]*Subscription)
		m.byDest = make(map[string]*Subscription)
		notify := m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		notify()

		m.log.Println("realtime connection closed")
	})
}

type Subscription struct {
	id          string
	destination string
	handler     Handler
	m           *Manager
	once        sync.Once
}

func (s *Subscription) Id() string {
	return s.id
}

func (s *Subscription) Destination() string {
	return s.destination
}

// Unsubscribe stops delivery. Once it returns the handler will not run again.
// Repeated calls do nothing.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.m.dispatchMu.Lock()
		defer s.m.dispatchMu.Unlock()

		s.m.mu.Lock()
		defer s.m.mu.Unlock()

		if s.m.removeLocked(s) {
			s.m.queueLocked(stomp.NewFrame(stomp.Unsubscribe, stomp.HdrID, s.id))
		}
	})
}
