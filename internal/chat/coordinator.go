// Package chat holds the client-side chat state: the room list, the message
// log of the selected room, and the coordinator that keeps both in step with
// the realtime connection.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-chatroom-client/internal/config"
	"github.com/npezzotti/go-chatroom-client/internal/realtime"
	"github.com/npezzotti/go-chatroom-client/internal/session"
	"github.com/npezzotti/go-chatroom-client/internal/stats"
	"github.com/npezzotti/go-chatroom-client/internal/types"
)

// ErrStaleSelection is returned by Select when another selection replaced it
// before its history arrived.
var ErrStaleSelection = errors.New("selection superseded")

// Service is everything the coordinator needs from the REST backend.
type Service interface {
	RoomService
	Messages(ctx context.Context, chatNo int) ([]types.Message, error)
}

type EventKind int

const (
	EventRooms EventKind = iota
	EventSelection
	EventHistory
	EventMessage
	EventConnection
)

// Event tells the view what changed. Only the fields relevant to Kind are set.
type Event struct {
	Kind    EventKind
	Room    types.Room
	Message types.Message
	State   realtime.State
}

// Coordinator ties the session, the room list, the message log and the
// realtime connection together. One Coordinator serves one identity at a
// time; a different login restarts it with a fresh connection.
type Coordinator struct {
	log      *log.Logger
	session  *session.Store
	svc      Service
	dial     DialFunc
	stats    stats.StatsProvider
	rooms    *RoomList
	messages *MessageLog
	now      func() time.Time
	unwatch  func()

	mu        sync.Mutex
	uid       string
	conn      Conn
	selected  *types.Room
	sub       Subscription
	gen       uint64
	listeners map[int]func(Event)
	nextId    int
}

func NewCoordinator(store *session.Store, svc Service, dial DialFunc, st stats.StatsProvider, logger *log.Logger) *Coordinator {
	if st == nil {
		st = stats.Nop{}
	}

	c := &Coordinator{
		log:       logger,
		session:   store,
		svc:       svc,
		dial:      dial,
		stats:     st,
		rooms:     NewRoomList(svc, logger),
		messages:  NewMessageLog(),
		now:       time.Now,
		listeners: make(map[int]func(Event)),
	}
	c.unwatch = store.OnChange(c.identityChanged)

	return c
}

// OnEvent registers fn for view updates. fn may run on the connection's read
// goroutine and must not block. The returned function removes it.
func (c *Coordinator) OnEvent(fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextId
	c.nextId++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Coordinator) emit(ev Event) {
	c.mu.Lock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Start loads the rooms of the current identity and opens its realtime
// connection. Calling Start again reuses the open connection, reconnects a
// dropped one, and restores the live feed of the selected room.
func (c *Coordinator) Start(ctx context.Context) error {
	id := c.session.Identity()
	if id.Anonymous() {
		return ErrNoIdentity
	}

	c.mu.Lock()
	if c.uid != "" && c.uid != id.Uid {
		c.mu.Unlock()
		c.Stop()
		c.mu.Lock()
	}
	c.uid = id.Uid

	conn := c.conn
	if conn == nil {
		var err error
		conn, err = c.dial(id.AccessToken)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("create connection: %w", err)
		}
		conn.OnStateChange(func(s realtime.State) {
			c.emit(Event{Kind: EventConnection, State: s})
		})
		c.conn = conn
	}
	c.mu.Unlock()

	var errs []error
	if err := c.Refresh(ctx); err != nil {
		errs = append(errs, err)
	}

	wasConnected := conn.Connected()
	if err := conn.Connect(ctx, nil); err != nil {
		errs = append(errs, fmt.Errorf("connect: %w", err))
	} else if !wasConnected {
		if room, ok := c.Selected(); ok {
			if err := c.Select(ctx, room); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// Stop closes the connection and forgets rooms, selection and messages.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.gen++
	sub, conn := c.sub, c.conn
	c.sub, c.conn, c.selected = nil, nil, nil
	c.uid = ""
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if conn != nil {
		conn.Close()
	}

	c.rooms.Clear()
	c.messages.Reset()

	c.emit(Event{Kind: EventSelection})
	c.emit(Event{Kind: EventRooms})
}

// Close stops the coordinator and detaches it from the session store.
func (c *Coordinator) Close() {
	c.unwatch()
	c.Stop()
}

func (c *Coordinator) identityChanged(id types.Identity) {
	c.mu.Lock()
	uid := c.uid
	c.mu.Unlock()

	if uid == "" {
		return
	}

	if id.Anonymous() {
		c.log.Println("logged out, stopping chat")
		c.Stop()
		return
	}

	if id.Uid != uid {
		c.log.Printf("identity changed to %q, restarting chat", id.Uid)
		c.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), config.DefaultHTTPTimeout)
		defer cancel()
		if err := c.Start(ctx); err != nil {
			c.log.Println("restart chat:", err)
		}
	}
}

// Refresh reloads the room list from the server.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if err := c.rooms.Refresh(ctx, c.session.Identity().Uid); err != nil {
		return err
	}
	c.emit(Event{Kind: EventRooms})
	return nil
}

// Select switches the view to room. The previous room's feed is cut first.
// The new feed opens before the history is fetched so nothing published in
// between is lost; live messages that arrive meanwhile are kept after the
// history unless it already holds them.
func (c *Coordinator) Select(ctx context.Context, room types.Room) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	prev := c.sub
	c.sub = nil
	c.selected = &room
	conn := c.conn
	c.mu.Unlock()

	c.messages.Reset()
	c.emit(Event{Kind: EventSelection, Room: room})

	if prev != nil {
		prev.Unsubscribe()
	}

	var liveErr error
	if conn == nil || !conn.Connected() {
		liveErr = realtime.ErrNotConnected
		c.log.Printf("no live feed for room %d: %v", room.ChatNo, liveErr)
	} else if err := c.subscribe(conn, gen, room.ChatNo); err != nil {
		if errors.Is(err, ErrStaleSelection) {
			return err
		}
		liveErr = err
	}

	history, err := c.svc.Messages(ctx, room.ChatNo)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.stats.Incr(stats.StaleHistoryDiscarded)
		c.log.Printf("discarding history of room %d, selection changed", room.ChatNo)
		return ErrStaleSelection
	}
	if err != nil {
		c.log.Printf("load history of room %d: %v", room.ChatNo, err)
	} else {
		live := c.messages.Messages()
		c.messages.Replace(scopeToRoom(history, room.ChatNo))
		for _, m := range live {
			c.messages.Append(m)
		}
	}
	c.mu.Unlock()

	if err == nil {
		c.emit(Event{Kind: EventHistory, Room: room})
	}

	return liveErr
}

// subscribe opens the live feed of chatNo for the selection gen and announces
// the user to the room.
func (c *Coordinator) subscribe(conn Conn, gen uint64, chatNo int) error {
	sub, err := conn.Subscribe(types.RoomTopic(chatNo), func(body []byte) {
		c.receive(gen, chatNo, body)
	})
	if err != nil {
		c.log.Printf("subscribe to room %d: %v", chatNo, err)
		return fmt.Errorf("subscribe: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		sub.Unsubscribe()
		return ErrStaleSelection
	}
	c.sub = sub
	c.mu.Unlock()

	id := c.session.Identity()
	conn.PublishJSON(types.AddUserDestination, types.JoinNotice{Uid: id.Uid, Name: id.Name})

	return nil
}

// scopeToRoom keeps the messages of chatNo, filling in a missing room id.
func scopeToRoom(msgs []types.Message, chatNo int) []types.Message {
	kept := msgs[:0:0]
	for _, m := range msgs {
		if m, ok := m.InRoom(chatNo); ok {
			kept = append(kept, m)
		}
	}
	return kept
}

// receive handles one live message for the selection identified by gen.
func (c *Coordinator) receive(gen uint64, chatNo int, body []byte) {
	m, err := types.DecodeMessage(body)
	if err != nil {
		c.log.Printf("dropping message for room %d: %v", chatNo, err)
		return
	}
	m, ok := m.InRoom(chatNo)
	if !ok {
		c.log.Printf("dropping message for room %d on topic of room %d", m.ChatNo, chatNo)
		return
	}

	c.stats.Incr(stats.MessagesReceived)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	added := c.messages.Append(m)
	c.mu.Unlock()

	if !added {
		c.stats.Incr(stats.DuplicateMessages)
		return
	}

	c.emit(Event{Kind: EventMessage, Room: types.Room{ChatNo: chatNo}, Message: m})
}

// Send publishes text to the selected room. It reports false and does
// nothing when no room is selected or the connection is down. The message
// shows up in the log only when the server echoes it back.
func (c *Coordinator) Send(text string) bool {
	c.mu.Lock()
	conn, selected := c.conn, c.selected
	c.mu.Unlock()

	if conn == nil || selected == nil || !conn.Connected() {
		return false
	}

	id := c.session.Identity()
	msg := types.Message{
		ChatNo:  selected.ChatNo,
		Uid:     id.Uid,
		Name:    id.Name,
		Message: text,
		CDate:   types.NewTimestamp(c.now()),
	}

	return conn.PublishJSON(types.SendDestination(selected.ChatNo), msg)
}

// CreateRoom creates a room and selects it.
func (c *Coordinator) CreateRoom(ctx context.Context, title string) (types.Room, error) {
	room, err := c.rooms.Create(ctx, c.session.Identity().Uid, title)
	if err != nil {
		return types.Room{}, err
	}
	c.emit(Event{Kind: EventRooms})

	return room, c.Select(ctx, room)
}

// LeaveRoom leaves a room. Leaving the selected room clears the selection.
func (c *Coordinator) LeaveRoom(ctx context.Context, chatNo int) error {
	if err := c.rooms.Leave(ctx, c.session.Identity().Uid, chatNo); err != nil {
		return err
	}
	c.emit(Event{Kind: EventRooms})

	c.mu.Lock()
	if c.selected == nil || c.selected.ChatNo != chatNo {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	sub := c.sub
	c.sub, c.selected = nil, nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	c.messages.Reset()
	c.emit(Event{Kind: EventSelection})

	return nil
}

// Find returns the listed room whose number or title matches key.
func (c *Coordinator) Find(key string) (types.Room, bool) {
	key = strings.TrimSpace(key)
	for _, r := range c.rooms.Rooms() {
		if fmt.Sprint(r.ChatNo) == key || strings.EqualFold(r.Title, key) {
			return r, true
		}
	}
	return types.Room{}, false
}

func (c *Coordinator) Rooms() []types.Room {
	return c.rooms.Rooms()
}

func (c *Coordinator) Selected() (types.Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return types.Room{}, false
	}
	return *c.selected, true
}

func (c *Coordinator) Messages() []types.Message {
	return c.messages.Messages()
}

func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return conn != nil && conn.Connected()
}
