package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-chatroom-client/internal/chat"
	"github.com/npezzotti/go-chatroom-client/internal/realtime"
	"github.com/npezzotti/go-chatroom-client/internal/rest"
	"github.com/npezzotti/go-chatroom-client/internal/session"
	"github.com/npezzotti/go-chatroom-client/internal/types"
)

const helpText = `commands:
  /login <email>        log in, prompts for the password
  /logout               log out and close the connection
  /rooms                list your rooms
  /join <number|title>  switch to a room
  /create <title>       create a room and switch to it
  /leave [number|title] leave a room, the current one by default
  /history [number|title]
                        print the messages of the current room, or fetch
                        those of another room without switching
  /quit                 exit
anything else is sent to the current room`

var (
	errUsage          = errors.New("usage")
	errSessionExpired = errors.New("session expired, use /login <email>")
)

// Backend is the part of the REST API the prompt calls directly.
type Backend interface {
	Login(ctx context.Context, email, password string) (types.Identity, error)
	RoomMessages(ctx context.Context, chatNo int) ([]types.Message, error)
}

type repl struct {
	coord    *chat.Coordinator
	store    *session.Store
	backend  Backend
	password func(prompt string) (string, error)
	timeout  time.Duration

	mu  sync.Mutex
	out io.Writer
}

// parseCommand splits a slash command into its name and argument. Plain text
// yields an empty name.
func parseCommand(input string) (string, string) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", input
	}

	name, arg, _ := strings.Cut(input[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func formatMessage(m types.Message) string {
	stamp := "--:--"
	if !m.CDate.IsZero() {
		stamp = m.CDate.Local().Format("15:04")
	}

	name := m.Name
	if name == "" {
		name = m.Uid
	}
	return fmt.Sprintf("[%s] %s: %s", stamp, name, m.Message)
}

func formatRoom(r types.Room) string {
	return fmt.Sprintf("#%d %s", r.ChatNo, r.Title)
}

// onEvent renders coordinator events.
func (r *repl) onEvent(ev chat.Event) {
	switch ev.Kind {
	case chat.EventMessage:
		r.printf("%s\n", formatMessage(ev.Message))
	case chat.EventConnection:
		switch ev.State {
		case realtime.StateConnected, realtime.StateDisconnected, realtime.StateError:
			r.printf("* connection %s\n", ev.State)
		}
	case chat.EventHistory:
		if room, ok := r.coord.Selected(); ok {
			r.printf("* now in %s\n", formatRoom(room))
		}
		for _, m := range r.coord.Messages() {
			r.printf("%s\n", formatMessage(m))
		}
	}
}

func (r *repl) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

// handle runs one line of input. It returns false when the user quits. A
// token the backend no longer accepts ends the session.
func (r *repl) handle(input string) (bool, error) {
	more, err := r.dispatch(input)
	if rest.IsUnauthorized(err) && !r.store.Identity().Anonymous() {
		r.store.Logout()
		return more, errSessionExpired
	}
	return more, err
}

func (r *repl) dispatch(input string) (bool, error) {
	name, arg := parseCommand(input)

	switch name {
	case "":
		if arg == "" {
			return true, nil
		}
		return true, r.send(arg)
	case "quit", "exit":
		return false, nil
	case "help":
		r.printf("%s\n", helpText)
		return true, nil
	case "login":
		return true, r.login(arg)
	case "logout":
		r.store.Logout()
		r.printf("* logged out\n")
		return true, nil
	case "rooms":
		return true, r.listRooms()
	case "join":
		return true, r.join(arg)
	case "create":
		return true, r.create(arg)
	case "leave":
		return true, r.leave(arg)
	case "history":
		return true, r.history(arg)
	default:
		return true, fmt.Errorf("unknown command /%s, try /help", name)
	}
}

func (r *repl) send(text string) error {
	if _, ok := r.coord.Selected(); !ok {
		return errors.New("no room selected, /join one first")
	}
	if !r.coord.Send(text) {
		return errors.New("not connected, message not sent")
	}
	return nil
}

func (r *repl) login(email string) error {
	if email == "" {
		return fmt.Errorf("%w: /login <email>", errUsage)
	}

	password, err := r.password("password: ")
	if err != nil {
		return err
	}

	ctx, cancel := r.context()
	defer cancel()

	id, err := r.backend.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	r.store.Login(id)
	r.printf("* logged in as %s\n", id.Name)

	return r.coord.Start(ctx)
}

// start resumes a persisted session.
func (r *repl) start() error {
	id := r.store.Identity()
	if id.Anonymous() {
		r.printf("* not logged in, use /login <email>\n")
		return nil
	}

	if exp, ok := id.TokenExpiry(); ok && time.Now().After(exp) {
		r.printf("* session expired, use /login <email>\n")
		r.store.Logout()
		return nil
	}

	r.printf("* welcome back %s\n", id.Name)

	ctx, cancel := r.context()
	defer cancel()

	err := r.coord.Start(ctx)
	if rest.IsUnauthorized(err) {
		r.store.Logout()
		return errSessionExpired
	}
	return err
}

func (r *repl) listRooms() error {
	ctx, cancel := r.context()
	defer cancel()

	if err := r.coord.Refresh(ctx); err != nil {
		return err
	}

	rooms := r.coord.Rooms()
	if len(rooms) == 0 {
		r.printf("* no rooms yet, /create one\n")
		return nil
	}

	selected, _ := r.coord.Selected()
	for _, room := range rooms {
		marker := " "
		if room.ChatNo == selected.ChatNo {
			marker = "*"
		}
		r.printf("%s %s\n", marker, formatRoom(room))
	}
	return nil
}

// resolveRoom finds a listed room by number or title. A number that is not
// listed still names a room the user may join.
func (r *repl) resolveRoom(key string) (types.Room, error) {
	if room, ok := r.coord.Find(key); ok {
		return room, nil
	}

	if n, err := strconv.Atoi(strings.TrimPrefix(key, "#")); err == nil && n > 0 {
		return types.Room{ChatNo: n}, nil
	}

	return types.Room{}, fmt.Errorf("no room matches %q", key)
}

func (r *repl) join(key string) error {
	if key == "" {
		return fmt.Errorf("%w: /join <number|title>", errUsage)
	}

	room, err := r.resolveRoom(key)
	if err != nil {
		return err
	}

	ctx, cancel := r.context()
	defer cancel()
	return r.coord.Select(ctx, room)
}

func (r *repl) create(title string) error {
	ctx, cancel := r.context()
	defer cancel()

	room, err := r.coord.CreateRoom(ctx, title)
	if err != nil {
		return err
	}

	r.printf("* created %s\n", formatRoom(room))
	return nil
}

func (r *repl) leave(key string) error {
	var room types.Room
	if key == "" {
		selected, ok := r.coord.Selected()
		if !ok {
			return fmt.Errorf("%w: /leave <number|title>", errUsage)
		}
		room = selected
	} else {
		var err error
		if room, err = r.resolveRoom(key); err != nil {
			return err
		}
	}

	ctx, cancel := r.context()
	defer cancel()

	if err := r.coord.LeaveRoom(ctx, room.ChatNo); err != nil {
		return err
	}

	r.printf("* left #%d\n", room.ChatNo)
	return nil
}

// history prints the current room's messages, or fetches another room's
// without leaving the current one.
func (r *repl) history(key string) error {
	if key == "" {
		for _, m := range r.coord.Messages() {
			r.printf("%s\n", formatMessage(m))
		}
		return nil
	}

	room, err := r.resolveRoom(key)
	if err != nil {
		return err
	}

	ctx, cancel := r.context()
	defer cancel()

	msgs, err := r.backend.RoomMessages(ctx, room.ChatNo)
	if rest.IsNotFound(err) {
		return fmt.Errorf("room #%d does not exist", room.ChatNo)
	}
	if err != nil {
		return err
	}

	if len(msgs) == 0 {
		r.printf("* no messages in #%d\n", room.ChatNo)
		return nil
	}
	for _, m := range msgs {
		r.printf("%s\n", formatMessage(m))
	}
	return nil
}
