package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"

	"github.com/npezzotti/go-chatroom-client/internal/types"
)

var (
	ErrEmptyTitle = errors.New("room title is required")
	ErrNoIdentity = errors.New("not logged in")
	// ErrRoomsCleared is returned when the list was cleared while a call
	// was in flight. The call's result is discarded.
	ErrRoomsCleared = errors.New("room list cleared")
)

// RoomService is the server side of the room list.
type RoomService interface {
	ListRooms(ctx context.Context, uid string) ([]types.Room, error)
	CreateRoom(ctx context.Context, uid, title string) (types.Room, error)
	LeaveRoom(ctx context.Context, uid string, chatNo int) error
}

// RoomList mirrors the rooms a user belongs to. The server is the source of
// truth; the list only changes in response to successful calls.
type RoomList struct {
	svc RoomService
	log *log.Logger

	mu    sync.RWMutex
	rooms []types.Room
	epoch uint64
}

func NewRoomList(svc RoomService, logger *log.Logger) *RoomList {
	return &RoomList{svc: svc, log: logger}
}

// Refresh replaces the list with the server's view. On failure the previous
// list is kept.
func (rl *RoomList) Refresh(ctx context.Context, uid string) error {
	if uid == "" {
		return ErrNoIdentity
	}

	epoch := rl.currentEpoch()

	rooms, err := rl.svc.ListRooms(ctx, uid)
	if err != nil {
		rl.log.Printf("list rooms for %q: %v", uid, err)
		return fmt.Errorf("list rooms: %w", err)
	}

	unique := make([]types.Room, 0, len(rooms))
	seen := make(map[int]struct{}, len(rooms))
	for _, r := range rooms {
		if _, ok := seen[r.ChatNo]; ok {
			continue
		}
		seen[r.ChatNo] = struct{}{}
		unique = append(unique, r)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.epoch != epoch {
		rl.log.Printf("discarding rooms of %q, list was cleared", uid)
		return ErrRoomsCleared
	}
	rl.rooms = unique

	return nil
}

// Create asks the server for a new room and adds it to the list.
func (rl *RoomList) Create(ctx context.Context, uid, title string) (types.Room, error) {
	if uid == "" {
		return types.Room{}, ErrNoIdentity
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return types.Room{}, ErrEmptyTitle
	}

	epoch := rl.currentEpoch()

	room, err := rl.svc.CreateRoom(ctx, uid, title)
	if err != nil {
		rl.log.Printf("create room %q: %v", title, err)
		return types.Room{}, fmt.Errorf("create room: %w", err)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.epoch != epoch {
		return types.Room{}, ErrRoomsCleared
	}

	if i := rl.indexLocked(room.ChatNo); i >= 0 {
		rl.rooms[i] = room
	} else {
		rl.rooms = append(rl.rooms, room)
	}

	return room, nil
}

// Leave removes the user from a room. The room disappears from the list only
// once the server has acknowledged the removal.
func (rl *RoomList) Leave(ctx context.Context, uid string, chatNo int) error {
	if uid == "" {
		return ErrNoIdentity
	}

	if err := rl.svc.LeaveRoom(ctx, uid, chatNo); err != nil {
		rl.log.Printf("leave room %d: %v", chatNo, err)
		return fmt.Errorf("leave room: %w", err)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if i := rl.indexLocked(chatNo); i >= 0 {
		rl.rooms = slices.Delete(rl.rooms, i, i+1)
	}

	return nil
}

func (rl *RoomList) currentEpoch() uint64 {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.epoch
}

func (rl *RoomList) indexLocked(chatNo int) int {
	return slices.IndexFunc(rl.rooms, func(r types.Room) bool { return r.ChatNo == chatNo })
}

func (rl *RoomList) Rooms() []types.Room {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return slices.Clone(rl.rooms)
}

func (rl *RoomList) Get(chatNo int) (types.Room, bool) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if i := rl.indexLocked(chatNo); i >= 0 {
		return rl.rooms[i], true
	}
	return types.Room{}, false
}

// Clear empties the list. Refresh and Create calls already in flight are
// discarded.
func (rl *RoomList) Clear() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rooms = nil
	rl.epoch++
}
