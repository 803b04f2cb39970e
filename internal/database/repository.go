package database

import "errors"

// ErrConflict is returned when a unique key is already taken.
var ErrConflict = errors.New("already exists")

const DefaultMessageLimit = 100

// ChatRepository stores accounts, rooms, memberships and messages. Lookups
// of missing rows return sql.ErrNoRows.
type ChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (Account, error)
	GetAccountByUid(uid string) (Account, error)
	GetAccountByEmail(email string) (Account, error)
	// CreateRoom stores the room and makes its owner a member.
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoom(chatNo int) (Room, error)
	ListRoomsForAccount(uid string) ([]Room, error)
	AddMember(uid string, chatNo int) error
	RemoveMember(uid string, chatNo int) error
	IsMember(uid string, chatNo int) bool
	// CreateMessage assigns the message number and, when unset, the
	// creation time.
	CreateMessage(msg Message) (Message, error)
	// GetMessages returns the latest messages of a room, oldest first.
	GetMessages(chatNo, limit int) ([]Message, error)
	Close() error
}
