package database

import (
	"database/sql"
	"slices"
	"sync"
	"time"
)

// MemoryRepository keeps everything in process memory. It is the default
// store of the development backend.
type MemoryRepository struct {
	mu         sync.RWMutex
	accounts   map[string]Account
	emails     map[string]string
	rooms      map[int]Room
	members    map[int]map[string]struct{}
	messages   map[int][]Message
	nextChatNo int
	nextCmNo   int
	now        func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]Account),
		emails:   make(map[string]string),
		rooms:    make(map[int]Room),
		members:  make(map[int]map[string]struct{}),
		messages: make(map[int][]Message),
		now:      time.Now,
	}
}

func (m *MemoryRepository) Ping() error {
	return nil
}

func (m *MemoryRepository) Close() error {
	return nil
}

func (m *MemoryRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[params.Uid]; ok {
		return Account{}, ErrConflict
	}
	if _, ok := m.emails[params.Email]; ok {
		return Account{}, ErrConflict
	}

	a := Account{
		Uid:          params.Uid,
		Name:         params.Name,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		CreatedAt:    m.now().UTC(),
	}
	m.accounts[a.Uid] = a
	m.emails[a.Email] = a.Uid

	return a, nil
}

func (m *MemoryRepository) GetAccountByUid(uid string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[uid]
	if !ok {
		return Account{}, sql.ErrNoRows
	}
	return a, nil
}

func (m *MemoryRepository) GetAccountByEmail(email string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uid, ok := m.emails[email]
	if !ok {
		return Account{}, sql.ErrNoRows
	}
	return m.accounts[uid], nil
}

func (m *MemoryRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextChatNo++
	r := Room{
		ChatNo:    m.nextChatNo,
		Title:     params.Title,
		Status:    params.Status,
		OwnerUid:  params.OwnerUid,
		CreatedAt: m.now().UTC(),
	}
	m.rooms[r.ChatNo] = r
	m.members[r.ChatNo] = map[string]struct{}{params.OwnerUid: {}}

	return r, nil
}

func (m *MemoryRepository) GetRoom(chatNo int) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[chatNo]
	if !ok {
		return Room{}, sql.ErrNoRows
	}
	return r, nil
}

func (m *MemoryRepository) ListRoomsForAccount(uid string) ([]Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]Room, 0)
	for chatNo, members := range m.members {
		if _, ok := members[uid]; ok {
			rooms = append(rooms, m.rooms[chatNo])
		}
	}
	slices.SortFunc(rooms, func(a, b Room) int { return a.ChatNo - b.ChatNo })

	return rooms, nil
}

func (m *MemoryRepository) AddMember(uid string, chatNo int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[chatNo]; !ok {
		return sql.ErrNoRows
	}
	m.members[chatNo][uid] = struct{}{}
	return nil
}

func (m *MemoryRepository) RemoveMember(uid string, chatNo int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.members[chatNo]
	if !ok {
		return sql.ErrNoRows
	}
	if _, ok := members[uid]; !ok {
		return sql.ErrNoRows
	}
	delete(members, uid)
	return nil
}

func (m *MemoryRepository) IsMember(uid string, chatNo int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.members[chatNo][uid]
	return ok
}

func (m *MemoryRepository) CreateMessage(msg Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[msg.ChatNo]; !ok {
		return Message{}, sql.ErrNoRows
	}

	m.nextCmNo++
	msg.CmNo = m.nextCmNo
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now().UTC()
	}
	m.messages[msg.ChatNo] = append(m.messages[msg.ChatNo], msg)

	return msg, nil
}

func (m *MemoryRepository) GetMessages(chatNo, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.rooms[chatNo]; !ok {
		return nil, sql.ErrNoRows
	}

	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	msgs := m.messages[chatNo]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}
