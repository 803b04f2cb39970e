package database

import (
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) GetAccountByUid(uid string) (Account, error) {
	args := m.Called(uid)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(email string) (Account, error) {
	args := m.Called(email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoom(chatNo int) (Room, error) {
	args := m.Called(chatNo)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) ListRoomsForAccount(uid string) ([]Room, error) {
	args := m.Called(uid)
	if rooms, ok := args.Get(0).([]Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) AddMember(uid string, chatNo int) error {
	args := m.Called(uid, chatNo)
	return args.Error(0)
}
func (m *MockChatRepository) RemoveMember(uid string, chatNo int) error {
	args := m.Called(uid, chatNo)
	return args.Error(0)
}
func (m *MockChatRepository) IsMember(uid string, chatNo int) bool {
	args := m.Called(uid, chatNo)
	return args.Bool(0)
}
func (m *MockChatRepository) CreateMessage(msg Message) (Message, error) {
	args := m.Called(msg)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessages(chatNo, limit int) ([]Message, error) {
	args := m.Called(chatNo, limit)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
