package database

import "time"

type Account struct {
	Uid          string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Room struct {
	ChatNo    int
	Title     string
	Status    string
	OwnerUid  string
	CreatedAt time.Time
}

type Message struct {
	CmNo      int
	ChatNo    int
	Uid       string
	Name      string
	Content   string
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Uid          string
	Name         string
	Email        string
	PasswordHash string
}

type CreateRoomParams struct {
	Title    string
	Status   string
	OwnerUid string
}
