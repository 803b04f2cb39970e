package database

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	addMemberQuery = "INSERT INTO memberships (account_uid, chat_no, created_at) VALUES ($1, $2, $3) " +
		"ON CONFLICT (account_uid, chat_no) DO NOTHING"
)

func (db *PgRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (uid, name, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING uid, name, email, created_at",
		params.Uid,
		params.Name,
		params.Email,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var a Account
	err := res.Scan(
		&a.Uid,
		&a.Name,
		&a.Email,
		&a.CreatedAt,
	)
	if err != nil {
		return Account{}, mapError(err)
	}

	return a, nil
}

func (db *PgRepository) GetAccountByUid(uid string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT uid, name, email, password_hash, created_at FROM accounts "+
			"WHERE uid = $1 LIMIT 1",
		uid,
	)

	var a Account
	err := row.Scan(
		&a.Uid,
		&a.Name,
		&a.Email,
		&a.PasswordHash,
		&a.CreatedAt,
	)

	return a, err
}

func (db *PgRepository) GetAccountByEmail(email string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT uid, name, email, password_hash, created_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var a Account
	err := row.Scan(
		&a.Uid,
		&a.Name,
		&a.Email,
		&a.PasswordHash,
		&a.CreatedAt,
	)

	return a, err
}

func (db *PgRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res := tx.QueryRow(
		"INSERT INTO rooms (title, status, owner_uid, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING chat_no, title, status, owner_uid, created_at",
		params.Title,
		params.Status,
		params.OwnerUid,
		now,
	)

	var room Room
	err = res.Scan(
		&room.ChatNo,
		&room.Title,
		&room.Status,
		&room.OwnerUid,
		&room.CreatedAt,
	)
	if err != nil {
		return Room{}, err
	}

	_, err = tx.Exec(addMemberQuery, params.OwnerUid, room.ChatNo, now)
	if err != nil {
		return Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, nil
}

func (db *PgRepository) GetRoom(chatNo int) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT chat_no, title, status, owner_uid, created_at FROM rooms "+
			"WHERE chat_no = $1 LIMIT 1",
		chatNo,
	)

	var room Room
	err := row.Scan(
		&room.ChatNo,
		&room.Title,
		&room.Status,
		&room.OwnerUid,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgRepository) ListRoomsForAccount(uid string) ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT r.chat_no, r.title, r.status, r.owner_uid, r.created_at FROM memberships m "+
			"JOIN rooms r ON r.chat_no = m.chat_no WHERE m.account_uid = $1 ORDER BY r.chat_no",
		uid,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ChatNo, &room.Title, &room.Status, &room.OwnerUid, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rooms = append(rooms, room)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return rooms, nil
}

func (db *PgRepository) AddMember(uid string, chatNo int) error {
	if _, err := db.GetRoom(chatNo); err != nil {
		return err
	}

	_, err := db.conn.Exec(addMemberQuery, uid, chatNo, time.Now().UTC())
	return err
}

func (db *PgRepository) RemoveMember(uid string, chatNo int) error {
	res, err := db.conn.Exec(
		"DELETE FROM memberships WHERE account_uid = $1 AND chat_no = $2",
		uid,
		chatNo,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgRepository) IsMember(uid string, chatNo int) bool {
	res := db.conn.QueryRow(
		"SELECT 1 FROM memberships WHERE account_uid = $1 AND chat_no = $2 LIMIT 1",
		uid,
		chatNo,
	)

	var one int
	return res.Scan(&one) == nil
}

func (db *PgRepository) CreateMessage(msg Message) (Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	res := db.conn.QueryRow(
		"INSERT INTO messages (chat_no, uid, name, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING cm_no",
		msg.ChatNo,
		msg.Uid,
		msg.Name,
		msg.Content,
		msg.CreatedAt,
	)

	if err := res.Scan(&msg.CmNo); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgRepository) GetMessages(chatNo, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	if _, err := db.GetRoom(chatNo); err != nil {
		return nil, err
	}

	// newest page first, then flipped so callers get chronological order
	rows, err := db.conn.Query(
		"SELECT cm_no, chat_no, uid, name, content, created_at FROM messages "+
			"WHERE chat_no = $1 ORDER BY cm_no DESC LIMIT $2",
		chatNo,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.CmNo, &msg.ChatNo, &msg.Uid, &msg.Name, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
