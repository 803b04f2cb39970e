package server

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/npezzotti/go-chatroom-client/internal/database"
	"github.com/npezzotti/go-chatroom-client/internal/types"
)

// joinRoom records an authenticated subscriber as a member of the room so
// the room shows up in the member's room list.
func (c *Client) joinRoom(chatNo int) {
	if c.identity.Anonymous() || c.chatServer.db.IsMember(c.identity.Uid, chatNo) {
		return
	}

	if err := c.chatServer.db.AddMember(c.identity.Uid, chatNo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.log.Printf("subscription to unknown room %d", chatNo)
			return
		}
		c.log.Println("AddMember:", err)
	}
}

func (c *Client) handleAddUser(body []byte) {
	var notice types.JoinNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		c.log.Println("error parsing join notice:", err)
		return
	}

	uid := notice.Uid
	if !c.identity.Anonymous() {
		uid = c.identity.Uid
	}
	c.log.Printf("user %q (%s) joined", uid, notice.Name)
}

// saveAndBroadcast stores a message sent to a room and publishes it on the
// room topic. The stored copy carries the assigned cmNo and cDate.
func (c *Client) saveAndBroadcast(chatNo int, body []byte) {
	var msg types.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		c.log.Println("error parsing message:", err)
		return
	}

	if msg.ChatNo == 0 {
		msg.ChatNo = chatNo
	}
	if msg.ChatNo != chatNo {
		c.log.Printf("message for room %d sent to room %d, dropping", msg.ChatNo, chatNo)
		return
	}

	if !c.identity.Anonymous() {
		msg.Uid = c.identity.Uid
		if msg.Name == "" {
			msg.Name = c.identity.Name
		}
	}

	saved, err := c.chatServer.db.CreateMessage(database.Message{
		ChatNo:    msg.ChatNo,
		Uid:       msg.Uid,
		Name:      msg.Name,
		Content:   msg.Message,
		CreatedAt: msg.CDate.Time,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.log.Printf("message to unknown room %d, dropping", chatNo)
		} else {
			c.log.Println("CreateMessage:", err)
		}
		return
	}

	if err := c.chatServer.Publish(toMessage(saved)); err != nil {
		c.log.Println("publish:", err)
	}
}

func toMessage(m database.Message) types.Message {
	return types.Message{
		CmNo:    m.CmNo,
		ChatNo:  m.ChatNo,
		Uid:     m.Uid,
		Name:    m.Name,
		Message: m.Content,
		CDate:   types.NewTimestamp(m.CreatedAt),
	}
}

// ToMessages converts stored messages to their wire form.
func ToMessages(msgs []database.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessage(m))
	}
	return out
}
