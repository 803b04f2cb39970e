package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

// Identity is the authenticated user's profile as the client holds it.
type Identity struct {
	Uid         string `json:"uid"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Nick        string `json:"nick,omitempty"`
	Role        string `json:"role,omitempty"`
	Profile     string `json:"profile,omitempty"`
	AccessToken string `json:"accessToken"`
}

// Anonymous reports whether the identity carries no user.
func (i Identity) Anonymous() bool {
	return i.Uid == ""
}

func (i Identity) Validate() error {
	if strings.TrimSpace(i.Uid) == "" {
		return &SchemaError{Kind: "identity", Field: "uid", Reason: "is required"}
	}
	return nil
}

// TokenExpiry reads the exp claim of the access token. The signature is not
// checked; only the issuer can do that.
func (i Identity) TokenExpiry() (time.Time, bool) {
	if i.AccessToken == "" {
		return time.Time{}, false
	}

	token, _, err := new(jwt.Parser).ParseUnverified(i.AccessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return time.Time{}, false
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, false
	}

	return time.Unix(int64(exp), 0), true
}

type Room struct {
	ChatNo int    `json:"chatNo"`
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
}

func (r Room) Validate() error {
	if r.ChatNo <= 0 {
		return &SchemaError{Kind: "room", Field: "chatNo", Reason: "must be positive"}
	}
	return nil
}

type Message struct {
	CmNo    int       `json:"cmNo,omitempty"`
	ChatNo  int       `json:"chatNo"`
	Uid     string    `json:"uid"`
	Name    string    `json:"name"`
	Message string    `json:"message"`
	CDate   Timestamp `json:"cDate"`
}

// Validate checks the fields a message carries. chatNo may be absent since
// histories and topic pushes are already scoped to one room.
func (m Message) Validate() error {
	if m.ChatNo < 0 {
		return &SchemaError{Kind: "message", Field: "chatNo", Reason: "must not be negative"}
	}
	if m.CmNo < 0 {
		return &SchemaError{Kind: "message", Field: "cmNo", Reason: "must not be negative"}
	}
	return nil
}

// InRoom scopes m to room chatNo. A missing chatNo is filled in; a different
// one reports false.
func (m Message) InRoom(chatNo int) (Message, bool) {
	if m.ChatNo == 0 {
		m.ChatNo = chatNo
	}
	return m, m.ChatNo == chatNo
}

// JoinNotice is published when a user enters a room.
type JoinNotice struct {
	Uid  string `json:"uid"`
	Name string `json:"name"`
}

// SchemaError reports a payload that does not match the expected shape.
type SchemaError struct {
	Kind   string
	Field  string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("invalid %s", e.Kind)
	if e.Field != "" {
		msg += fmt.Sprintf(": %s %s", e.Field, e.Reason)
	} else if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// Timestamp accepts both RFC 3339 and the zone-less layout emitted by
// backends that serialize local date-times. Zone-less values are read as UTC.
type Timestamp struct {
	time.Time
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Round(time.Millisecond)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return &SchemaError{Kind: "timestamp", Reason: "must be a string", Err: err}
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}

	for _, layout := range zonelessLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}

	return &SchemaError{Kind: "timestamp", Reason: fmt.Sprintf("unrecognized format %q", s)}
}

// DecodeRoom decodes and validates a single room payload.
func DecodeRoom(data []byte) (Room, error) {
	var r Room
	if err := json.Unmarshal(data, &r); err != nil {
		return Room{}, &SchemaError{Kind: "room", Reason: "malformed json", Err: err}
	}
	if err := r.Validate(); err != nil {
		return Room{}, err
	}
	return r, nil
}

// DecodeRooms decodes and validates a list of rooms. A null body is an empty list.
func DecodeRooms(data []byte) ([]Room, error) {
	var rooms []Room
	if err := json.Unmarshal(data, &rooms); err != nil {
		return nil, &SchemaError{Kind: "room list", Reason: "malformed json", Err: err}
	}
	for _, r := range rooms {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	if rooms == nil {
		rooms = []Room{}
	}
	return rooms, nil
}

// DecodeMessage decodes and validates a single message payload.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, &SchemaError{Kind: "message", Reason: "malformed json", Err: err}
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// DecodeMessages decodes and validates a message history. A null body is an
// empty history.
func DecodeMessages(data []byte) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, &SchemaError{Kind: "message list", Reason: "malformed json", Err: err}
	}
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// DecodeIdentity decodes and validates an identity returned by a login.
func DecodeIdentity(data []byte) (Identity, error) {
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, &SchemaError{Kind: "identity", Reason: "malformed json", Err: err}
	}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}
