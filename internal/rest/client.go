// Package rest is the HTTP client for the chat backend's REST endpoints.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/npezzotti/go-chatroom-client/internal/types"
)

const maxResponseSize = 4 << 20

// TokenSource supplies the bearer token for each request. An empty token
// sends no Authorization header.
type TokenSource interface {
	Token() string
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     *log.Logger
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateRoomRequest struct {
	Title  string `json:"title"`
	Status string `json:"status"`
}

const RoomStatusActive = "active"

func NewClient(baseURL string, httpClient *http.Client, tokens TokenSource, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		log:     logger,
	}
}

// Login exchanges credentials for an identity.
func (c *Client) Login(ctx context.Context, email, password string) (types.Identity, error) {
	body, err := c.do(ctx, http.MethodPost, "/auth/login", nil, LoginRequest{Email: email, Password: password})
	if err != nil {
		return types.Identity{}, err
	}

	id, err := types.DecodeIdentity(body)
	if err != nil {
		return types.Identity{}, fmt.Errorf("login: %w", err)
	}
	return id, nil
}

// ListRooms fetches the rooms uid belongs to.
func (c *Client) ListRooms(ctx context.Context, uid string) ([]types.Room, error) {
	body, err := c.do(ctx, http.MethodGet, "/user/"+url.PathEscape(uid), nil, nil)
	if err != nil {
		return nil, err
	}

	rooms, err := types.DecodeRooms(body)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// CreateRoom creates an active room owned by uid.
func (c *Client) CreateRoom(ctx context.Context, uid, title string) (types.Room, error) {
	req := CreateRoomRequest{Title: title, Status: RoomStatusActive}
	body, err := c.do(ctx, http.MethodPost, "/chatroom/"+url.PathEscape(uid), nil, req)
	if err != nil {
		return types.Room{}, err
	}

	room, err := types.DecodeRoom(body)
	if err != nil {
		return types.Room{}, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

// LeaveRoom removes uid from the room.
func (c *Client) LeaveRoom(ctx context.Context, uid string, chatNo int) error {
	q := url.Values{}
	q.Set("uid", uid)
	q.Set("chatNo", strconv.Itoa(chatNo))

	_, err := c.do(ctx, http.MethodDelete, "/chatroom", q, nil)
	return err
}

// Messages fetches the history of a room in chronological order.
func (c *Client) Messages(ctx context.Context, chatNo int) ([]types.Message, error) {
	q := url.Values{}
	q.Set("chatNo", strconv.Itoa(chatNo))

	body, err := c.do(ctx, http.MethodGet, "/chat/messages", q, nil)
	if err != nil {
		return nil, err
	}

	msgs, err := types.DecodeMessages(body)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	return msgs, nil
}

// RoomMessages fetches the history of a room through the room resource.
func (c *Client) RoomMessages(ctx context.Context, chatNo int) ([]types.Message, error) {
	body, err := c.do(ctx, http.MethodGet, "/chatroom/"+strconv.Itoa(chatNo), nil, nil)
	if err != nil {
		return nil, err
	}

	msgs, err := types.DecodeMessages(body)
	if err != nil {
		return nil, fmt.Errorf("room messages: %w", err)
	}
	return msgs, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.ToLower(http.StatusText(resp.StatusCode))
		}
		// the body may carry its own status; the transport status wins
		apiErr.StatusCode = resp.StatusCode
		c.log.Printf("%s %s: %v", method, path, apiErr)
		return nil, apiErr
	}

	return body, nil
}

func hasStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
