package server

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatroom-client/internal/stomp"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	// publishRate and publishBurst bound SEND frames per connection.
	publishRate  = 10
	publishBurst = 20
)

var errUnauthorized = errors.New("unauthorized")

// Authenticator resolves a bearer token presented on CONNECT.
type Authenticator func(token string) (types.Identity, error)

// Client is one STOMP session over a WebSocket connection.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	auth       Authenticator
	identity   types.Identity
	send       chan []byte
	stop       chan struct{}
	stopOnce   sync.Once
	limiter    *rate.Limiter
	// subs maps subscription ids to destinations. Only Read touches it.
	subs map[string]string
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *log.Logger, auth Authenticator) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		auth:       auth,
		send:       make(chan []byte, 256),
		stop:       make(chan struct{}),
		limiter:    rate.NewLimiter(rate.Limit(publishRate), publishBurst),
		subs:       make(map[string]string),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.sendMessage(websocket.TextMessage, msg) {
				return
			}
		case <-c.stop:
			c.flush()
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// flush writes frames queued before the client was stopped.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if !c.sendMessage(websocket.TextMessage, msg) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) Read() {
	registered := false
	defer func() {
		if registered {
			c.chatServer.deregister(c)
		}
		c.stopClient()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		f, err := stomp.Parse(raw)
		if err != nil {
			c.log.Println("error parsing frame:", err)
			c.queueFrame(errorFrame("malformed frame", err.Error()))
			return
		}
		if f == nil {
			continue
		}

		if !registered {
			if !c.handleConnect(f) {
				return
			}
			if !c.chatServer.register(c) {
				return
			}
			registered = true
			continue
		}

		switch f.Command {
		case stomp.Subscribe:
			if !c.handleSubscribe(f) {
				return
			}
		case stomp.Unsubscribe:
			if !c.handleUnsubscribe(f) {
				return
			}
		case stomp.Send:
			if !c.handleSend(f) {
				return
			}
		case stomp.Disconnect:
			if receipt := f.Header(stomp.HdrReceipt); receipt != "" {
				c.queueFrame(receiptFrame(receipt))
			}
			return
		default:
			c.queueFrame(errorFrame("unsupported command", f.Command))
			return
		}
	}
}

func (c *Client) handleConnect(f *stomp.Frame) bool {
	if f.Command != stomp.Connect && f.Command != stomp.Stomp {
		c.queueFrame(errorFrame("expected CONNECT", f.Command))
		return false
	}

	if v := f.Header(stomp.HdrAcceptVersion); v != "" && !strings.Contains(v, "1.2") {
		c.queueFrame(errorFrame("unsupported protocol version", "supported version is 1.2"))
		return false
	}

	token, hasToken := strings.CutPrefix(f.Header(stomp.HdrAuthorization), "Bearer ")
	if hasToken && c.auth != nil {
		id, err := c.auth(token)
		if err != nil {
			c.log.Println("connect:", err)
			c.queueFrame(errorFrame(errUnauthorized.Error(), "invalid token"))
			return false
		}
		c.identity = id
	}

	c.queueFrame(connectedFrame())
	return true
}

func (c *Client) handleSubscribe(f *stomp.Frame) bool {
	id, dest := f.Header(stomp.HdrID), f.Header(stomp.HdrDestination)
	if id == "" || dest == "" {
		c.queueFrame(errorFrame("invalid SUBSCRIBE", "id and destination are required"))
		return false
	}

	chatNo, ok := types.ParseRoomTopic(dest)
	if !ok {
		c.queueFrame(errorFrame("unknown destination", dest))
		return false
	}

	c.joinRoom(chatNo)

	c.subs[id] = dest
	c.chatServer.subscribe(c, id, dest)
	return true
}

func (c *Client) handleUnsubscribe(f *stomp.Frame) bool {
	id := f.Header(stomp.HdrID)
	if id == "" {
		c.queueFrame(errorFrame("invalid UNSUBSCRIBE", "id is required"))
		return false
	}

	if _, ok := c.subs[id]; ok {
		delete(c.subs, id)
		c.chatServer.unsubscribe(c, id)
	}
	return true
}

func (c *Client) handleSend(f *stomp.Frame) bool {
	dest := f.Header(stomp.HdrDestination)
	if dest == types.AddUserDestination {
		c.handleAddUser(f.Body)
		return true
	}

	chatNo, ok := types.ParseSendDestination(dest)
	if !ok {
		c.queueFrame(errorFrame("unknown destination", dest))
		return false
	}

	if !c.limiter.Allow() {
		c.log.Printf("publish rate exceeded for %q, dropping message to room %d", c.identity.Uid, chatNo)
		return true
	}

	c.saveAndBroadcast(chatNo, f.Body)
	return true
}

func (c *Client) queueFrame(f *stomp.Frame) bool {
	select {
	case c.send <- f.Marshal():
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
