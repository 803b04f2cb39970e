package server

import (
	"context"
	"fmt"
	"log"

	"github.com/npezzotti/go-chatroom-client/internal/database"
	"github.com/npezzotti/go-chatroom-client/internal/stats"
	"github.com/npezzotti/go-chatroom-client/internal/types"
)

type subscription struct {
	client      *Client
	id          string
	destination string
}

type subscribeReq struct {
	client      *Client
	id          string
	destination string
	unsubscribe bool
}

type stopReq struct {
	done chan struct{}
}

// ChatServer is the broker hub. It owns the set of connected clients and the
// topic subscriptions and fans published messages out to subscribers.
type ChatServer struct {
	log            *log.Logger
	db             database.ChatRepository
	stats          stats.StatsProvider
	relay          Relay
	clients        map[*Client]map[string]*subscription
	topics         map[string]map[*subscription]struct{}
	registerChan   chan *Client
	deRegisterChan chan *Client
	subChan        chan *subscribeReq
	broadcastChan  chan types.Message
	stop           chan stopReq
	done           chan struct{}
}

// NewChatServer creates the hub. Messages published by clients go through
// relay before they reach subscribers; a nil relay delivers in process.
func NewChatServer(logger *log.Logger, db database.ChatRepository, su stats.StatsProvider, relay Relay) (*ChatServer, error) {
	if relay == nil {
		relay = &LocalRelay{}
	}

	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		relay:          relay,
		clients:        make(map[*Client]map[string]*subscription),
		topics:         make(map[string]map[*subscription]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		subChan:        make(chan *subscribeReq),
		broadcastChan:  make(chan types.Message, 256),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}

	cs.stats.RegisterMetric(stats.NumActiveConnections)
	cs.stats.RegisterMetric(stats.NumSubscriptions)
	cs.stats.RegisterMetric(stats.MessagesPublished)

	if err := relay.Subscribe(cs.Broadcast); err != nil {
		return nil, fmt.Errorf("relay subscribe: %w", err)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	for {
		select {
		case c := <-cs.registerChan:
			cs.log.Printf("adding connection from %q", c.identity.Uid)
			cs.clients[c] = make(map[string]*subscription)
			cs.stats.Incr(stats.NumActiveConnections)
		case c := <-cs.deRegisterChan:
			cs.log.Printf("removing connection from %q", c.identity.Uid)
			cs.removeClient(c)
		case req := <-cs.subChan:
			if req.unsubscribe {
				cs.removeSubscription(req.client, req.id)
			} else {
				cs.addSubscription(req)
			}
		case msg := <-cs.broadcastChan:
			cs.broadcast(msg)
		case req := <-cs.stop:
			cs.log.Println("stopping client connections")
			for c := range cs.clients {
				c.stopClient()
			}
			close(req.done)
			return
		}
	}
}

func (cs *ChatServer) removeClient(c *Client) {
	subs, ok := cs.clients[c]
	if !ok {
		return
	}

	for id := range subs {
		cs.removeSubscription(c, id)
	}
	delete(cs.clients, c)
	cs.stats.Decr(stats.NumActiveConnections)
}

func (cs *ChatServer) addSubscription(req *subscribeReq) {
	subs, ok := cs.clients[req.client]
	if !ok {
		return
	}

	// a reused id replaces the earlier subscription
	cs.removeSubscription(req.client, req.id)

	sub := &subscription{client: req.client, id: req.id, destination: req.destination}
	subs[req.id] = sub

	if cs.topics[req.destination] == nil {
		cs.topics[req.destination] = make(map[*subscription]struct{})
	}
	cs.topics[req.destination][sub] = struct{}{}
	cs.stats.Incr(stats.NumSubscriptions)
}

func (cs *ChatServer) removeSubscription(c *Client, id string) {
	sub, ok := cs.clients[c][id]
	if !ok {
		return
	}

	delete(cs.clients[c], id)
	if topic := cs.topics[sub.destination]; topic != nil {
		delete(topic, sub)
		if len(topic) == 0 {
			delete(cs.topics, sub.destination)
		}
	}
	cs.stats.Decr(stats.NumSubscriptions)
}

// broadcast delivers msg to every subscriber of its room topic, the sender
// included.
func (cs *ChatServer) broadcast(msg types.Message) {
	body, err := serializeMessage(msg)
	if err != nil {
		cs.log.Println("failed to serialize message:", err)
		return
	}

	dest := types.RoomTopic(msg.ChatNo)
	for sub := range cs.topics[dest] {
		sub.client.queueFrame(messageFrame(sub, body))
	}
	cs.stats.Incr(stats.MessagesPublished)
}

// Broadcast hands msg to the hub for local fan-out.
func (cs *ChatServer) Broadcast(msg types.Message) {
	select {
	case cs.broadcastChan <- msg:
	case <-cs.done:
	}
}

// Publish sends a stored message to every instance sharing the relay.
func (cs *ChatServer) Publish(msg types.Message) error {
	return cs.relay.Publish(msg)
}

func (cs *ChatServer) register(c *Client) bool {
	select {
	case cs.registerChan <- c:
		return true
	case <-cs.done:
		return false
	}
}

func (cs *ChatServer) deregister(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

// subscribe returns once the hub has recorded the subscription, so a SEND
// that follows on the same connection is delivered back to it.
func (cs *ChatServer) subscribe(c *Client, id, destination string) {
	select {
	case cs.subChan <- &subscribeReq{client: c, id: id, destination: destination}:
	case <-cs.done:
	}
}

func (cs *ChatServer) unsubscribe(c *Client, id string) {
	select {
	case cs.subChan <- &subscribeReq{client: c, id: id, unsubscribe: true}:
	case <-cs.done:
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
