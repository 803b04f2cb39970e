package server

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/npezzotti/go-chatroom-client/internal/types"
)

// Relay carries published messages to every backend instance.
type Relay interface {
	Publish(msg types.Message) error
	// Subscribe registers the local delivery function.
	Subscribe(deliver func(types.Message)) error
	Close()
}

// LocalRelay delivers in process, for a single backend instance.
type LocalRelay struct {
	mu      sync.RWMutex
	deliver func(types.Message)
}

func (r *LocalRelay) Publish(msg types.Message) error {
	r.mu.RLock()
	deliver := r.deliver
	r.mu.RUnlock()

	if deliver == nil {
		return fmt.Errorf("relay has no subscriber")
	}
	deliver(msg)
	return nil
}

func (r *LocalRelay) Subscribe(deliver func(types.Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliver = deliver
	return nil
}

func (r *LocalRelay) Close() {}

const subjectPrefix = "chatroom"

func roomSubject(chatNo int) string {
	return fmt.Sprintf("%s.%d", subjectPrefix, chatNo)
}

func subjectRoom(subject string) (int, bool) {
	n, ok := strings.CutPrefix(subject, subjectPrefix+".")
	if !ok {
		return 0, false
	}
	chatNo, err := strconv.Atoi(n)
	return chatNo, err == nil && chatNo > 0
}

// NatsRelay shares room topics between backend instances through NATS
// subjects chatroom.<chatNo>.
type NatsRelay struct {
	nc  *nats.Conn
	sub *nats.Subscription
	log *log.Logger
}

func NewNatsRelay(url string, logger *log.Logger) (*NatsRelay, error) {
	nc, err := nats.Connect(url, nats.Name("go-chatroom"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NatsRelay{nc: nc, log: logger}, nil
}

func (r *NatsRelay) Publish(msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	subject := roomSubject(msg.ChatNo)
	if err := r.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish message to subject '%s': %w", subject, err)
	}
	return nil
}

func (r *NatsRelay) Subscribe(deliver func(types.Message)) error {
	sub, err := r.nc.Subscribe(subjectPrefix+".*", func(m *nats.Msg) {
		chatNo, ok := subjectRoom(m.Subject)
		if !ok {
			r.log.Printf("ignoring message on subject '%s'", m.Subject)
			return
		}
		msg, err := types.DecodeMessage(m.Data)
		if err != nil {
			r.log.Printf("error decoding message from subject '%s': %v", m.Subject, err)
			return
		}
		if msg, ok = msg.InRoom(chatNo); !ok {
			r.log.Printf("message for room %d on subject '%s', dropping", msg.ChatNo, m.Subject)
			return
		}
		deliver(msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to '%s.*': %w", subjectPrefix, err)
	}

	r.sub = sub
	return nil
}

func (r *NatsRelay) Close() {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	if r.nc != nil {
		r.nc.Drain()
	}
}
