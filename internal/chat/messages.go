package chat

import (
	"sync"

	"github.com/npezzotti/go-chatroom-client/internal/types"
)

// MessageLog is the ordered message sequence of the selected room. Messages
// keep receipt order and are unique by cmNo. Messages without a cmNo are
// always kept.
type MessageLog struct {
	mu   sync.RWMutex
	msgs []types.Message
	seen map[int]struct{}
}

func NewMessageLog() *MessageLog {
	return &MessageLog{seen: make(map[int]struct{})}
}

// Append adds m unless a message with the same cmNo is already present. It
// reports whether m was added.
func (l *MessageLog) Append(m types.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m.CmNo != 0 {
		if _, ok := l.seen[m.CmNo]; ok {
			return false
		}
		l.seen[m.CmNo] = struct{}{}
	}

	l.msgs = append(l.msgs, m)
	return true
}

// Replace overwrites the sequence with msgs as given. No sorting is done.
func (l *MessageLog) Replace(msgs []types.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.msgs = append([]types.Message(nil), msgs...)
	l.seen = make(map[int]struct{}, len(msgs))
	for _, m := range msgs {
		if m.CmNo != 0 {
			l.seen[m.CmNo] = struct{}{}
		}
	}
}

func (l *MessageLog) Reset() {
	l.Replace(nil)
}

func (l *MessageLog) Contains(cmNo int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[cmNo]
	return ok
}

// Messages returns a copy of the sequence.
func (l *MessageLog) Messages() []types.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]types.Message(nil), l.msgs...)
}

func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}
