package chat

import (
	"context"
	"log"

	"github.com/npezzotti/go-chatroom-client/internal/realtime"
	"github.com/npezzotti/go-chatroom-client/internal/stats"
	"github.com/npezzotti/go-chatroom-client/internal/stomp"
)

type Subscription interface {
	Unsubscribe()
}

// Conn is the realtime channel the coordinator drives.
type Conn interface {
	Connect(ctx context.Context, onReady func()) error
	Connected() bool
	Subscribe(destination string, fn func(body []byte)) (Subscription, error)
	PublishJSON(destination string, v any) bool
	OnStateChange(fn func(realtime.State))
	Close()
}

// DialFunc creates an unconnected channel authenticated with token.
type DialFunc func(token string) (Conn, error)

type managerConn struct {
	*realtime.Manager
}

func (mc managerConn) Subscribe(destination string, fn func(body []byte)) (Subscription, error) {
	sub, err := mc.Manager.Subscribe(destination, func(f *stomp.Frame) { fn(f.Body) })
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// RealtimeDialer returns a DialFunc backed by realtime.Manager.
func RealtimeDialer(wsURL string, logger *log.Logger, st stats.StatsProvider) DialFunc {
	return func(token string) (Conn, error) {
		m, err := realtime.NewManager(wsURL, logger, realtime.Options{Token: token, Stats: st})
		if err != nil {
			return nil, err
		}
		return managerConn{m}, nil
	}
}
