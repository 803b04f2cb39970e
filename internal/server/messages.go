package server

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatroom-client/internal/stomp"
	"github.com/npezzotti/go-chatroom-client/internal/types"
)

const serverName = "go-chatroom/1.0"

func connectedFrame() *stomp.Frame {
	return stomp.NewFrame(stomp.Connected,
		stomp.HdrVersion, "1.2",
		stomp.HdrHeartBeat, "0,0",
		"server", serverName,
	)
}

func messageFrame(sub *subscription, body []byte) *stomp.Frame {
	f := stomp.NewFrame(stomp.Message,
		stomp.HdrSubscription, sub.id,
		stomp.HdrDestination, sub.destination,
		stomp.HdrMessageID, uuid.NewString(),
		stomp.HdrContentType, "application/json",
	)
	f.Body = body
	return f
}

func errorFrame(message, details string) *stomp.Frame {
	f := stomp.NewFrame(stomp.Error, stomp.HdrMessage, message)
	if details != "" {
		f.Set(stomp.HdrContentType, "text/plain")
		f.Body = []byte(details)
	}
	return f
}

func receiptFrame(receiptId string) *stomp.Frame {
	return stomp.NewFrame(stomp.Receipt, stomp.HdrReceiptID, receiptId)
}

func serializeMessage(msg types.Message) ([]byte, error) {
	return json.Marshal(msg)
}
