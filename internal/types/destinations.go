package types

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	topicPrefix        = "/topic/chatroom/"
	sendPrefix         = "/app/chat.sendMessage/"
	AddUserDestination = "/app/chat.addUser"
)

// RoomTopic is the broadcast stream for a room.
func RoomTopic(chatNo int) string {
	return fmt.Sprintf("%s%d", topicPrefix, chatNo)
}

// SendDestination is where clients publish messages for a room.
func SendDestination(chatNo int) string {
	return fmt.Sprintf("%s%d", sendPrefix, chatNo)
}

func ParseRoomTopic(dest string) (int, bool) {
	return parseRoomSuffix(dest, topicPrefix)
}

func ParseSendDestination(dest string) (int, bool) {
	return parseRoomSuffix(dest, sendPrefix)
}

func parseRoomSuffix(dest, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(dest, prefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
