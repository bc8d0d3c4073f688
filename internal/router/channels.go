package router

import "strings"

// Channel layout for routed messages. Targeted channels carry the target id
// as their last segment; instances subscribe to the targeted families by
// pattern and to the broadcast channel directly.
const (
	ChannelBroadcast = "ws:broadcast"

	userChannelPrefix       = "ws:user:"
	connectionChannelPrefix = "ws:connection:"
	roomChannelPrefix       = "ws:room:"

	PatternUserChannels       = userChannelPrefix + "*"
	PatternConnectionChannels = connectionChannelPrefix + "*"
	PatternRoomChannels       = roomChannelPrefix + "*"
)

// ChannelForUser returns the channel addressing all connections of a user.
func ChannelForUser(userID string) string {
	return userChannelPrefix + userID
}

// ChannelForConnection returns the channel addressing a single connection.
func ChannelForConnection(connectionID string) string {
	return connectionChannelPrefix + connectionID
}

// ChannelForRoom returns the channel addressing all members of a room.
func ChannelForRoom(roomID string) string {
	return roomChannelPrefix + roomID
}

// UserFromChannel extracts the user id from a user channel name.
func UserFromChannel(channel string) (string, bool) {
	return targetFrom(channel, userChannelPrefix)
}

// ConnectionFromChannel extracts the connection id from a connection channel.
func ConnectionFromChannel(channel string) (string, bool) {
	return targetFrom(channel, connectionChannelPrefix)
}

// RoomFromChannel extracts the room id from a room channel name.
func RoomFromChannel(channel string) (string, bool) {
	return targetFrom(channel, roomChannelPrefix)
}

func targetFrom(channel, prefix string) (string, bool) {
	target, ok := strings.CutPrefix(channel, prefix)
	if !ok || target == "" {
		return "", false
	}
	return target, true
}

// channelKind classifies a channel for metrics labels.
func channelKind(channel string) string {
	switch {
	case channel == ChannelBroadcast:
		return "broadcast"
	case strings.HasPrefix(channel, userChannelPrefix):
		return "user"
	case strings.HasPrefix(channel, connectionChannelPrefix):
		return "connection"
	case strings.HasPrefix(channel, roomChannelPrefix):
		return "room"
	default:
		return "other"
	}
}
