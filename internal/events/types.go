package events

// Server->client socket events
const (
	EventPrivateMessage    = "private_message"
	EventMessageStatus     = "message:status"
	EventTypingStatus      = "typing:status"
	EventPresenceUpdate    = "presence:update"
	EventNotificationNew   = "notification:new"
	EventNotificationCount = "notification:count"
	EventSubmitAck         = "message:ack"
	EventMessageEdited     = "message:edited"
	EventMessageDeleted    = "message:deleted"
	EventError             = "error"
)

// Client->server socket events
const (
	ClientEventSendMessage   = "send_message"
	ClientEventStartTyping   = "start_typing"
	ClientEventStopTyping    = "stop_typing"
	ClientEventMarkRead      = "mark_message_read"
	ClientEventDeliveredAck  = "message_delivered"
	ClientEventEditMessage   = "edit_message"
	ClientEventDeleteMessage = "delete_message"
)

// Redis channel prefixes. Gateway processes bridge these onto their local
// hubs so a worker can reach a user connected anywhere.
const (
	ChannelPrefixUser = "channel:user:"
)

// UserChannel returns the pub/sub channel carrying events for one user.
func UserChannel(userID string) string {
	return ChannelPrefixUser + userID
}
