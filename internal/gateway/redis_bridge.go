package gateway

import (
	"context"
	"strings"

	"relay-chat/internal/events"
)

// ChannelSubscriber is the pub/sub side the bridge listens on.
type ChannelSubscriber interface {
	Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error
}

// RedisBridge relays user-channel events from pub/sub onto this process's
// hub, so a worker or another gateway can reach clients connected here.
type RedisBridge struct {
	subscriber ChannelSubscriber
	hub        *Hub
}

func NewRedisBridge(subscriber ChannelSubscriber, hub *Hub) *RedisBridge {
	return &RedisBridge{subscriber: subscriber, hub: hub}
}

func (b *RedisBridge) Run(ctx context.Context) error {
	return b.subscriber.Subscribe(ctx, []string{events.ChannelPrefixUser + "*"}, func(channel string, payload []byte) {
		userID := strings.TrimPrefix(channel, events.ChannelPrefixUser)
		if userID == "" {
			return
		}
		b.hub.SendToUser(userID, payload)
	})
}
