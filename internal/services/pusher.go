package services

import (
	"context"

	"relay-chat/internal/events"

	"github.com/google/uuid"
)

// Pusher delivers a payload to all of a user's live connections, wherever
// they are attached. The bool result reports whether the user had at least
// one live connection, which callers use to decide whether to also notify.
type Pusher interface {
	Push(ctx context.Context, userID uuid.UUID, event string, payload interface{}) (bool, error)
}

// OnlineChecker reports whether a user has at least one live socket.
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// ChannelPublisher publishes a raw frame onto a fanout channel.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ChannelPusher implements Pusher for processes that hold no sockets of
// their own, such as the persistence worker. Delivery goes over the shared
// user channel; whichever gateway process holds the sockets forwards it.
type ChannelPusher struct {
	presence  OnlineChecker
	publisher ChannelPublisher
}

func NewChannelPusher(presence OnlineChecker, publisher ChannelPublisher) *ChannelPusher {
	return &ChannelPusher{presence: presence, publisher: publisher}
}

func (p *ChannelPusher) Push(ctx context.Context, userID uuid.UUID, event string, payload interface{}) (bool, error) {
	online, err := p.presence.IsOnline(ctx, userID.String())
	if err != nil {
		return false, err
	}
	if !online {
		return false, nil
	}

	raw, err := events.NewFrame(event, payload)
	if err != nil {
		return false, err
	}
	if err := p.publisher.Publish(ctx, events.UserChannel(userID.String()), raw); err != nil {
		return false, err
	}
	return true, nil
}
