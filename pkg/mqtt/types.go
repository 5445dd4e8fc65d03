package mqtt

import (
	"context"
	"errors"
)

// ErrNotStarted is returned by operations issued before Start.
var ErrNotStarted = errors.New("mqtt: client not started")

// MessageHandler processes one received message. Handlers run on their own goroutine.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client abstracts the paho connection manager.
type Client interface {
	// Start initiates the connection to the broker.
	// It is non-blocking and returns immediately. Use AwaitConnection to wait.
	Start(ctx context.Context) error

	// Disconnect cleanly closes the connection.
	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers a handler for a topic filter. Subscriptions are
	// restored after a reconnect.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe removes the handler and sends an UNSUBSCRIBE packet.
	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the client is connected to the broker.
	AwaitConnection(ctx context.Context) error

	IsConnected() bool
}
