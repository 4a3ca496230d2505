package rabbitmq

import "errors"

var (
	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = errors.New("rabbitmq: client is closed")

	// ErrNotConnected is returned when no live broker connection exists.
	ErrNotConnected = errors.New("rabbitmq: not connected")

	// ErrMaxReconnectAttempts is returned once the reconnect loop has
	// exhausted its attempt budget. The client is unusable afterwards.
	ErrMaxReconnectAttempts = errors.New("rabbitmq: max reconnect attempts reached")

	// ErrMissingURL is returned when the client is built without a broker URL.
	ErrMissingURL = errors.New("rabbitmq: connection URL is required")

	// ErrMissingObservability is returned when the client is built without
	// an observability provider.
	ErrMissingObservability = errors.New("rabbitmq: observability provider is required")

	// ErrNoHandlers is returned by Consume when no handler was registered.
	ErrNoHandlers = errors.New("rabbitmq: no handlers registered")

	// ErrConsumeChannelClosed signals that the broker closed the consume
	// channel underneath a running subscription.
	ErrConsumeChannelClosed = errors.New("rabbitmq: consume channel closed")
)
