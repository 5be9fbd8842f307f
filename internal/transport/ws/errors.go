package ws

import "errors"

var (
	// ErrHandshakeTimeout indicates the websocket handshake exceeded the configured timeout.
	ErrHandshakeTimeout = errors.New("websocket handshake timed out")
	// ErrSessionShutdown is emitted when the server requests a session shutdown.
	ErrSessionShutdown = errors.New("websocket session shutdown")
	// ErrSlowConsumer closes a session whose send buffer stayed full.
	ErrSlowConsumer = errors.New("websocket client too slow")
	// ErrConnectionClosed is returned when writing to a closed connection.
	ErrConnectionClosed = errors.New("websocket connection closed")
)
