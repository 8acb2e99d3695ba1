package core

// Frame is a raw text payload as delivered on the wire.
type Frame []byte

// SessionID identifies one transport connection.
type SessionID string

// SignalConnection abstracts the messaging transport of one participant.
// Owned by the adapter; the adapter must Close() it. Sends on one connection
// are serialized by the adapter, so callers may fan out concurrently.
type SignalConnection interface {
	TrySend(Frame) error
	IsOpen() bool
	Close()
}
