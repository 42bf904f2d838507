package core

// Frame is a raw encoded control message.
type Frame []byte

// SignalConnection abstracts the upstream control transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
