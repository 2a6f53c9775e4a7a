package port

import (
	"encoding/json"
	"sync"
)

// Buffer is a byte buffer whose ownership can be moved to the other side of a port.
// Once moved, the origin handle is detached: it reports zero length and no bytes.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	detached bool
}

// NewBuffer wraps data without copying it.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the underlying bytes, or nil after the buffer was transferred.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Len is the byte length; 0 once detached.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Detached reports whether ownership of the bytes moved elsewhere.
func (b *Buffer) Detached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detached
}

// Detach gives up ownership and returns the bytes. Ports call it after a transfer.
func (b *Buffer) Detach() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.data
	b.data = nil
	b.detached = true
	return data
}

func (b *Buffer) clone() *Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Buffer{data: append([]byte(nil), b.data...)}
}

// MarshalMsgpack and UnmarshalMsgpack let MessagePack carry a Buffer as an extension
// type so the receiver gets a *Buffer back.
func (b *Buffer) MarshalMsgpack() ([]byte, error) {
	return b.Bytes(), nil
}

func (b *Buffer) UnmarshalMsgpack(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append([]byte(nil), data...)
	b.detached = false
	return nil
}

// MarshalJSON encodes the bytes as base64, like a []byte.
func (b *Buffer) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Bytes())
}
