package device

import "fmt"

// Location identifies where a buffer's bytes live.
type Location int

const (
	// Host is ordinary process memory.
	Host Location = iota
	// Accelerator is device memory owned by an inference engine. Bytes()
	// of an accelerator buffer is only valid after Sync has returned.
	Accelerator
)

func (l Location) String() string {
	switch l {
	case Host:
		return "host"
	case Accelerator:
		return "accelerator"
	}
	return fmt.Sprintf("location(%d)", int(l))
}

// Stream identifies the execution queue that produced a buffer's contents.
// Stream zero is the synchronous default queue.
type Stream uint64

// Buffer is a contiguous block of element storage handed across the
// inference boundary. Callers guarantee the producing stream is drained
// (Sync returns) before the buffer is read.
type Buffer interface {
	// Bytes returns a host-readable view of the contents.
	Bytes() []byte

	// Len returns the size of the buffer in bytes.
	Len() int

	Location() Location
	Stream() Stream

	// Sync blocks until the producing stream has drained and Bytes is
	// stable for reading.
	Sync() error
}

// HostBuffer is a Buffer backed by ordinary process memory.
type HostBuffer struct {
	data   []byte
	stream Stream
}

var _ Buffer = (*HostBuffer)(nil)

// NewHostBuffer allocates a zeroed host buffer of n bytes.
func NewHostBuffer(n int) *HostBuffer {
	return &HostBuffer{data: make([]byte, n)}
}

// WrapHostBuffer wraps an existing byte slice without copying.
func WrapHostBuffer(data []byte) *HostBuffer {
	return &HostBuffer{data: data}
}

func (b *HostBuffer) Bytes() []byte      { return b.data }
func (b *HostBuffer) Len() int           { return len(b.data) }
func (b *HostBuffer) Location() Location { return Host }
func (b *HostBuffer) Stream() Stream     { return b.stream }

// Sync is a no-op: host memory is always drained.
func (b *HostBuffer) Sync() error { return nil }
