package dps

import "context"

// Stream is a secure byte pipe. The client writes raw HTTP/1.1 text and
// scans the raw response itself.
//
// One Stream is shared by every round trip of a provisioning attempt: the
// client connects, exchanges one request and response, and closes it
// before connecting again.
type Stream interface {
	Connect(ctx context.Context, host string, port int) error
	Write(p []byte) (int, error)
	// Available reports how many bytes can be read without blocking.
	Available() int
	Read(p []byte) (int, error)
	Close() error
}
