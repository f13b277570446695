// internal/protocol/protocol.go
package protocol

import (
	"context"
	"io"

	"serial-mux/internal/model"
)

// Stream is one open device connection as seen by a port handle.
// Read returns io.EOF once the device hangs up.
type Stream interface {
	io.Reader
	io.Writer

	// Drain blocks until every byte passed to Write has left the output buffer
	Drain() error
	Close() error
}

// Transport opens device streams and enumerates the devices present on the host
type Transport interface {
	Open(path string, options *model.PortOptions) (Stream, error)
	List(ctx context.Context) ([]*model.PortInfo, error)
}

// PortEnricher adds details to enumerated ports
type PortEnricher interface {
	Enrich(ctx context.Context, ports []*model.PortInfo)
}
