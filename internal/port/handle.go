// internal/port/handle.go
package port

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"serial-mux/internal/model"
	"serial-mux/internal/protocol"
	"serial-mux/internal/utils"
)

// HandleOptions controls write pacing and read buffering of a handle
type HandleOptions struct {
	ChunkSize      int
	PacingDelay    time.Duration
	LineTerminator string
	ReadBufferSize int
}

// DefaultHandleOptions returns the defaults used for slow receivers without flow control
func DefaultHandleOptions() HandleOptions {
	return HandleOptions{
		ChunkSize:      1,
		PacingDelay:    50 * time.Millisecond,
		LineTerminator: "\n\r",
		ReadBufferSize: 64 * 1024,
	}
}

// Events receives what a handle reports upward. At most one of OnError and
// OnDisconnect is ever called, and nothing is called after it.
type Events struct {
	OnData       func(chunk []byte)
	OnError      func(err error)
	OnDisconnect func()
}

// Handle owns one physical device connection
type Handle struct {
	path      string
	options   *model.PortOptions
	transport protocol.Transport
	opts      HandleOptions
	events    Events
	logger    *utils.PortLogger
	framer    *Framer

	mu       sync.Mutex
	state    model.HandleState
	used     bool
	stream   protocol.Stream
	openDone chan struct{}
	closed   chan struct{}
	readDone chan struct{}

	writeMu sync.Mutex
	read    atomic.Int64
	written atomic.Int64
}

// NewHandle creates a closed handle for path
func NewHandle(path string, options *model.PortOptions, transport protocol.Transport, opts HandleOptions, events Events, logger *zap.Logger) *Handle {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultHandleOptions().ReadBufferSize
	}
	if options.Options.HighWaterMark > 0 {
		opts.ReadBufferSize = options.Options.HighWaterMark
	}

	return &Handle{
		path:      path,
		options:   options,
		transport: transport,
		opts:      opts,
		events:    events,
		logger:    utils.NewPortLogger(logger, path),
		framer:    NewFramer(path, options.Reader),
		state:     model.StateClosed,
		closed:    make(chan struct{}),
		readDone:  make(chan struct{}),
	}
}

// Path returns the device path
func (h *Handle) Path() string {
	return h.path
}

// Options returns the options the handle was opened with
func (h *Handle) Options() *model.PortOptions {
	return h.options
}

// State returns the current lifecycle state
func (h *Handle) State() model.HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Open opens the underlying device and starts the read loop
func (h *Handle) Open(ctx context.Context) error {
	h.mu.Lock()
	if h.used {
		h.mu.Unlock()
		return model.NewPortError(model.ErrDeviceOpen, "open", h.path, errors.New("port already exists"))
	}
	h.used = true
	h.state = model.StateOpening
	h.openDone = make(chan struct{})
	h.mu.Unlock()

	var stream protocol.Stream
	err := ctx.Err()
	if err == nil {
		stream, err = h.transport.Open(h.path, h.options)
	}

	h.mu.Lock()
	defer func() {
		close(h.openDone)
		h.mu.Unlock()
	}()

	if err != nil {
		h.state = model.StateClosed
		close(h.readDone)
		h.logger.LogConnection("open", false, err)
		return model.NewPortError(model.ErrDeviceOpen, "open", h.path, err)
	}

	h.stream = stream
	h.state = model.StateOpen
	go h.readLoop(stream)

	h.logger.LogConnection("open", true, nil)
	return nil
}

// Write sends data as paced chunks. Each chunk waits for the pacing delay
// and the previous chunk's drain before it is written.
func (h *Handle) Write(ctx context.Context, data []byte) error {
	if h.State() != model.StateOpen {
		return model.NewPortError(model.ErrDeviceIO, "write", h.path, errors.New("port isn't open"))
	}

	chunks := SplitChunks(data, h.opts.ChunkSize, h.opts.LineTerminator)
	if len(chunks) == 0 {
		return nil
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	for _, chunk := range chunks {
		timer := time.NewTimer(h.opts.PacingDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.NewPortError(model.ErrDeviceIO, "write", h.path, ctx.Err())
		case <-h.closed:
			timer.Stop()
			return model.NewPortError(model.ErrDeviceIO, "write", h.path, errors.New("port closed"))
		case <-timer.C:
		}

		stream := h.currentStream()
		if stream == nil {
			return model.NewPortError(model.ErrDeviceIO, "write", h.path, errors.New("port isn't open"))
		}

		if _, err := stream.Write([]byte(chunk)); err != nil {
			h.terminate("write", err)
			return model.NewPortError(model.ErrDeviceIO, "write", h.path, err)
		}
		if err := stream.Drain(); err != nil {
			h.terminate("drain", err)
			return model.NewPortError(model.ErrDeviceIO, "drain", h.path, err)
		}
		h.written.Add(int64(len(chunk)))
	}

	h.logger.Debug("Write completed", zap.Int("chunks", len(chunks)))
	return nil
}

// Close stops event delivery and releases the device. Closing a handle whose
// open is still in flight waits for the open to finish first.
func (h *Handle) Close() error {
	h.mu.Lock()
	for h.state == model.StateOpening {
		done := h.openDone
		h.mu.Unlock()
		<-done
		h.mu.Lock()
	}
	if h.state != model.StateOpen {
		h.mu.Unlock()
		return nil
	}
	h.state = model.StateClosing
	stream := h.stream
	h.mu.Unlock()

	err := stream.Close()
	<-h.readDone
	h.framer.Reset()

	h.mu.Lock()
	h.state = model.StateClosed
	h.stream = nil
	close(h.closed)
	h.mu.Unlock()

	if err != nil {
		h.logger.LogConnection("close", false, err)
		return fmt.Errorf("failed to close port %q: %w", h.path, err)
	}
	h.logger.LogConnection("close", true, nil)
	return nil
}

// IOState returns the byte counters
func (h *Handle) IOState() model.IOState {
	return model.IOState{
		Read:    h.read.Load(),
		Written: h.written.Load(),
	}
}

// ClearIOState closes the current read window and returns the counters as
// they stood. The write counter is cumulative and is not reset.
func (h *Handle) ClearIOState() model.IOState {
	return model.IOState{
		Read:    h.read.Swap(0),
		Written: h.written.Load(),
	}
}

func (h *Handle) currentStream() protocol.Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != model.StateOpen {
		return nil
	}
	return h.stream
}

func (h *Handle) readLoop(stream protocol.Stream) {
	defer close(h.readDone)

	buf := make([]byte, h.opts.ReadBufferSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			h.onChunk(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				h.terminate("read", nil)
			} else {
				h.terminate("read", err)
			}
			return
		}
	}
}

func (h *Handle) onChunk(chunk []byte) {
	if h.State() != model.StateOpen {
		return
	}
	h.read.Add(int64(len(chunk)))

	out := h.framer.Feed(chunk)
	if len(out) == 0 || h.events.OnData == nil {
		return
	}
	h.events.OnData(out)
}

// terminate destroys the handle after a device failure. cause nil means the
// device hung up. Only the first call on an open handle signals upward.
func (h *Handle) terminate(op string, cause error) {
	h.mu.Lock()
	if h.state != model.StateOpen {
		h.mu.Unlock()
		return
	}
	h.state = model.StateClosing
	stream := h.stream
	h.mu.Unlock()

	if err := stream.Close(); err != nil {
		h.logger.Warn("Failed to release port after failure", zap.Error(err))
	}

	h.mu.Lock()
	h.state = model.StateClosed
	h.stream = nil
	close(h.closed)
	h.mu.Unlock()

	if cause != nil {
		err := model.NewPortError(model.ErrDeviceIO, op, h.path, cause)
		h.logger.LogConnection("error", false, err)
		if h.events.OnError != nil {
			h.events.OnError(err)
		}
		return
	}

	h.logger.LogConnection("disconnect", true, nil)
	if h.events.OnDisconnect != nil {
		h.events.OnDisconnect()
	}
}
