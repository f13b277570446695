// internal/testutil/transport.go
package testutil

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"serial-mux/internal/model"
	"serial-mux/internal/protocol"
)

// FakeTransport is an in-memory protocol.Transport
type FakeTransport struct {
	mu       sync.Mutex
	streams  map[string]*FakeStream
	opens    map[string]int
	options  map[string]*model.PortOptions
	failures map[string]error
	gates    map[string]chan struct{}
	ports    []*model.PortInfo
	listErr  error
}

// NewFakeTransport creates a transport with no enumerated ports
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		streams:  make(map[string]*FakeStream),
		opens:    make(map[string]int),
		options:  make(map[string]*model.PortOptions),
		failures: make(map[string]error),
		gates:    make(map[string]chan struct{}),
	}
}

// Open creates a new FakeStream for path, waiting on a gate if one is set
func (t *FakeTransport) Open(path string, options *model.PortOptions) (protocol.Stream, error) {
	t.mu.Lock()
	gate := t.gates[path]
	t.opens[path]++
	t.mu.Unlock()

	if gate != nil {
		<-gate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failures[path]; err != nil {
		return nil, err
	}
	s := NewFakeStream()
	t.streams[path] = s
	t.options[path] = options
	return s, nil
}

// List returns the configured ports
func (t *FakeTransport) List(ctx context.Context) ([]*model.PortInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listErr != nil {
		return nil, t.listErr
	}
	out := make([]*model.PortInfo, 0, len(t.ports))
	for _, p := range t.ports {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// SetPorts sets the enumeration result
func (t *FakeTransport) SetPorts(ports ...*model.PortInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ports = ports
}

// FailList makes List return err
func (t *FakeTransport) FailList(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listErr = err
}

// FailOpen makes opens of path return err. A nil err clears the failure.
func (t *FakeTransport) FailOpen(path string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[path] = err
}

// Gate blocks opens of path until the returned release func is called
func (t *FakeTransport) Gate(path string) (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.gates[path] = gate
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.gates, path)
			t.mu.Unlock()
			close(gate)
		})
	}
}

// OpenCount returns how many times path was opened
func (t *FakeTransport) OpenCount(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens[path]
}

// Stream returns the latest stream opened for path
func (t *FakeTransport) Stream(path string) *FakeStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streams[path]
}

// OpenedWith returns the options of the latest successful open of path
func (t *FakeTransport) OpenedWith(path string) *model.PortOptions {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.options[path]
}

// Write is one recorded stream write
type Write struct {
	Data []byte
	At   time.Time
}

// FakeStream is an in-memory protocol.Stream fed by the test
type FakeStream struct {
	incoming chan []byte
	readErr  chan error
	hangup   chan struct{}
	done     chan struct{}

	hangupOnce sync.Once
	closeOnce  sync.Once

	mu         sync.Mutex
	writes     []Write
	writeErr   error
	drainErr   error
	drains     int
	closeCount int
}

// NewFakeStream creates an open stream
func NewFakeStream() *FakeStream {
	return &FakeStream{
		incoming: make(chan []byte, 256),
		readErr:  make(chan error, 1),
		hangup:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Read returns the next emitted chunk
func (s *FakeStream) Read(p []byte) (int, error) {
	select {
	case chunk := <-s.incoming:
		return copy(p, chunk), nil
	case err := <-s.readErr:
		return 0, err
	case <-s.hangup:
		return 0, io.EOF
	case <-s.done:
		return 0, io.EOF
	}
}

// Write records p
func (s *FakeStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return 0, errors.New("stream closed")
	default:
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.writes = append(s.writes, Write{Data: append([]byte(nil), p...), At: time.Now()})
	return len(p), nil
}

// Drain counts drain calls
func (s *FakeStream) Drain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drains++
	return s.drainErr
}

// Close ends the stream. Pending and later reads return io.EOF.
func (s *FakeStream) Close() error {
	s.mu.Lock()
	s.closeCount++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Emit queues data for the reader
func (s *FakeStream) Emit(data string) {
	s.incoming <- []byte(data)
}

// EmitBytes queues raw bytes for the reader
func (s *FakeStream) EmitBytes(data []byte) {
	s.incoming <- append([]byte(nil), data...)
}

// HangUp makes the reader see io.EOF
func (s *FakeStream) HangUp() {
	s.hangupOnce.Do(func() { close(s.hangup) })
}

// FailRead makes the next read return err
func (s *FakeStream) FailRead(err error) {
	s.readErr <- err
}

// FailWrite makes writes return err
func (s *FakeStream) FailWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Writes returns the recorded writes
func (s *FakeStream) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// Written returns everything written so far
func (s *FakeStream) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, w := range s.writes {
		out = append(out, w.Data...)
	}
	return string(out)
}

// Drains returns the number of drain calls
func (s *FakeStream) Drains() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drains
}

// Closed reports whether Close was called
func (s *FakeStream) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// CloseCount returns the number of Close calls
func (s *FakeStream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}
