// internal/port/registry.go
package port

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"serial-mux/internal/model"
	"serial-mux/internal/protocol"
)

// Callbacks receive the events of a port a subscriber is bound to
type Callbacks struct {
	OnData       func(path string, chunk []byte)
	OnError      func(path string, err error)
	OnDisconnect func(path string)
}

// Subscriber is one session's binding to a path
type Subscriber struct {
	SessionID string
	Mode      model.BindingMode
	callbacks Callbacks
}

// RegistryOptions configures handles created by the registry
type RegistryOptions struct {
	Handle        HandleOptions
	SerialDefault model.SerialOptions
	ReaderDefault model.ReaderOptions
}

// RegistryStats summarises the live state of the registry
type RegistryStats struct {
	OpenPorts     int   `json:"open_ports"`
	Subscribers   int   `json:"subscribers"`
	PhysicalOpens int64 `json:"physical_opens"`
}

type openCall struct {
	done chan struct{}
	err  error
}

type entry struct {
	// mu serializes ref/unref on the path, including device open and close
	mu sync.Mutex

	// guarded by Registry.mu
	users       int
	handle      *Handle
	subscribers []*Subscriber
	opening     *openCall
}

// Registry maps device paths to open handles and their subscribers
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	transport protocol.Transport
	options   RegistryOptions
	logger    *zap.Logger
	opens     atomic.Int64
}

// NewRegistry creates an empty registry
func NewRegistry(transport protocol.Transport, options RegistryOptions, logger *zap.Logger) *Registry {
	return &Registry{
		entries:   make(map[string]*entry),
		transport: transport,
		options:   options,
		logger:    logger.With(zap.String("component", "port-registry")),
	}
}

// RefPort binds sessionID to the port described by options, opening the
// device when this is its first subscriber. Concurrent calls for a port that
// is still opening wait for that open and share its result.
func (r *Registry) RefPort(ctx context.Context, sessionID string, options *model.PortOptions, mode model.BindingMode, callbacks Callbacks) error {
	if strings.TrimSpace(sessionID) == "" {
		return model.NewValidationError("session id is required")
	}
	if err := options.Validate(); err != nil {
		return err
	}
	options = options.WithDefaults(r.options.SerialDefault, r.options.ReaderDefault)
	path := options.Path

	sub := &Subscriber{
		SessionID: sessionID,
		Mode:      mode,
		callbacks: callbacks,
	}

	e := r.acquire(path)
	defer r.release(path, e)

	for {
		r.mu.Lock()
		var call *openCall
		opener := false
		if e.handle == nil {
			if e.opening == nil {
				e.opening = &openCall{done: make(chan struct{})}
				opener = true
			}
			call = e.opening
		}
		r.mu.Unlock()

		if opener {
			return r.openAndAttach(ctx, e, call, options, sub)
		}

		if call != nil {
			select {
			case <-call.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			if call.err != nil {
				return call.err
			}
			continue
		}

		e.mu.Lock()
		r.mu.Lock()
		if e.handle == nil {
			// closed between the check and the lock; go round again
			r.mu.Unlock()
			e.mu.Unlock()
			continue
		}
		err := r.attachLocked(path, e, sub)
		r.mu.Unlock()
		e.mu.Unlock()
		return err
	}
}

// UnrefPort removes the binding of sessionID to path and closes the device
// when no subscriber is left. Removing a binding that does not exist is a no-op.
func (r *Registry) UnrefPort(ctx context.Context, sessionID, path string) error {
	r.mu.Lock()
	e, ok := r.entries[path]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("Unref of unknown port ignored",
			zap.String("session_id", sessionID),
			zap.String("port", path),
		)
		return nil
	}
	e.users++
	r.mu.Unlock()
	defer r.release(path, e)

	e.mu.Lock()
	defer e.mu.Unlock()

	r.mu.Lock()
	idx := indexOfSubscriber(e.subscribers, sessionID)
	if idx < 0 {
		r.mu.Unlock()
		r.logger.Debug("Unref of unknown binding ignored",
			zap.String("session_id", sessionID),
			zap.String("port", path),
		)
		return nil
	}
	e.subscribers = append(e.subscribers[:idx:idx], e.subscribers[idx+1:]...)
	remaining := len(e.subscribers)
	var h *Handle
	if remaining == 0 {
		h = e.handle
		e.handle = nil
	}
	r.mu.Unlock()

	r.logger.Info("Port unreferenced",
		zap.String("session_id", sessionID),
		zap.String("port", path),
		zap.Int("subscribers", remaining),
	)

	if h == nil {
		return nil
	}
	if err := h.Close(); err != nil {
		return fmt.Errorf("failed to close port %q: %w", path, err)
	}
	return nil
}

// Write forwards data to the open handle of path
func (r *Registry) Write(ctx context.Context, path string, data []byte) error {
	h := r.handle(path)
	if h == nil {
		return model.NewPortError(model.ErrNotFound, "write", path, errors.New("port isn't open"))
	}
	return h.Write(ctx, data)
}

// List merges the transport's enumeration with the state of open handles.
// Each listing closes the read window of the handles it reports.
func (r *Registry) List(ctx context.Context) ([]*model.PortInfo, error) {
	ports, err := r.transport.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(ports))
	for _, p := range ports {
		seen[p.Path] = true
		if e, ok := r.entries[p.Path]; ok && e.handle != nil {
			fillLiveState(p, e)
		}
	}

	var extra []*model.PortInfo
	for path, e := range r.entries {
		if e.handle == nil || seen[path] {
			continue
		}
		p := &model.PortInfo{Path: path}
		fillLiveState(p, e)
		extra = append(extra, p)
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Path < extra[j].Path })

	return append(ports, extra...), nil
}

// SubscriberCount returns the number of subscribers bound to path
func (r *Registry) SubscriberCount(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[path]; ok {
		return len(e.subscribers)
	}
	return 0
}

// IsOpen reports whether a handle exists for path
func (r *Registry) IsOpen(path string) bool {
	return r.handle(path) != nil
}

// Stats returns a summary of open ports and subscribers
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{PhysicalOpens: r.opens.Load()}
	for _, e := range r.entries {
		if e.handle != nil {
			stats.OpenPorts++
		}
		stats.Subscribers += len(e.subscribers)
	}
	return stats
}

// Close closes every open handle without notifying subscribers
func (r *Registry) Close() error {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.entries))
	for _, e := range r.entries {
		if e.handle != nil {
			handles = append(handles, e.handle)
		}
		e.handle = nil
		e.subscribers = nil
	}
	r.mu.Unlock()

	var errs error
	for _, h := range handles {
		errs = multierr.Append(errs, h.Close())
	}

	r.logger.Info("Port registry closed", zap.Int("closed_ports", len(handles)))
	return errs
}

func (r *Registry) openAndAttach(ctx context.Context, e *entry, call *openCall, options *model.PortOptions, sub *Subscriber) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := options.Path
	var h *Handle
	h = NewHandle(path, options, r.transport, r.options.Handle, Events{
		OnData:       func(chunk []byte) { r.dispatchData(path, h, chunk) },
		OnError:      func(err error) { r.dispatchTermination(path, h, err) },
		OnDisconnect: func() { r.dispatchTermination(path, h, nil) },
	}, r.logger)

	err := h.Open(ctx)
	if err == nil {
		r.opens.Add(1)
	}

	r.mu.Lock()
	e.opening = nil
	if err == nil && h.State() != model.StateOpen {
		err = model.NewPortError(model.ErrDeviceOpen, "open", path, errors.New("device went away while opening"))
	}
	if err == nil {
		e.handle = h
		err = r.attachLocked(path, e, sub)
	}
	call.err = err
	close(call.done)
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("Failed to open port",
			zap.String("session_id", sub.SessionID),
			zap.String("port", path),
			zap.Error(err),
		)
	}
	return err
}

// attachLocked adds sub to e. Caller holds r.mu.
func (r *Registry) attachLocked(path string, e *entry, sub *Subscriber) error {
	for _, s := range e.subscribers {
		if s.SessionID == sub.SessionID {
			return model.NewPortError(model.ErrDuplicateBinding, "ref", path,
				fmt.Errorf("session %q is already bound", sub.SessionID))
		}
		if sub.Mode == model.ModeExclusive && s.Mode == model.ModeExclusive {
			return model.NewPortError(model.ErrDeviceOpen, "ref", path,
				fmt.Errorf("port is exclusively held by session %q", s.SessionID))
		}
	}
	e.subscribers = append(e.subscribers, sub)

	r.logger.Info("Port referenced",
		zap.String("session_id", sub.SessionID),
		zap.String("port", path),
		zap.String("mode", sub.Mode.String()),
		zap.Int("subscribers", len(e.subscribers)),
	)
	return nil
}

func (r *Registry) dispatchData(path string, h *Handle, chunk []byte) {
	r.mu.Lock()
	e, ok := r.entries[path]
	if !ok || e.handle != h {
		r.mu.Unlock()
		return
	}
	subs := append([]*Subscriber(nil), e.subscribers...)
	r.mu.Unlock()

	for _, s := range subs {
		if s.callbacks.OnData != nil {
			s.callbacks.OnData(path, chunk)
		}
	}
}

// dispatchTermination detaches every subscriber of a destroyed handle and
// tells each of them once. cause nil means the device hung up.
func (r *Registry) dispatchTermination(path string, h *Handle, cause error) {
	r.mu.Lock()
	e, ok := r.entries[path]
	if !ok || e.handle != h {
		r.mu.Unlock()
		return
	}
	subs := e.subscribers
	e.subscribers = nil
	e.handle = nil
	if e.users == 0 && e.opening == nil {
		delete(r.entries, path)
	}
	r.mu.Unlock()

	if cause != nil {
		r.logger.Error("Port failed", zap.String("port", path), zap.Int("subscribers", len(subs)), zap.Error(cause))
	} else {
		r.logger.Warn("Port disconnected", zap.String("port", path), zap.Int("subscribers", len(subs)))
	}

	for _, s := range subs {
		if cause != nil {
			if s.callbacks.OnError != nil {
				s.callbacks.OnError(path, cause)
			}
		} else if s.callbacks.OnDisconnect != nil {
			s.callbacks.OnDisconnect(path)
		}
	}
}

func (r *Registry) handle(path string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[path]; ok {
		return e.handle
	}
	return nil
}

func (r *Registry) acquire(path string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[path]
	if !ok {
		e = &entry{}
		r.entries[path] = e
	}
	e.users++
	return e
}

func (r *Registry) release(path string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.users--
	if e.users == 0 && e.handle == nil && e.opening == nil && len(e.subscribers) == 0 && r.entries[path] == e {
		delete(r.entries, path)
	}
}

func fillLiveState(p *model.PortInfo, e *entry) {
	state := e.handle.ClearIOState()
	p.Open = true
	p.Subscribers = len(e.subscribers)
	p.Options = e.handle.Options()
	p.IOState = &state
}

func indexOfSubscriber(subs []*Subscriber, sessionID string) int {
	for i, s := range subs {
		if s.SessionID == sessionID {
			return i
		}
	}
	return -1
}
