// internal/service/session_controller.go
package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"serial-mux/internal/model"
	"serial-mux/internal/port"
	"serial-mux/internal/utils"
)

// Host delivers session output to the host application
type Host interface {
	SendToStream(sessionID string, data []byte) error
	Notify(sessionID string, event *model.HostEvent) error
}

// PortBinder is the part of the port registry a session works with
type PortBinder interface {
	RefPort(ctx context.Context, sessionID string, options *model.PortOptions, mode model.BindingMode, callbacks port.Callbacks) error
	UnrefPort(ctx context.Context, sessionID, path string) error
	Write(ctx context.Context, path string, data []byte) error
}

// binding is one (session, path) subscription. A binding is removed from the
// controller at most once, whichever of close, error or disconnect comes first.
type binding struct {
	path string
	mode model.BindingMode
	dead bool
}

// SessionController tracks the paths one host session is bound to
type SessionController struct {
	id             string
	spyID          string
	registry       PortBinder
	host           Host
	logger         *utils.SessionLogger
	reportInterval time.Duration

	mu         sync.Mutex
	owned      map[string]*binding
	pending    map[string]bool
	spied      map[string]*binding
	spyPending map[string]bool
	load       map[string]int64
	destroyed  bool
	stopReport chan struct{}
}

// NewSessionController creates a controller for session id
func NewSessionController(id string, registry PortBinder, host Host, reportInterval time.Duration, logger *zap.Logger) *SessionController {
	if reportInterval <= 0 {
		reportInterval = time.Second
	}
	return &SessionController{
		id:             id,
		spyID:          model.SpySubscriber(id),
		registry:       registry,
		host:           host,
		logger:         utils.NewSessionLogger(logger, id),
		reportInterval: reportInterval,
		owned:          make(map[string]*binding),
		pending:        make(map[string]bool),
		spied:          make(map[string]*binding),
		spyPending:     make(map[string]bool),
		load:           make(map[string]int64),
	}
}

// ID returns the session id
func (c *SessionController) ID() string {
	return c.id
}

// Open binds the session exclusively to the port described by options
func (c *SessionController) Open(ctx context.Context, options *model.PortOptions) error {
	if err := options.Validate(); err != nil {
		return err
	}
	path := options.Path

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return model.NewPortError(model.ErrNotFound, "open", path, errors.New("session is closed"))
	}
	if c.owned[path] != nil || c.pending[path] {
		c.mu.Unlock()
		return model.NewPortError(model.ErrDuplicateBinding, "open", path,
			errors.New("port is already assigned to this session"))
	}
	c.pending[path] = true
	c.mu.Unlock()

	b := &binding{path: path, mode: model.ModeExclusive}
	err := c.registry.RefPort(ctx, c.id, options, model.ModeExclusive, port.Callbacks{
		OnData:       c.forward,
		OnError:      func(path string, err error) { c.onPortError(b, err) },
		OnDisconnect: func(path string) { c.onPortDisconnect(b) },
	})

	c.mu.Lock()
	delete(c.pending, path)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if b.dead {
		c.mu.Unlock()
		return model.NewPortError(model.ErrDeviceIO, "open", path, errors.New("device went away while opening"))
	}
	if c.destroyed {
		c.mu.Unlock()
		c.unref(ctx, c.id, path)
		return model.NewPortError(model.ErrNotFound, "open", path, errors.New("session closed while opening"))
	}
	c.owned[path] = b
	c.mu.Unlock()

	c.logger.Info("Port assigned to session", zap.String("port", path))
	c.notify(model.NewHostEvent(model.EventConnected, c.id, path))
	return nil
}

// Close releases the session's exclusive binding to path
func (c *SessionController) Close(ctx context.Context, path string) error {
	c.mu.Lock()
	b := c.owned[path]
	if b == nil {
		c.mu.Unlock()
		return model.NewPortError(model.ErrUnknownBinding, "close", path,
			errors.New("port isn't assigned to this session"))
	}
	b.dead = true
	delete(c.owned, path)
	c.mu.Unlock()

	c.unref(ctx, c.id, path)
	c.logger.Info("Port released by session", zap.String("port", path))
	return nil
}

// Send writes message to a port the session owns. An empty message echoes
// a newline into the session stream instead.
func (c *SessionController) Send(ctx context.Context, path, message string) error {
	if message == "" {
		if err := c.host.SendToStream(c.id, []byte("\n")); err != nil {
			return model.NewPortError(model.ErrDeviceIO, "send", path, err)
		}
		return nil
	}

	c.mu.Lock()
	owned := c.owned[path] != nil
	c.mu.Unlock()
	if !owned {
		return model.NewPortError(model.ErrUnknownBinding, "send", path,
			errors.New("port isn't assigned to this session"))
	}

	return c.registry.Write(ctx, path, []byte(message))
}

// SpyStart binds the shared spy session to every port in options. Ports that
// are already spied by this session are skipped. Failures are collected and
// returned together after every port was tried.
func (c *SessionController) SpyStart(ctx context.Context, options []*model.PortOptions) error {
	var errs error
	for _, opts := range options {
		errs = multierr.Append(errs, c.spyStartOne(ctx, opts))
	}
	if errs != nil {
		c.logger.Warn("Failed to start spying on some ports", zap.Error(errs))
		return errs
	}
	c.logger.Info("Spying started", zap.Int("ports", len(options)))
	return nil
}

func (c *SessionController) spyStartOne(ctx context.Context, options *model.PortOptions) error {
	if err := options.Validate(); err != nil {
		return err
	}
	path := options.Path

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return model.NewPortError(model.ErrNotFound, "spyStart", path, errors.New("session is closed"))
	}
	if c.spied[path] != nil || c.spyPending[path] {
		c.mu.Unlock()
		c.logger.Debug("Port is already spied", zap.String("port", path))
		return nil
	}
	c.spyPending[path] = true
	c.mu.Unlock()

	b := &binding{path: path, mode: model.ModeSpy}
	err := c.registry.RefPort(ctx, c.spyID, options, model.ModeSpy, port.Callbacks{
		OnData:       c.addLoad,
		OnError:      func(path string, err error) { c.onSpyError(b, err) },
		OnDisconnect: func(path string) { c.onSpyDisconnect(b) },
	})

	c.mu.Lock()
	delete(c.spyPending, path)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if b.dead {
		c.mu.Unlock()
		return nil
	}
	if c.destroyed {
		c.mu.Unlock()
		c.unref(ctx, c.spyID, path)
		return nil
	}
	c.spied[path] = b
	c.startReporterLocked()
	c.mu.Unlock()

	c.logger.Info("Spying on port", zap.String("port", path))
	return nil
}

// SpyStop releases the spy bindings of every port in options. Ports that are
// not spied by this session are ignored.
func (c *SessionController) SpyStop(ctx context.Context, options []*model.PortOptions) error {
	for _, opts := range options {
		if opts == nil {
			continue
		}
		c.mu.Lock()
		b := c.spied[opts.Path]
		if b != nil {
			b.dead = true
			delete(c.spied, opts.Path)
			delete(c.load, opts.Path)
		}
		c.mu.Unlock()

		if b == nil {
			c.logger.Debug("Port isn't spied", zap.String("port", opts.Path))
			continue
		}
		c.unref(ctx, c.spyID, opts.Path)
		c.logger.Info("Stopped spying on port", zap.String("port", opts.Path))
	}

	c.mu.Lock()
	if len(c.spied) == 0 {
		c.stopReporterLocked()
	}
	c.mu.Unlock()
	return nil
}

// Destroy releases every owned and spied port. It never fails and may be called more than once.
func (c *SessionController) Destroy(ctx context.Context) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	owned := make([]string, 0, len(c.owned))
	for path, b := range c.owned {
		b.dead = true
		owned = append(owned, path)
	}
	spied := make([]string, 0, len(c.spied))
	for path, b := range c.spied {
		b.dead = true
		spied = append(spied, path)
	}
	c.owned = make(map[string]*binding)
	c.spied = make(map[string]*binding)
	c.load = make(map[string]int64)
	c.stopReporterLocked()
	c.mu.Unlock()

	for _, path := range owned {
		c.unref(ctx, c.id, path)
	}
	for _, path := range spied {
		c.unref(ctx, c.spyID, path)
	}

	c.logger.Info("Session destroyed", zap.Int("released_ports", len(owned)), zap.Int("released_spies", len(spied)))
}

// OwnedPorts returns the sorted paths bound exclusively by the session
func (c *SessionController) OwnedPorts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.owned)
}

// SpiedPorts returns the sorted paths the session spies on
func (c *SessionController) SpiedPorts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.spied)
}

// Load returns a copy of the accumulated spy load per path
func (c *SessionController) Load() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.load))
	for k, v := range c.load {
		out[k] = v
	}
	return out
}

func (c *SessionController) forward(path string, chunk []byte) {
	if err := c.host.SendToStream(c.id, chunk); err != nil {
		c.logger.Warn("Failed to forward port data", zap.String("port", path), zap.Error(err))
	}
}

func (c *SessionController) onPortError(b *binding, cause error) {
	if !c.unbind(b) {
		return
	}
	c.logger.Error("Port returned error", zap.String("port", b.path), zap.Error(cause))

	event := model.NewHostEvent(model.EventError, c.id, b.path)
	event.Error = cause.Error()
	c.notify(event)
}

func (c *SessionController) onPortDisconnect(b *binding) {
	if !c.unbind(b) {
		return
	}
	c.logger.Warn("Port disconnected", zap.String("port", b.path))
	c.notify(model.NewHostEvent(model.EventDisconnected, c.id, b.path))
}

func (c *SessionController) onSpyError(b *binding, cause error) {
	if !c.unbind(b) {
		return
	}
	c.logger.Error("Spied port returned error", zap.String("port", b.path), zap.Error(cause))

	event := model.NewHostEvent(model.EventError, c.id, b.path)
	event.Error = cause.Error()
	c.notify(event)
}

func (c *SessionController) onSpyDisconnect(b *binding) {
	if !c.unbind(b) {
		return
	}
	c.logger.Warn("Spied port disconnected", zap.String("port", b.path))
}

// unbind marks b dead and removes it from the controller. It reports whether
// b was still live and bound, so the caller is the only one to act on it.
func (c *SessionController) unbind(b *binding) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.dead {
		return false
	}
	b.dead = true

	bound := false
	switch b.mode {
	case model.ModeSpy:
		if c.spied[b.path] == b {
			delete(c.spied, b.path)
			delete(c.load, b.path)
			bound = true
		}
		if len(c.spied) == 0 {
			c.stopReporterLocked()
		}
	default:
		if c.owned[b.path] == b {
			delete(c.owned, b.path)
			bound = true
		}
	}
	return bound
}

func (c *SessionController) addLoad(path string, chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spied[path] == nil && !c.spyPending[path] {
		return
	}
	c.load[path] += int64(len(chunk))
}

// startReporterLocked starts the spy load reporter. Caller holds c.mu.
func (c *SessionController) startReporterLocked() {
	if c.stopReport != nil {
		return
	}
	c.stopReport = make(chan struct{})
	go c.reportLoad(c.stopReport)
}

// stopReporterLocked signals the reporter to exit. Caller holds c.mu.
func (c *SessionController) stopReporterLocked() {
	if c.stopReport == nil {
		return
	}
	close(c.stopReport)
	c.stopReport = nil
}

func (c *SessionController) reportLoad(stop chan struct{}) {
	ticker := time.NewTicker(c.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			load := make(map[string]int64, len(c.spied))
			for path := range c.spied {
				load[path] = c.load[path]
				c.load[path] = 0
			}
			c.mu.Unlock()

			if len(load) == 0 {
				continue
			}
			event := model.NewHostEvent(model.EventSpyState, c.id, "")
			event.Load = load
			c.notify(event)
		}
	}
}

func (c *SessionController) unref(ctx context.Context, sessionID, path string) {
	if err := c.registry.UnrefPort(ctx, sessionID, path); err != nil {
		c.logger.Error("Failed to release port", zap.String("port", path), zap.Error(err))
	}
}

func (c *SessionController) notify(event *model.HostEvent) {
	if err := c.host.Notify(c.id, event); err != nil {
		c.logger.Warn("Failed to notify host",
			zap.String("event", string(event.Event)),
			zap.String("port", event.Port),
			zap.Error(err),
		)
	}
}

func sortedKeys(m map[string]*binding) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
