// internal/service/session_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"serial-mux/internal/model"
	"serial-mux/internal/utils"
)

// SessionRegistry is the port registry as seen by the session service
type SessionRegistry interface {
	PortBinder
	List(ctx context.Context) ([]*model.PortInfo, error)
	Close() error
}

// SessionInfo describes a live session
type SessionInfo struct {
	ID         string   `json:"id"`
	OwnedPorts []string `json:"owned_ports"`
	SpiedPorts []string `json:"spied_ports"`
}

// SettingsResponse is the payload of the read command
type SettingsResponse struct {
	Settings *model.Settings `json:"settings"`
}

// SessionService owns the session table and dispatches host commands
type SessionService struct {
	registry       SessionRegistry
	settings       *SettingsService
	reportInterval time.Duration
	baseLogger     *zap.Logger
	logger         *utils.ServiceLogger

	mu       sync.RWMutex
	sessions map[string]*SessionController
}

// NewSessionService creates a new session service. settings may be nil, in
// which case the settings commands fail.
func NewSessionService(registry SessionRegistry, settings *SettingsService, reportInterval time.Duration, logger *zap.Logger) *SessionService {
	return &SessionService{
		registry:       registry,
		settings:       settings,
		reportInterval: reportInterval,
		baseLogger:     logger,
		logger:         utils.NewServiceLogger(logger, "session-service"),
		sessions:       make(map[string]*SessionController),
	}
}

// OpenSession creates the controller for id. Opening an existing session is a
// no-op that returns false.
func (s *SessionService) OpenSession(id string, host Host) (*SessionController, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.sessions[id]; ok {
		s.logger.Warn("Session is already created", zap.String("session_id", id))
		return c, false
	}

	c := NewSessionController(id, s.registry, host, s.reportInterval, s.baseLogger)
	s.sessions[id] = c
	s.logger.Info("Session opened", zap.String("session_id", id), zap.Int("sessions", len(s.sessions)))
	return c, true
}

// CloseSession destroys the controller for id. Unknown ids are ignored.
func (s *SessionService) CloseSession(ctx context.Context, id string) {
	s.mu.Lock()
	c, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	c.Destroy(ctx)
	s.logger.Info("Session closed", zap.String("session_id", id))
}

// Session returns the controller for id
func (s *SessionService) Session(id string) (*SessionController, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[id]
	return c, ok
}

// Sessions describes every live session, sorted by id
func (s *SessionService) Sessions() []SessionInfo {
	s.mu.RLock()
	controllers := make([]*SessionController, 0, len(s.sessions))
	for _, c := range s.sessions {
		controllers = append(controllers, c)
	}
	s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(controllers))
	for _, c := range controllers {
		infos = append(infos, SessionInfo{
			ID:         c.ID(),
			OwnedPorts: c.OwnedPorts(),
			SpiedPorts: c.SpiedPorts(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// ListPorts enumerates ports merged with their live state
func (s *SessionService) ListPorts(ctx context.Context) ([]*model.PortInfo, error) {
	return s.registry.List(ctx)
}

// HandleCommand runs one host command on behalf of a session and returns its
// success payload
func (s *SessionService) HandleCommand(ctx context.Context, sessionID string, cmd *model.Command) (result interface{}, err error) {
	start := time.Now()
	defer func() {
		utils.NewSessionLogger(s.baseLogger, sessionID).LogCommand(string(cmd.Command), cmd.RequestID, time.Since(start), err)
	}()

	switch cmd.Command {
	case model.CommandWrite:
		return s.writeSettings(ctx, cmd)
	case model.CommandRead:
		return s.readSettings(ctx)
	case model.CommandRemove:
		return s.removeSettings(ctx, cmd)
	}

	c, ok := s.Session(sessionID)
	if !ok {
		return nil, model.NewPortError(model.ErrNotFound, string(cmd.Command), "",
			fmt.Errorf("session %q isn't created", sessionID))
	}

	switch cmd.Command {
	case model.CommandOpen:
		var data model.OpenData
		if err := decodeData(cmd, &data); err != nil {
			return nil, err
		}
		if data.Options == nil {
			return nil, model.NewValidationError("options to open port aren't provided")
		}
		if err := c.Open(ctx, data.Options); err != nil {
			return nil, err
		}
		return done(), nil

	case model.CommandClose:
		var data model.CloseData
		if err := decodeData(cmd, &data); err != nil {
			return nil, err
		}
		if strings.TrimSpace(data.Path) == "" {
			return nil, model.NewValidationError("cannot close port, because path isn't provided")
		}
		if err := c.Close(ctx, data.Path); err != nil {
			return nil, err
		}
		return done(), nil

	case model.CommandList:
		ports, err := s.registry.List(ctx)
		if err != nil {
			return nil, err
		}
		return &model.CommandStatus{Status: "done", Ports: ports}, nil

	case model.CommandSend:
		var data model.SendData
		if err := decodeData(cmd, &data); err != nil {
			return nil, err
		}
		if data.Cmd != "" && strings.TrimSpace(data.Path) == "" {
			return nil, model.NewValidationError("cannot send message, because path isn't provided")
		}
		if err := c.Send(ctx, data.Path, data.Cmd); err != nil {
			return nil, err
		}
		return &model.CommandStatus{Status: "sent"}, nil

	case model.CommandSpyStart, model.CommandSpyStop:
		var data model.SpyData
		if err := decodeData(cmd, &data); err != nil {
			return nil, err
		}
		if data.Options == nil {
			return nil, model.NewValidationError("options aren't provided")
		}
		if cmd.Command == model.CommandSpyStart {
			err = c.SpyStart(ctx, data.Options)
		} else {
			err = c.SpyStop(ctx, data.Options)
		}
		if err != nil {
			return nil, err
		}
		return done(), nil

	default:
		return nil, model.NewValidationError(fmt.Sprintf("unknown command: %q", cmd.Command))
	}
}

// Shutdown destroys every session and closes the registry
func (s *SessionService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	controllers := make([]*SessionController, 0, len(s.sessions))
	for id, c := range s.sessions {
		controllers = append(controllers, c)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, c := range controllers {
		c.Destroy(ctx)
	}

	var errs error
	errs = multierr.Append(errs, s.registry.Close())
	s.logger.Info("Session service stopped", zap.Int("destroyed_sessions", len(controllers)))
	return errs
}

func (s *SessionService) writeSettings(ctx context.Context, cmd *model.Command) (interface{}, error) {
	if s.settings == nil {
		return nil, errSettingsDisabled
	}
	var data model.SettingsData
	if err := decodeData(cmd, &data); err != nil {
		return nil, err
	}

	switch data.Type {
	case model.SettingsCommand:
		var command string
		if err := json.Unmarshal(data.Data, &command); err != nil {
			return nil, model.NewValidationError("command should be a string")
		}
		if err := s.settings.AddCommand(ctx, command); err != nil {
			return nil, err
		}
	case model.SettingsOptions:
		var options model.PortOptions
		if err := json.Unmarshal(data.Data, &options); err != nil {
			return nil, model.NewValidationError(fmt.Sprintf("invalid options: %v", err))
		}
		if err := s.settings.AddOptions(ctx, &options); err != nil {
			return nil, err
		}
	default:
		return nil, model.NewValidationError(fmt.Sprintf("unknown data type: %q", data.Type))
	}
	return done(), nil
}

func (s *SessionService) readSettings(ctx context.Context) (interface{}, error) {
	if s.settings == nil {
		return nil, errSettingsDisabled
	}
	settings, err := s.settings.Read(ctx)
	if err != nil {
		return nil, err
	}
	return &SettingsResponse{Settings: settings}, nil
}

func (s *SessionService) removeSettings(ctx context.Context, cmd *model.Command) (interface{}, error) {
	if s.settings == nil {
		return nil, errSettingsDisabled
	}
	var data model.SettingsData
	if err := decodeData(cmd, &data); err != nil {
		return nil, err
	}

	switch data.Type {
	case model.SettingsCommand:
		var command string
		if err := json.Unmarshal(data.Data, &command); err != nil {
			return nil, model.NewValidationError("command should be a string")
		}
		if err := s.settings.RemoveCommand(ctx, command); err != nil {
			return nil, err
		}
	case model.SettingsOptions:
		if err := s.settings.RemoveOptions(ctx, data.Port); err != nil {
			return nil, err
		}
	default:
		return nil, model.NewValidationError(fmt.Sprintf("unknown data type: %q", data.Type))
	}
	return done(), nil
}

var errSettingsDisabled = model.NewPortError(model.ErrNotFound, "settings", "", errors.New("settings storage is not configured"))

func decodeData(cmd *model.Command, v interface{}) error {
	if len(cmd.Data) == 0 || string(cmd.Data) == "null" {
		return model.NewValidationError("parameters aren't provided")
	}
	if err := json.Unmarshal(cmd.Data, v); err != nil {
		return model.NewValidationError(fmt.Sprintf("invalid parameters for %s: %v", cmd.Command, err))
	}
	return nil
}

func done() *model.CommandStatus {
	return &model.CommandStatus{Status: "done"}
}
