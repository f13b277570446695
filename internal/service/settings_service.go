// internal/service/settings_service.go
package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"serial-mux/internal/model"
	"serial-mux/internal/repository"
	"serial-mux/internal/utils"
)

// SettingsService manages the host preferences: recent port options and the
// history of sent commands
type SettingsService struct {
	repo   repository.SettingsRepository
	logger *utils.ServiceLogger
}

// NewSettingsService creates a new settings service
func NewSettingsService(repo repository.SettingsRepository, logger *zap.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		logger: utils.NewServiceLogger(logger, "settings-service"),
	}
}

// Read returns the stored settings
func (s *SettingsService) Read(ctx context.Context) (*model.Settings, error) {
	settings, err := s.repo.Load(ctx)
	if err != nil {
		s.logger.Error("Failed to load settings", zap.Error(err))
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}

// AddOptions remembers options as the recent options of their path
func (s *SettingsService) AddOptions(ctx context.Context, options *model.PortOptions) error {
	if err := options.Validate(); err != nil {
		return err
	}
	if err := s.repo.SaveOptions(ctx, options); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	s.logger.Debug("Recent options saved", zap.String("port", options.Path))
	return nil
}

// AddCommand appends command to the history. Blank and repeated commands are ignored.
func (s *SettingsService) AddCommand(ctx context.Context, command string) error {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	if err := s.repo.AddCommand(ctx, command); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// RemoveOptions forgets the recent options of path
func (s *SettingsService) RemoveOptions(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" {
		return model.NewValidationError("port should be a non-empty string")
	}
	if err := s.repo.DeleteOptions(ctx, path); err != nil {
		return fmt.Errorf("failed to remove settings: %w", err)
	}
	return nil
}

// RemoveCommand removes command from the history
func (s *SettingsService) RemoveCommand(ctx context.Context, command string) error {
	if err := s.repo.DeleteCommand(ctx, command); err != nil {
		return fmt.Errorf("failed to remove settings: %w", err)
	}
	return nil
}
