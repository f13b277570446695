// internal/repository/interfaces.go
package repository

import (
	"context"

	"serial-mux/internal/model"
)

// SettingsRepository defines access to the persisted host preferences
type SettingsRepository interface {
	// Load returns the full settings; an empty store yields empty settings
	Load(ctx context.Context) (*model.Settings, error)

	// Recent port options, keyed by path
	SaveOptions(ctx context.Context, options *model.PortOptions) error
	DeleteOptions(ctx context.Context, path string) error

	// Sent command history, in insertion order without duplicates
	AddCommand(ctx context.Context, command string) error
	DeleteCommand(ctx context.Context, command string) error
}
