// internal/repository/settings_postgres_repository.go
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"serial-mux/internal/database"
	"serial-mux/internal/model"
	"serial-mux/internal/utils"
)

// settingsPostgresRepository implements SettingsRepository on postgres
type settingsPostgresRepository struct {
	db     *database.DB
	logger *utils.ServiceLogger
}

// NewSettingsPostgresRepository creates a postgres-backed settings repository
func NewSettingsPostgresRepository(db *database.DB, logger *zap.Logger) SettingsRepository {
	return &settingsPostgresRepository{
		db:     db,
		logger: utils.NewServiceLogger(logger, "settings-postgres"),
	}
}

// Load reads every recent option set and the command history
func (r *settingsPostgresRepository) Load(ctx context.Context) (*model.Settings, error) {
	settings := model.NewSettings()

	rows, err := r.db.QueryContext(ctx, `SELECT path, options FROM recent_port_options ORDER BY path`)
	if err != nil {
		r.logger.Error("Failed to query recent options", zap.Error(err))
		return nil, fmt.Errorf("failed to query recent options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		var raw []byte
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan recent options: %w", err)
		}
		options := &model.PortOptions{}
		if err := json.Unmarshal(raw, options); err != nil {
			r.logger.Warn("Skipping undecodable recent options", zap.String("port", path), zap.Error(err))
			continue
		}
		options.Path = path
		settings.Recent[path] = options
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent options: %w", err)
	}

	cmdRows, err := r.db.QueryContext(ctx, `SELECT command FROM command_history ORDER BY id`)
	if err != nil {
		r.logger.Error("Failed to query command history", zap.Error(err))
		return nil, fmt.Errorf("failed to query command history: %w", err)
	}
	defer cmdRows.Close()

	for cmdRows.Next() {
		var command string
		if err := cmdRows.Scan(&command); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		settings.Commands = append(settings.Commands, command)
	}
	if err := cmdRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read command history: %w", err)
	}

	return settings, nil
}

// SaveOptions upserts the recent options of a path
func (r *settingsPostgresRepository) SaveOptions(ctx context.Context, options *model.PortOptions) error {
	raw, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}

	query := `
		INSERT INTO recent_port_options (path, options)
		VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE
		SET options = EXCLUDED.options, updated_at = CURRENT_TIMESTAMP
	`
	if err := r.exec(ctx, query, options.Path, raw); err != nil {
		return fmt.Errorf("failed to save recent options: %w", err)
	}
	return nil
}

// DeleteOptions removes the recent options of path
func (r *settingsPostgresRepository) DeleteOptions(ctx context.Context, path string) error {
	if err := r.exec(ctx, `DELETE FROM recent_port_options WHERE path = $1`, path); err != nil {
		return fmt.Errorf("failed to delete recent options: %w", err)
	}
	return nil
}

// AddCommand records command once
func (r *settingsPostgresRepository) AddCommand(ctx context.Context, command string) error {
	query := `INSERT INTO command_history (command) VALUES ($1) ON CONFLICT (command) DO NOTHING`
	if err := r.exec(ctx, query, command); err != nil {
		return fmt.Errorf("failed to add command: %w", err)
	}
	return nil
}

// DeleteCommand removes command from the history
func (r *settingsPostgresRepository) DeleteCommand(ctx context.Context, command string) error {
	if err := r.exec(ctx, `DELETE FROM command_history WHERE command = $1`, command); err != nil {
		return fmt.Errorf("failed to delete command: %w", err)
	}
	return nil
}

func (r *settingsPostgresRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	start := time.Now()
	_, err := r.db.ExecContext(ctx, query, args...)
	r.logger.LogDatabaseQuery(query, time.Since(start), err)
	return err
}
