// internal/repository/settings_file_repository.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"serial-mux/internal/model"
)

// settingsDocument is the on-disk layout. Recent options are kept as a list
// because device paths are not usable as config keys.
type settingsDocument struct {
	Recent   []*model.PortOptions `json:"recent"`
	Commands []string             `json:"commands"`
}

// settingsFileRepository keeps the settings in a YAML file managed by viper
type settingsFileRepository struct {
	mu       sync.Mutex
	path     string
	v        *viper.Viper
	settings *model.Settings
	loaded   bool
	logger   *zap.Logger
}

// NewSettingsFileRepository creates a repository backed by the file at path
func NewSettingsFileRepository(path string, logger *zap.Logger) SettingsRepository {
	v := viper.New()
	v.SetConfigFile(path)

	return &settingsFileRepository{
		path:   path,
		v:      v,
		logger: logger.With(zap.String("component", "settings-file"), zap.String("file", path)),
	}
}

// Load returns a copy of the stored settings
func (r *settingsFileRepository) Load(ctx context.Context) (*model.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	return copySettings(r.settings), nil
}

// SaveOptions stores options as the recent options of their path
func (r *settingsFileRepository) SaveOptions(ctx context.Context, options *model.PortOptions) error {
	return r.update(func(s *model.Settings) bool {
		cp := *options
		s.Recent[options.Path] = &cp
		return true
	})
}

// DeleteOptions forgets the recent options of path
func (r *settingsFileRepository) DeleteOptions(ctx context.Context, path string) error {
	return r.update(func(s *model.Settings) bool {
		if _, ok := s.Recent[path]; !ok {
			return false
		}
		delete(s.Recent, path)
		return true
	})
}

// AddCommand appends command to the history unless it is already there
func (r *settingsFileRepository) AddCommand(ctx context.Context, command string) error {
	return r.update(func(s *model.Settings) bool {
		for _, c := range s.Commands {
			if c == command {
				return false
			}
		}
		s.Commands = append(s.Commands, command)
		return true
	})
}

// DeleteCommand removes command from the history
func (r *settingsFileRepository) DeleteCommand(ctx context.Context, command string) error {
	return r.update(func(s *model.Settings) bool {
		for i, c := range s.Commands {
			if c == command {
				s.Commands = append(s.Commands[:i], s.Commands[i+1:]...)
				return true
			}
		}
		return false
	})
}

// update applies change and writes the file when change reports a modification
func (r *settingsFileRepository) update(change func(s *model.Settings) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return err
	}

	next := copySettings(r.settings)
	if !change(next) {
		return nil
	}
	if err := r.write(next); err != nil {
		return err
	}
	r.settings = next
	return nil
}

func (r *settingsFileRepository) ensureLoaded() error {
	if r.loaded {
		return nil
	}

	settings := model.NewSettings()
	if err := r.v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("failed to read settings file: %w", err)
			}
		}
		r.logger.Info("Settings file not found, starting with empty settings")
	} else {
		var doc settingsDocument
		if err := r.v.Unmarshal(&doc); err != nil {
			return fmt.Errorf("failed to decode settings file: %w", err)
		}
		for _, o := range doc.Recent {
			if o != nil && o.Path != "" {
				settings.Recent[o.Path] = o
			}
		}
		if doc.Commands != nil {
			settings.Commands = doc.Commands
		}
	}

	r.settings = settings
	r.loaded = true
	return nil
}

func (r *settingsFileRepository) write(s *model.Settings) error {
	doc := settingsDocument{Commands: s.Commands, Recent: make([]*model.PortOptions, 0, len(s.Recent))}
	for _, o := range s.Recent {
		doc.Recent = append(doc.Recent, o)
	}
	sort.Slice(doc.Recent, func(i, j int) bool { return doc.Recent[i].Path < doc.Recent[j].Path })

	// Go through JSON so the file uses the same field names as the host protocol
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	var values map[string]interface{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	for key, value := range values {
		r.v.Set(key, value)
	}
	if err := r.v.WriteConfigAs(r.path); err != nil {
		r.logger.Error("Failed to write settings file", zap.Error(err))
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	r.logger.Debug("Settings file written",
		zap.Int("recent", len(doc.Recent)),
		zap.Int("commands", len(doc.Commands)),
	)
	return nil
}

func copySettings(s *model.Settings) *model.Settings {
	out := model.NewSettings()
	for path, o := range s.Recent {
		out.Recent[path] = o
	}
	out.Commands = append(out.Commands, s.Commands...)
	return out
}
