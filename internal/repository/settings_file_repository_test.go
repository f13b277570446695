package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-mux/internal/model"
)

func settingsPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "nested", "settings.yaml")
}

func TestSettingsFileMissingFileIsEmpty(t *testing.T) {
	repo := NewSettingsFileRepository(settingsPath(t), zap.NewNop())

	settings, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, settings.Recent)
	assert.Empty(t, settings.Commands)
}

func TestSettingsFileRoundTrip(t *testing.T) {
	path := settingsPath(t)
	ctx := context.Background()
	repo := NewSettingsFileRepository(path, zap.NewNop())

	require.NoError(t, repo.SaveOptions(ctx, &model.PortOptions{
		Path:    "/dev/ttyUSB0",
		Options: model.SerialOptions{BaudRate: 115200, Parity: model.ParityEven},
		Reader:  &model.ReaderOptions{Delimiter: "\r\n", Encoding: model.EncodingLatin1},
	}))
	require.NoError(t, repo.SaveOptions(ctx, &model.PortOptions{Path: "/dev/ttyACM0"}))
	require.NoError(t, repo.AddCommand(ctx, "help"))
	require.NoError(t, repo.AddCommand(ctx, "reboot"))
	require.NoError(t, repo.AddCommand(ctx, "help"))

	_, err := os.Stat(path)
	require.NoError(t, err)

	reloaded, err := NewSettingsFileRepository(path, zap.NewNop()).Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"help", "reboot"}, reloaded.Commands)
	require.Len(t, reloaded.Recent, 2)
	usb := reloaded.Recent["/dev/ttyUSB0"]
	require.NotNil(t, usb)
	assert.Equal(t, 115200, usb.Options.BaudRate)
	assert.Equal(t, model.ParityEven, usb.Options.Parity)
	require.NotNil(t, usb.Reader)
	assert.Equal(t, "\r\n", usb.Reader.Delimiter)
	assert.Equal(t, model.EncodingLatin1, usb.Reader.Encoding)
	assert.Contains(t, reloaded.Recent, "/dev/ttyACM0")
}

func TestSettingsFileDelete(t *testing.T) {
	path := settingsPath(t)
	ctx := context.Background()
	repo := NewSettingsFileRepository(path, zap.NewNop())

	require.NoError(t, repo.SaveOptions(ctx, &model.PortOptions{Path: "/dev/ttyUSB0"}))
	require.NoError(t, repo.AddCommand(ctx, "help"))
	require.NoError(t, repo.AddCommand(ctx, "reboot"))

	require.NoError(t, repo.DeleteOptions(ctx, "/dev/ttyUSB0"))
	require.NoError(t, repo.DeleteOptions(ctx, "/dev/ttyUSB9"))
	require.NoError(t, repo.DeleteCommand(ctx, "help"))
	require.NoError(t, repo.DeleteCommand(ctx, "missing"))

	reloaded, err := NewSettingsFileRepository(path, zap.NewNop()).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Recent)
	assert.Equal(t, []string{"reboot"}, reloaded.Commands)
}

func TestSettingsFileLoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewSettingsFileRepository(settingsPath(t), zap.NewNop())
	require.NoError(t, repo.AddCommand(ctx, "help"))

	settings, err := repo.Load(ctx)
	require.NoError(t, err)
	settings.Commands[0] = "changed"
	settings.Recent["/dev/x"] = &model.PortOptions{Path: "/dev/x"}

	again, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"help"}, again.Commands)
	assert.Empty(t, again.Recent)
}

func TestSettingsFileCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recent: [unclosed\n"), 0644))

	_, err := NewSettingsFileRepository(path, zap.NewNop()).Load(context.Background())
	assert.Error(t, err)
}
