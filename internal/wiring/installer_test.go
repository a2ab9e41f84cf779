package wiring

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/replforge/backend/internal/config"
	"github.com/replforge/backend/internal/domain"
	"github.com/replforge/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInstaller(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Installer.UploadDir = filepath.Join(t.TempDir(), "keys")

	inst, err := NewInstaller(cfg, logger.NewNop(), nil)
	require.NoError(t, err)
	require.NotNil(t, inst.Driver)

	path, err := inst.KeyFiles.Save("k.pem", strings.NewReader("PRIVATE"))
	require.NoError(t, err)
	assert.Equal(t, cfg.Installer.UploadDir, filepath.Dir(path))

	assert.Equal(t, domain.TaskStatusNotFound, inst.Driver.Status("nothing").Status)
	inst.Store.Set("t1", domain.TaskStatusInstalling, "x")
	assert.Equal(t, domain.TaskStatusInstalling, inst.Driver.Status("t1").Status)
}
