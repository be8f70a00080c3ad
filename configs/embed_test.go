package configs_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lballaty/myragdb/configs"
	"github.com/lballaty/myragdb/internal/config"
)

// The template must always load cleanly; it is what 'myragdb init'
// hands to new users.
func TestConfigTemplate_LoadsWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "myragdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 5*time.Second, cfg.Watch.Debounce)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Empty(t, cfg.Sources())
}
