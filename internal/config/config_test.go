package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "storefront", cfg.API.Path)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, DefaultLoggedOutMessage, cfg.API.LoggedOutMessage)
	assert.Equal(t, "file", cfg.Slots.Mode)
	assert.Equal(t, 10, cfg.Devserver.PageSize)
	assert.Equal(t, "storefront", cfg.Devserver.APIPath)
}

func TestLoad_FileThenEnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	yaml := `
api:
  base_url: https://shop.example.com
  path: candy
  timeout: 3s
slots:
  mode: memory
devserver:
  page_size: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("STOREFRONT_API__PATH", "sweets")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com", cfg.API.BaseURL)
	assert.Equal(t, "sweets", cfg.API.Path)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, "memory", cfg.Slots.Mode)
	assert.Equal(t, 5, cfg.Devserver.PageSize)
}

func TestLoad_RejectsUnknownSlotMode(t *testing.T) {
	t.Setenv("STOREFRONT_SLOTS__MODE", "cookie")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_RedisNeedsAddress(t *testing.T) {
	t.Setenv("STOREFRONT_SLOTS__MODE", "redis")
	_, err := Load("")
	assert.ErrorContains(t, err, "redis_addr")
}
