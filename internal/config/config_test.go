package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/handpose-api/internal/imaging"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "handpose-api", cfg.AppName)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 5*time.Second, cfg.ClassifyTimeout())
	assert.Equal(t, 2*time.Second, cfg.SamplerInterval())
	assert.Equal(t, imaging.RGB, cfg.Order())
	assert.Equal(t, int64(10<<20), cfg.UploadMaxBytes)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("CHANNEL_ORDER", "bgr")
	t.Setenv("CLASSIFY_TIMEOUT_MS", "0")
	t.Setenv("MODEL_PATH", "/srv/model.onnx")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, imaging.BGR, cfg.Order())
	assert.Equal(t, time.Duration(0), cfg.ClassifyTimeout())
	assert.Equal(t, "/srv/model.onnx", cfg.ModelPath)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("channel order", func(t *testing.T) {
		t.Setenv("CHANNEL_ORDER", "YUV")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("negative timeout", func(t *testing.T) {
		t.Setenv("CLASSIFY_TIMEOUT_MS", "-1")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("port", func(t *testing.T) {
		t.Setenv("APP_PORT", "0")
		_, err := Load()
		assert.Error(t, err)
	})
}
