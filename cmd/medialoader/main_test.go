package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/media-resource-loader/internal/config"
	"github.com/kenneth/media-resource-loader/internal/debug"
)

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogFormat = "text"
	cfg.LogLevel = "warn"

	logger := newLogger(cfg)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	cfg.LogFormat = "json"
	cfg.LogLevel = "bogus"
	logger = newLogger(cfg)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestApplyLogLevel_TogglesDebug(t *testing.T) {
	t.Setenv("MEDIALOADER_DEBUG", "")
	t.Setenv("DEBUG", "")
	t.Setenv("LOG_LEVEL", "")
	defer debug.SetEnabled(false)

	logger := logrus.New()
	applyLogLevel(logger, "debug")
	assert.True(t, debug.Enabled())

	applyLogLevel(logger, "info")
	assert.False(t, debug.Enabled())
}

func TestOpenSource_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0600))

	cfg := config.Default()
	cfg.Source.Path = path

	src, err := openSource(context.Background(), cfg)
	require.NoError(t, err)
	defer src.Close()

	assert.NoError(t, src.Err())
	assert.Equal(t, int64(4), src.Size())
	assert.Equal(t, "clip.mp4", src.Name())
}
