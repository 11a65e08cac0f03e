package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "source:\n  path: /tmp/movie.mp4\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/movie.mp4", cfg.Source.Path)
	assert.Equal(t, DefaultTickInterval, cfg.Loader.TickInterval)
	assert.Equal(t, DefaultMaxChunkBytes, cfg.Loader.MaxChunkBytes)
	assert.Equal(t, DefaultStallTimeout, cfg.Loader.StallTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.Loader.WriteTimeout)
	assert.Equal(t, DefaultAlgorithm, cfg.Encryption.Algorithm)
	assert.Equal(t, DefaultKDFIterations, cfg.Encryption.Iterations)
}

func TestLoadConfig_FileValues(t *testing.T) {
	body := `
listen_addr: "127.0.0.1:9000"
log_level: debug
source:
  type: file
  path: /data/clip.mkv
encryption:
  algorithm: chacha20
  password: secret
  iterations: 10
loader:
  tick_interval: 50ms
  max_chunk_bytes: 4096
  stall_timeout: 250ms
  write_timeout: 5s
mime:
  overrides:
    "mk*": video/x-matroska
`
	cfg, err := LoadConfig(writeConfig(t, t.TempDir(), body))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "chacha20", cfg.Encryption.Algorithm)
	assert.Equal(t, 50*time.Millisecond, cfg.Loader.TickInterval)
	assert.Equal(t, 4096, cfg.Loader.MaxChunkBytes)
	assert.Equal(t, 250*time.Millisecond, cfg.Loader.StallTimeout)
	assert.Equal(t, 5*time.Second, cfg.Loader.WriteTimeout)
	assert.Equal(t, "video/x-matroska", cfg.Mime.Overrides["mk*"])
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "source:\n  path: /tmp/a.mp4\n")
	t.Setenv("MEDIALOADER_SOURCE_PATH", "/tmp/b.mp4")
	t.Setenv("MEDIALOADER_LOADER_MAX_CHUNK_BYTES", "40")
	t.Setenv("MEDIALOADER_LOADER_TICK_INTERVAL", "10ms")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/b.mp4", cfg.Source.Path)
	assert.Equal(t, 40, cfg.Loader.MaxChunkBytes)
	assert.Equal(t, 10*time.Millisecond, cfg.Loader.TickInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid file source", func(c *Config) { c.Source.Path = "/x.mp4" }, false},
		{"missing path", func(c *Config) {}, true},
		{"s3 missing bucket", func(c *Config) { c.Source.Type = "s3" }, true},
		{"s3 complete", func(c *Config) {
			c.Source.Type = "s3"
			c.Source.Backend.Bucket = "media"
			c.Source.Backend.Key = "movie.mp4"
		}, false},
		{"unknown source", func(c *Config) { c.Source.Type = "ftp" }, true},
		{"bad algorithm", func(c *Config) {
			c.Source.Path = "/x.mp4"
			c.Encryption.Algorithm = "rot13"
		}, true},
		{"bad salt", func(c *Config) {
			c.Source.Path = "/x.mp4"
			c.Encryption.Salt = "%%%"
		}, true},
		{"zero chunk cap", func(c *Config) {
			c.Source.Path = "/x.mp4"
			c.Loader.MaxChunkBytes = 0
		}, true},
		{"zero tick", func(c *Config) {
			c.Source.Path = "/x.mp4"
			c.Loader.TickInterval = 0
		}, true},
		{"zero stall timeout", func(c *Config) {
			c.Source.Path = "/x.mp4"
			c.Loader.StallTimeout = 0
		}, true},
		{"bad sample rate", func(c *Config) {
			c.Source.Path = "/x.mp4"
			c.Tracing.SampleRate = 2
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolvePassword(t *testing.T) {
	dir := t.TempDir()
	pwFile := filepath.Join(dir, "pw")
	require.NoError(t, os.WriteFile(pwFile, []byte("from-file\n"), 0600))
	t.Setenv("TEST_MEDIA_PASSWORD", "from-env")

	inline := EncryptionConfig{Password: "inline", PasswordEnv: "TEST_MEDIA_PASSWORD"}
	pw, err := inline.ResolvePassword()
	require.NoError(t, err)
	assert.Equal(t, "inline", pw)

	env := EncryptionConfig{PasswordEnv: "TEST_MEDIA_PASSWORD", PasswordFile: pwFile}
	pw, err = env.ResolvePassword()
	require.NoError(t, err)
	assert.Equal(t, "from-env", pw)

	file := EncryptionConfig{PasswordFile: pwFile}
	pw, err = file.ResolvePassword()
	require.NoError(t, err)
	assert.Equal(t, "from-file", pw)

	missing := EncryptionConfig{PasswordFile: filepath.Join(dir, "nope")}
	_, err = missing.ResolvePassword()
	assert.Error(t, err)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log_level: info\nsource:\n  path: /x.mp4\n")

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var level atomic.Value
	require.NoError(t, Watch(ctx, path, logger, func(c *Config) {
		level.Store(c.LogLevel)
	}))

	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nsource:\n  path: /x.mp4\n"), 0600))

	assert.Eventually(t, func() bool {
		v, _ := level.Load().(string)
		return v == "debug"
	}, 2*time.Second, 20*time.Millisecond)
}
