package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultTickInterval is the pump cadence between chunk deliveries.
	DefaultTickInterval = 100 * time.Millisecond

	// DefaultMaxChunkBytes caps a single read/decrypt/deliver step (32 MiB).
	DefaultMaxChunkBytes = 32 * 1024 * 1024

	// DefaultStallTimeout bounds how long a new request waits for the
	// previous session's in-flight delivery before abandoning it.
	DefaultStallTimeout = time.Second

	// DefaultWriteTimeout is the per-chunk HTTP write deadline.
	DefaultWriteTimeout = 30 * time.Second

	// DefaultKDFIterations is the PBKDF2 work factor used when none is configured.
	DefaultKDFIterations = 100000

	// DefaultAlgorithm is the stream cipher used when none is configured.
	DefaultAlgorithm = "aes-256-ctr"
)

// Config holds the complete loader configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	Source     SourceConfig     `yaml:"source"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Loader     LoaderConfig     `yaml:"loader"`
	Mime       MimeConfig       `yaml:"mime"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Audit      AuditConfig      `yaml:"audit"`
	Hardware   HardwareConfig   `yaml:"hardware"`
}

// SourceConfig selects where the encrypted media bytes come from.
type SourceConfig struct {
	// Type is "file" (default) or "s3".
	Type    string        `yaml:"type"`
	Path    string        `yaml:"path"`
	Backend BackendConfig `yaml:"backend"`
}

// BackendConfig configures an S3-compatible object store holding the media object.
type BackendConfig struct {
	Provider     string `yaml:"provider"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Bucket       string `yaml:"bucket"`
	Key          string `yaml:"key"`
	UseSSL       bool   `yaml:"use_ssl"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// EncryptionConfig configures the position-dependent cipher.
type EncryptionConfig struct {
	Algorithm    string `yaml:"algorithm"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`
	PasswordEnv  string `yaml:"password_env"`
	// Salt is base64 encoded. Empty selects the built-in salt.
	Salt       string `yaml:"salt"`
	Iterations int    `yaml:"iterations"`
}

// LoaderConfig configures the chunk pump.
type LoaderConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	MaxChunkBytes int           `yaml:"max_chunk_bytes"`
	StallTimeout  time.Duration `yaml:"stall_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// MimeConfig holds extension overrides. Keys are glob patterns matched against
// the lower-cased extension without the leading dot.
type MimeConfig struct {
	Overrides map[string]string `yaml:"overrides"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Exporter   string  `yaml:"exporter"` // "stdout" or "otlp"
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// AuditConfig configures the playback audit trail.
type AuditConfig struct {
	Enabled   bool       `yaml:"enabled"`
	MaxEvents int        `yaml:"max_events"`
	Sink      SinkConfig `yaml:"sink"`
}

// SinkConfig selects where audit events are written.
type SinkConfig struct {
	Type          string            `yaml:"type"` // "stdout", "file" or "http"
	Endpoint      string            `yaml:"endpoint"`
	Headers       map[string]string `yaml:"headers"`
	FilePath      string            `yaml:"file_path"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval time.Duration     `yaml:"flush_interval"`
}

// HardwareConfig gates use of CPU AES instructions in diagnostics.
type HardwareConfig struct {
	EnableAESNI    bool `yaml:"enable_aesni"`
	EnableARMv8AES bool `yaml:"enable_armv8_aes"`
}

// Default returns a configuration populated with defaults.
func Default() *Config {
	return &Config{
		ListenAddr: ":8090",
		LogLevel:   "info",
		LogFormat:  "json",
		Source: SourceConfig{
			Type: "file",
		},
		Encryption: EncryptionConfig{
			Algorithm:  DefaultAlgorithm,
			Iterations: DefaultKDFIterations,
		},
		Loader: LoaderConfig{
			TickInterval:  DefaultTickInterval,
			MaxChunkBytes: DefaultMaxChunkBytes,
			StallTimeout:  DefaultStallTimeout,
			WriteTimeout:  DefaultWriteTimeout,
		},
		Metrics: MetricsConfig{Enabled: true},
		Tracing: TracingConfig{Exporter: "stdout", SampleRate: 1.0},
		Audit: AuditConfig{
			MaxEvents: 1000,
			Sink:      SinkConfig{Type: "stdout"},
		},
		Hardware: HardwareConfig{
			EnableAESNI:    true,
			EnableARMv8AES: true,
		},
	}
}

// LoadConfig reads a YAML file (if path is non-empty), applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with MEDIALOADER_* environment variables.
func (c *Config) applyEnv() {
	setString := func(env string, dst *string) {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}

	setString("MEDIALOADER_LISTEN_ADDR", &c.ListenAddr)
	setString("MEDIALOADER_LOG_LEVEL", &c.LogLevel)
	setString("MEDIALOADER_LOG_FORMAT", &c.LogFormat)
	setString("MEDIALOADER_SOURCE_TYPE", &c.Source.Type)
	setString("MEDIALOADER_SOURCE_PATH", &c.Source.Path)
	setString("MEDIALOADER_BACKEND_PROVIDER", &c.Source.Backend.Provider)
	setString("MEDIALOADER_BACKEND_ENDPOINT", &c.Source.Backend.Endpoint)
	setString("MEDIALOADER_BACKEND_REGION", &c.Source.Backend.Region)
	setString("MEDIALOADER_BACKEND_ACCESS_KEY", &c.Source.Backend.AccessKey)
	setString("MEDIALOADER_BACKEND_SECRET_KEY", &c.Source.Backend.SecretKey)
	setString("MEDIALOADER_BACKEND_BUCKET", &c.Source.Backend.Bucket)
	setString("MEDIALOADER_BACKEND_KEY", &c.Source.Backend.Key)
	setString("MEDIALOADER_ENCRYPTION_ALGORITHM", &c.Encryption.Algorithm)
	setString("MEDIALOADER_ENCRYPTION_PASSWORD", &c.Encryption.Password)
	setString("MEDIALOADER_ENCRYPTION_PASSWORD_FILE", &c.Encryption.PasswordFile)
	setString("MEDIALOADER_TRACING_ENDPOINT", &c.Tracing.Endpoint)

	if v := os.Getenv("MEDIALOADER_BACKEND_USE_PATH_STYLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Source.Backend.UsePathStyle = b
		}
	}
	if v := os.Getenv("MEDIALOADER_LOADER_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Loader.TickInterval = d
		}
	}
	if v := os.Getenv("MEDIALOADER_LOADER_MAX_CHUNK_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Loader.MaxChunkBytes = n
		}
	}
	if v := os.Getenv("MEDIALOADER_LOADER_STALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Loader.StallTimeout = d
		}
	}
	if v := os.Getenv("MEDIALOADER_LOADER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Loader.WriteTimeout = d
		}
	}
	if v := os.Getenv("MEDIALOADER_TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tracing.Enabled = b
		}
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Source.Type) {
	case "", "file":
		if c.Source.Path == "" {
			return fmt.Errorf("source.path is required for file sources")
		}
	case "s3":
		if c.Source.Backend.Bucket == "" || c.Source.Backend.Key == "" {
			return fmt.Errorf("source.backend.bucket and source.backend.key are required for s3 sources")
		}
	default:
		return fmt.Errorf("unknown source type: %s", c.Source.Type)
	}

	switch c.Encryption.Algorithm {
	case "aes-256-ctr", "chacha20":
	default:
		return fmt.Errorf("unsupported encryption algorithm: %s", c.Encryption.Algorithm)
	}
	if c.Encryption.Iterations <= 0 {
		return fmt.Errorf("encryption.iterations must be positive")
	}
	if c.Encryption.Salt != "" {
		if _, err := base64.StdEncoding.DecodeString(c.Encryption.Salt); err != nil {
			return fmt.Errorf("encryption.salt must be base64: %w", err)
		}
	}

	if c.Loader.TickInterval <= 0 {
		return fmt.Errorf("loader.tick_interval must be positive")
	}
	if c.Loader.MaxChunkBytes <= 0 {
		return fmt.Errorf("loader.max_chunk_bytes must be positive")
	}
	if c.Loader.StallTimeout <= 0 {
		return fmt.Errorf("loader.stall_timeout must be positive")
	}
	if c.Loader.WriteTimeout <= 0 {
		return fmt.Errorf("loader.write_timeout must be positive")
	}

	switch c.Tracing.Exporter {
	case "", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown tracing exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0,1]")
	}

	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log format: %s", c.LogFormat)
	}
	return nil
}

// ResolvePassword returns the configured password, preferring an inline value,
// then the named environment variable, then the password file.
func (c *EncryptionConfig) ResolvePassword() (string, error) {
	if c.Password != "" {
		return c.Password, nil
	}
	if c.PasswordEnv != "" {
		if v := os.Getenv(c.PasswordEnv); v != "" {
			return v, nil
		}
	}
	if c.PasswordFile != "" {
		data, err := os.ReadFile(c.PasswordFile)
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	return "", nil
}
