package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	dmerrors "dmsdk/internal/errors"
)

// Config represents the complete SDK configuration
type Config struct {
	Pipe           string        `yaml:"pipe" envconfig:"PIPE"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT" validate:"gt=0"`
	WaitTimeout    time.Duration `yaml:"wait_timeout" envconfig:"WAIT_TIMEOUT" validate:"gt=0"`
	// RequestTimeout bounds one launcher round-trip; zero uses ConnectTimeout.
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" validate:"gte=0"`
	AppID          string        `yaml:"app_id" envconfig:"APP_ID"`
	PublicKey      string        `yaml:"public_key" envconfig:"PUBLIC_KEY"`
	PublicKeyFile  string        `yaml:"public_key_file" envconfig:"PUBLIC_KEY_FILE"`

	Retry     RetryConfig     `yaml:"retry" envconfig:"RETRY"`
	Updates   UpdatesConfig   `yaml:"updates" envconfig:"UPDATES"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Status    StatusConfig    `yaml:"status" envconfig:"STATUS"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// RetryConfig controls the backoff between activation attempts.
// Zero MaxAttempts or MaxElapsed disables that bound; at least one must be set.
type RetryConfig struct {
	InitialInterval     time.Duration `yaml:"initial_interval" envconfig:"INITIAL_INTERVAL" validate:"gt=0"`
	MaxInterval         time.Duration `yaml:"max_interval" envconfig:"MAX_INTERVAL" validate:"gtefield=InitialInterval"`
	Multiplier          float64       `yaml:"multiplier" envconfig:"MULTIPLIER" validate:"gte=1"`
	RandomizationFactor float64       `yaml:"randomization_factor" envconfig:"RANDOMIZATION_FACTOR" validate:"gte=0,lte=1"`
	MaxAttempts         int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS" validate:"gte=0"`
	MaxElapsed          time.Duration `yaml:"max_elapsed" envconfig:"MAX_ELAPSED" validate:"gte=0"`
}

// UpdatesConfig contains update watcher configuration
type UpdatesConfig struct {
	Watch           bool          `yaml:"watch" envconfig:"WATCH"`
	MinPollInterval time.Duration `yaml:"min_poll_interval" envconfig:"MIN_POLL_INTERVAL" validate:"gt=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" validate:"required_unless=Output console"`
}

// StatusConfig contains the local status server configuration
type StatusConfig struct {
	Enabled         bool            `yaml:"enabled" envconfig:"ENABLED"`
	Addr            string          `yaml:"addr" envconfig:"ADDR" validate:"required,hostname_port"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	WebSocket       WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gt=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gt=0"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" validate:"gt=0"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" validate:"gt=0"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD" validate:"gt=0"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" validate:"gtfield=PingPeriod"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	EnableMetrics bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	EnableTracing bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	TraceExporter string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
	Environment   string  `yaml:"environment" envconfig:"ENVIRONMENT"`
}

// Load builds the configuration from defaults, the YAML file named by
// DM_CONFIG_FILE (if any) and DM_* environment variables, in that order.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv(ConfigFileEnv))
}

// LoadFrom is Load with an explicit config file path. An empty path skips
// the file.
func LoadFrom(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, dmerrors.Wrap(dmerrors.KindConfiguration, "config.load",
				fmt.Errorf("failed to load config from file: %w", err))
		}
		cfg.resolvePaths(filepath.Dir(configFile))
	}

	// Env is processed last so it overrides the file.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, dmerrors.Wrap(dmerrors.KindConfiguration, "config.load",
			fmt.Errorf("failed to load config from env: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// resolvePaths makes file references in the config file relative to the
// file's own directory.
func (c *Config) resolvePaths(baseDir string) {
	if c.PublicKeyFile != "" && !filepath.IsAbs(c.PublicKeyFile) {
		c.PublicKeyFile = filepath.Join(baseDir, c.PublicKeyFile)
	}
}

// Validate checks struct constraints and returns a configuration error
// naming the offending fields by their YAML names.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return dmerrors.Wrap(dmerrors.KindConfiguration, "config.validate", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return dmerrors.Configuration("config.validate", "invalid configuration: %s", strings.Join(msgs, "; "))
	}

	if c.Retry.MaxAttempts == 0 && c.Retry.MaxElapsed == 0 {
		return dmerrors.Configuration("config.validate",
			"invalid configuration: retry needs max_attempts or max_elapsed")
	}
	return nil
}

// PublicKeyPEM returns the configured public key, reading PublicKeyFile when
// no inline key is set.
func (c *Config) PublicKeyPEM() (string, error) {
	if strings.TrimSpace(c.PublicKey) != "" {
		return c.PublicKey, nil
	}
	if c.PublicKeyFile == "" {
		return "", dmerrors.ErrPublicKeyMissing
	}
	data, err := os.ReadFile(c.PublicKeyFile)
	if err != nil {
		return "", dmerrors.Wrap(dmerrors.KindConfiguration, "config.public_key",
			fmt.Errorf("failed to read public key file: %w", err))
	}
	return string(data), nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		ConnectTimeout: DefaultConnectTimeout,
		WaitTimeout:    DefaultWaitTimeout,
		Retry: RetryConfig{
			InitialInterval:     500 * time.Millisecond,
			MaxInterval:         30 * time.Second,
			Multiplier:          2,
			RandomizationFactor: 0.5,
			MaxAttempts:         10,
			MaxElapsed:          5 * time.Minute,
		},
		Updates: UpdatesConfig{
			MinPollInterval: time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/dmsdk.log",
		},
		Status: StatusConfig{
			Addr:            "127.0.0.1:8765",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    45 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   40,
			},
			WebSocket: WebSocketConfig{
				ReadBufferSize:  1024,
				WriteBufferSize: 1024,
				PingPeriod:      30 * time.Second,
				PongWait:        60 * time.Second,
			},
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: true,
			TraceExporter: "none",
			SampleRatio:   1.0,
			Environment:   "development",
		},
	}
}
