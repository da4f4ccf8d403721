// Package config loads opsync session settings from config files, .env files
// and OPSYNC_* environment variables.
package config

import (
	stderrors "errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/opsync/internal/stream"
	"github.com/agentstation/opsync/pkg/constants"
	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable, e.g. OPSYNC_BASE_URL.
const EnvPrefix = "OPSYNC"

// DefaultBaseURL is the console backend address used when none is configured.
const DefaultBaseURL = "http://localhost:8000"

// DefaultBridgeAddr is the listen address of the local bridge.
const DefaultBridgeAddr = "127.0.0.1:8090"

// Config holds every setting of an opsync session.
type Config struct {
	// Backend
	BaseURL      string
	StreamURL    string
	PushDisabled bool

	// Polling
	Classes       []telemetry.EntityClass
	PollInterval  time.Duration
	PollIntervals map[telemetry.EntityClass]time.Duration
	PollTimeout   time.Duration

	// Push channel reconnects
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffJitter  float64

	// Local bridge
	BridgeAddr string

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string

	// Output format for CLI commands (table, json, yaml). Empty auto-detects.
	Output string

	// ConfigFile is the file that was read, if any.
	ConfigFile string
}

// Load reads configuration in order of precedence:
// 1. Environment variables (OPSYNC_*)
// 2. .env files
// 3. Config file (explicit path, or .opsync.yaml in the working or home directory)
// 4. Defaults
//
// Command-line flags are applied afterwards by the CLI.
func Load(configFile string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(".opsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !stderrors.As(err, &notFound) {
			return nil, errors.NewConfigError("file", "failed to read config file", err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("poll_interval", constants.DefaultPollInterval)
	v.SetDefault("poll_timeout", constants.DefaultPollTimeout)
	v.SetDefault("backoff.initial", constants.DefaultInitialBackoff)
	v.SetDefault("backoff.max", constants.DefaultMaxBackoff)
	v.SetDefault("backoff.jitter", constants.DefaultBackoffJitter)
	v.SetDefault("bridge.addr", DefaultBridgeAddr)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.output", "stderr")
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		BaseURL:        strings.TrimRight(v.GetString("base_url"), "/"),
		StreamURL:      v.GetString("stream_url"),
		PushDisabled:   v.GetBool("push_disabled"),
		PollInterval:   v.GetDuration("poll_interval"),
		PollIntervals:  make(map[telemetry.EntityClass]time.Duration),
		PollTimeout:    v.GetDuration("poll_timeout"),
		InitialBackoff: v.GetDuration("backoff.initial"),
		MaxBackoff:     v.GetDuration("backoff.max"),
		BackoffJitter:  v.GetFloat64("backoff.jitter"),
		BridgeAddr:     v.GetString("bridge.addr"),
		LogLevel:       v.GetString("log.level"),
		LogFormat:      v.GetString("log.format"),
		LogOutput:      v.GetString("log.output"),
		Output:         v.GetString("output"),
		ConfigFile:     v.ConfigFileUsed(),
	}

	classes, err := ParseClasses(v.GetStringSlice("classes"))
	if err != nil {
		return nil, err
	}
	cfg.Classes = classes

	for _, class := range telemetry.AllClasses() {
		key := "poll_intervals." + class.String()
		if v.IsSet(key) {
			cfg.PollIntervals[class] = v.GetDuration(key)
		}
	}

	if cfg.StreamURL == "" {
		if derived, err := stream.URLFromBase(cfg.BaseURL); err == nil {
			cfg.StreamURL = derived
		}
	}

	return cfg, nil
}

// ParseClasses parses class names. An empty list yields every class.
func ParseClasses(names []string) ([]telemetry.EntityClass, error) {
	var out []telemetry.EntityClass
	for _, raw := range names {
		// viper splits env lists on spaces only
		for _, name := range strings.Split(raw, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			class, err := telemetry.ParseEntityClass(name)
			if err != nil {
				return nil, err
			}
			out = append(out, class)
		}
	}
	if len(out) == 0 {
		return telemetry.AllClasses(), nil
	}
	return out, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.NewValidationError("base_url", c.BaseURL, "cannot be empty")
	}
	if _, err := stream.URLFromBase(c.BaseURL); err != nil {
		return err
	}
	if !c.PushDisabled && c.StreamURL == "" {
		return errors.NewValidationError("stream_url", c.StreamURL, "required unless push is disabled")
	}
	if c.PollInterval < constants.MinPollInterval {
		return errors.NewValidationError("poll_interval", c.PollInterval, "must be at least "+constants.MinPollInterval.String())
	}
	for class, d := range c.PollIntervals {
		if d != 0 && d < constants.MinPollInterval {
			return errors.NewValidationError("poll_intervals."+class.String(), d, "must be 0 or at least "+constants.MinPollInterval.String())
		}
	}
	if c.PollTimeout <= 0 {
		return errors.NewValidationError("poll_timeout", c.PollTimeout, "must be positive")
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return errors.NewValidationError("backoff", c.MaxBackoff, "max must be at least initial and both positive")
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		return errors.NewValidationError("backoff.jitter", c.BackoffJitter, "must be between 0 and 1")
	}
	switch c.Output {
	case "", "table", "json", "yaml":
	default:
		return errors.NewValidationError("output", c.Output, "must be table, json or yaml")
	}
	return nil
}

// loadEnvFiles loads .env then .env.local. Existing variables are not overridden.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}
