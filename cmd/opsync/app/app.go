// Package app provides the application context and dependency management
// for the opsync CLI. It centralizes configuration, logging and the
// session client, and hands them to commands through appcontext.Interface.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/opsync"
	"github.com/agentstation/opsync/internal/appcontext"
	"github.com/agentstation/opsync/internal/config"
	"github.com/agentstation/opsync/internal/output"
	"github.com/agentstation/opsync/pkg/errors"
)

// Ensure App implements appcontext.Interface at compile time.
var _ appcontext.Interface = (*App)(nil)

// Flags holds the global command-line flags.
type Flags struct {
	ConfigFile string
	Verbose    bool
	Quiet      bool
	NoColor    bool
	Output     string
	LogLevel   string
	BaseURL    string
	NoPush     bool
}

// App represents the opsync application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	config *config.Config
	flags  Flags
	logger *zerolog.Logger

	// client is lazy-initialized and shared by every command
	mu     sync.Mutex
	client opsync.Client
}

// New creates a new App instance with the given version information.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	cfg, err := config.Load("")
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	app.config = cfg

	logger := NewLogger(cfg, app.flags)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *config.Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// OutputFormat returns the format from --output, then the config, then
// terminal detection.
func (a *App) OutputFormat() output.Format {
	requested := a.flags.Output
	if requested == "" {
		requested = a.config.Output
	}
	return output.DetectFormat(requested)
}

// Client returns the session client, creating it on first use.
func (a *App) Client() (opsync.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return a.client, nil
	}

	c, err := opsync.New(a.buildClientOptions()...)
	if err != nil {
		return nil, errors.WrapResource("create", "client", a.config.BaseURL, err)
	}
	a.client = c
	return c, nil
}

// Shutdown closes the client if one was created.
func (a *App) Shutdown(_ context.Context) error {
	a.mu.Lock()
	c := a.client
	a.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}

// buildClientOptions constructs client options from the effective configuration.
func (a *App) buildClientOptions() []opsync.Option {
	cfg := a.config
	opts := []opsync.Option{
		opsync.WithBaseURL(cfg.BaseURL),
		opsync.WithPushDisabled(cfg.PushDisabled),
		opsync.WithClasses(cfg.Classes...),
		opsync.WithDefaultPollInterval(cfg.PollInterval),
		opsync.WithPollTimeout(cfg.PollTimeout),
		opsync.WithBackoff(cfg.InitialBackoff, cfg.MaxBackoff, cfg.BackoffJitter),
		opsync.WithLogger(a.logger),
	}

	if cfg.StreamURL != "" {
		opts = append(opts, opsync.WithStreamURL(cfg.StreamURL))
	}

	for class, d := range cfg.PollIntervals {
		opts = append(opts, opsync.WithPollInterval(class, d))
	}

	return opts
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) error {
		if cfg == nil {
			return &errors.ValidationError{Field: "config", Message: "cannot be nil"}
		}
		a.config = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithClient sets a custom client (useful for testing).
func WithClient(c opsync.Client) Option {
	return func(a *App) error {
		a.client = c
		return nil
	}
}
