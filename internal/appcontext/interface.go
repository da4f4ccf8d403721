// Package appcontext provides the shared application context interface
// used by all commands.
package appcontext

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/opsync"
	"github.com/agentstation/opsync/internal/config"
	"github.com/agentstation/opsync/internal/output"
)

// Interface defines what commands need from the application.
//
// Commands should accept this interface rather than the concrete App type,
// allowing for easier testing with mock implementations.
type Interface interface {
	// Client returns the session client, creating it lazily if needed.
	// The client is not started; commands that stream call Start themselves.
	Client() (opsync.Client, error)

	// Config returns the effective configuration after flags were applied.
	Config() *config.Config

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// OutputFormat returns the requested format, or the detected one when
	// none was requested.
	OutputFormat() output.Format

	// Version returns the application version string.
	Version() string

	// Commit returns the git commit hash.
	Commit() string

	// Date returns the build date.
	Date() string

	// BuiltBy returns the build system identifier.
	BuiltBy() string
}
