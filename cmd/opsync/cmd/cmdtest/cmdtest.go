// Package cmdtest provides a fake console backend and app context for
// command tests.
package cmdtest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentstation/opsync"
	"github.com/agentstation/opsync/internal/appcontext"
	"github.com/agentstation/opsync/internal/config"
	"github.com/agentstation/opsync/internal/output"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// Request is a request seen by the Backend.
type Request struct {
	Method string
	Path   string
	Body   string
}

// Backend is an in-process console backend answering REST calls from a
// route table keyed by "METHOD /path" or "/path" for GET.
type Backend struct {
	*httptest.Server

	mu       sync.Mutex
	routes   map[string]string
	status   map[string]int
	requests []Request
}

// NewBackend starts a Backend that is closed with the test.
func NewBackend(t *testing.T, routes map[string]string) *Backend {
	t.Helper()
	b := &Backend{
		routes: make(map[string]string),
		status: make(map[string]int),
	}
	for k, v := range routes {
		b.routes[k] = v
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Close)
	return b
}

// Fail makes key answer with status.
func (b *Backend) Fail(key string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status[key] = status
}

// Requests returns every request seen so far.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// Last returns the most recent request to method and path.
func (b *Backend) Last(method, path string) (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.requests) - 1; i >= 0; i-- {
		if r := b.requests[i]; r.Method == method && r.Path == path {
			return r, true
		}
	}
	return Request{}, false
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	b.requests = append(b.requests, Request{Method: r.Method, Path: r.URL.Path, Body: string(body)})
	key := r.Method + " " + r.URL.Path
	if r.Method == http.MethodGet {
		if _, ok := b.routes[key]; !ok {
			key = r.URL.Path
		}
	}
	status, failed := b.status[key]
	resp, found := b.routes[key]
	b.mu.Unlock()

	switch {
	case failed:
		http.Error(w, `{"detail":"failed"}`, status)
	case !found:
		http.NotFound(w, r)
	default:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}
}

// NewApp returns an app context whose client polls b with push disabled.
func NewApp(t *testing.T, b *Backend, format output.Format) *appcontext.Mock {
	t.Helper()

	logger := zerolog.Nop()
	cfg := &config.Config{
		BaseURL:      b.URL,
		PushDisabled: true,
		Classes:      telemetry.AllClasses(),
		BridgeAddr:   "127.0.0.1:0",
	}

	var (
		once   sync.Once
		client opsync.Client
		err    error
	)
	t.Cleanup(func() {
		if client != nil {
			_ = client.Close()
		}
	})

	return &appcontext.Mock{
		ClientFunc: func() (opsync.Client, error) {
			once.Do(func() {
				client, err = opsync.New(
					opsync.WithBaseURL(cfg.BaseURL),
					opsync.WithPushDisabled(true),
					opsync.WithClasses(cfg.Classes...),
					opsync.WithDefaultPollInterval(time.Hour),
					opsync.WithLogger(&logger),
				)
			})
			return client, err
		},
		ConfigFunc:       func() *config.Config { return cfg },
		LoggerFunc:       func() *zerolog.Logger { return &logger },
		OutputFormatFunc: func() output.Format { return format },
	}
}

// Run executes cmd with args and returns what it wrote to stdout. Usage and
// error printing are silenced as they are under the root command.
func Run(ctx context.Context, cmd *cobra.Command, args ...string) (string, error) {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}
