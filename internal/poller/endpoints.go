package poller

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentstation/opsync/internal/transport"
	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// endpoint describes where a class is read from. A composite endpoint is
// fetched part by part and assembled into one JSON object keyed by part name.
type endpoint struct {
	path  string
	parts map[string]string
}

var endpoints = map[telemetry.EntityClass]endpoint{
	telemetry.Alerts:    {path: "/api/alerts"},
	telemetry.Incidents: {path: "/api/incidents"},
	telemetry.Runbooks:  {path: "/api/runbooks"},
	telemetry.Skills:    {path: "/api/skills"},
	telemetry.Stats:     {path: "/api/dashboard/stats"},
	telemetry.Metrics: {parts: map[string]string{
		"cpu":    "/api/metrics/cpu",
		"memory": "/api/metrics/memory",
		"alerts": "/api/metrics/alerts",
	}},
}

// Paths returns the backend paths polled for class.
func Paths(class telemetry.EntityClass) []string {
	ep, ok := endpoints[class]
	if !ok {
		return nil
	}
	if ep.path != "" {
		return []string{ep.path}
	}
	paths := make([]string, 0, len(ep.parts))
	for _, p := range ep.parts {
		paths = append(paths, p)
	}
	return paths
}

func (ep endpoint) fetch(ctx context.Context, client *transport.Client) (json.RawMessage, error) {
	if ep.path != "" {
		return client.Get(ctx, ep.path)
	}

	// the composite fails as a unit
	var mu sync.Mutex
	composed := make(map[string]json.RawMessage, len(ep.parts))

	g, gctx := errgroup.WithContext(ctx)
	for name, path := range ep.parts {
		g.Go(func() error {
			body, err := client.Get(gctx, path)
			if err != nil {
				return err
			}
			mu.Lock()
			composed[name] = body
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out, err := json.Marshal(composed)
	if err != nil {
		return nil, errors.WrapParse("json", "composite", err)
	}
	return out, nil
}
