package opsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/logging"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// Action names used in errors and logs.
const (
	ActionAcknowledgeAlert  = "acknowledge-alert"
	ActionExecuteRunbook    = "execute-runbook"
	ActionExecuteSkill      = "execute-skill"
	ActionReloadSkill       = "reload-skill"
	ActionUpdateSkillConfig = "update-skill-config"
)

// Actions are remote operations on the console backend. A successful action
// re-polls the classes it affects. Failures are returned as
// *errors.ActionError and never retried.
type Actions interface {
	// AcknowledgeAlert marks an alert as acknowledged.
	AcknowledgeAlert(ctx context.Context, id string) (telemetry.ActionResult, error)

	// ExecuteRunbook runs a runbook with optional parameters.
	ExecuteRunbook(ctx context.Context, id string, params map[string]any) (telemetry.ActionResult, error)

	// ExecuteSkill runs a skill with optional parameters.
	ExecuteSkill(ctx context.Context, name string, params map[string]any) (telemetry.ActionResult, error)

	// ReloadSkill reloads a skill definition on the backend.
	ReloadSkill(ctx context.Context, name string) (telemetry.ActionResult, error)

	// UpdateSkillConfig merges cfg into a skill's configuration.
	UpdateSkillConfig(ctx context.Context, name string, cfg map[string]any) (telemetry.ActionResult, error)
}

// action describes one remote operation.
type action struct {
	name     string
	target   string
	method   string
	path     string
	body     any
	affected []telemetry.EntityClass
}

// AcknowledgeAlert implements Actions.
func (c *client) AcknowledgeAlert(ctx context.Context, id string) (telemetry.ActionResult, error) {
	return c.do(ctx, action{
		name:     ActionAcknowledgeAlert,
		target:   id,
		method:   http.MethodPost,
		path:     "/api/alerts/" + url.PathEscape(id) + "/acknowledge",
		affected: []telemetry.EntityClass{telemetry.Alerts},
	})
}

// ExecuteRunbook implements Actions.
func (c *client) ExecuteRunbook(ctx context.Context, id string, params map[string]any) (telemetry.ActionResult, error) {
	var body any
	if params != nil {
		body = params
	}
	return c.do(ctx, action{
		name:     ActionExecuteRunbook,
		target:   id,
		method:   http.MethodPost,
		path:     "/api/runbooks/" + url.PathEscape(id) + "/execute",
		body:     body,
		affected: []telemetry.EntityClass{telemetry.Runbooks, telemetry.Incidents},
	})
}

// ExecuteSkill implements Actions.
func (c *client) ExecuteSkill(ctx context.Context, name string, params map[string]any) (telemetry.ActionResult, error) {
	if params == nil {
		params = map[string]any{}
	}
	return c.do(ctx, action{
		name:     ActionExecuteSkill,
		target:   name,
		method:   http.MethodPost,
		path:     "/api/skills/" + url.PathEscape(name) + "/execute",
		body:     map[string]any{"params": params},
		affected: []telemetry.EntityClass{telemetry.Skills},
	})
}

// ReloadSkill implements Actions.
func (c *client) ReloadSkill(ctx context.Context, name string) (telemetry.ActionResult, error) {
	return c.do(ctx, action{
		name:     ActionReloadSkill,
		target:   name,
		method:   http.MethodPost,
		path:     "/api/skills/" + url.PathEscape(name) + "/reload",
		affected: []telemetry.EntityClass{telemetry.Skills},
	})
}

// UpdateSkillConfig implements Actions.
func (c *client) UpdateSkillConfig(ctx context.Context, name string, cfg map[string]any) (telemetry.ActionResult, error) {
	if cfg == nil {
		return telemetry.ActionResult{}, errors.NewValidationError("config", nil, "cannot be nil")
	}
	return c.do(ctx, action{
		name:     ActionUpdateSkillConfig,
		target:   name,
		method:   http.MethodPut,
		path:     "/api/skills/" + url.PathEscape(name) + "/config",
		body:     map[string]any{"config": cfg},
		affected: []telemetry.EntityClass{telemetry.Skills},
	})
}

// do performs an action and refreshes the affected classes on success.
func (c *client) do(ctx context.Context, a action) (telemetry.ActionResult, error) {
	var result telemetry.ActionResult

	if a.target == "" {
		return result, errors.NewValidationError("target", a.target, "cannot be empty")
	}
	if c.isClosed() {
		return result, errors.NewActionError(a.name, a.target, "", errors.ErrClosed)
	}

	ctx = logging.WithFields(c.logContext(ctx), map[string]any{
		"action": a.name,
		"target": a.target,
	})
	logger := logging.FromContext(ctx)

	raw, err := c.transport.Send(ctx, a.method, a.path, a.body)
	if err != nil {
		logger.Warn().Err(err).Msg("Action failed")
		return result, errors.NewActionError(a.name, a.target, "", err)
	}

	// non-object replies carry no verdict
	if err := json.Unmarshal(raw, &result); err != nil {
		result = telemetry.ActionResult{}
	}
	if result.Failed() {
		reason := result.Reason()
		if reason == "" {
			reason = "rejected by backend"
		}
		logger.Warn().Str("reason", reason).Msg("Action rejected")
		return result, errors.NewActionError(a.name, a.target, reason, nil)
	}

	logger.Info().
		Str("execution_id", result.ExecutionID).
		Msg("Action completed")

	for _, class := range a.affected {
		if err := c.Refresh(ctx, class); err != nil {
			// the next scheduled poll picks the change up
			logger.Warn().Err(err).Str("class", class.String()).Msg("Refresh after action failed")
		}
	}
	return result, nil
}
