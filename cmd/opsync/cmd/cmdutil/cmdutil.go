// Package cmdutil provides helpers shared by the action commands.
package cmdutil

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/agentstation/opsync/internal/output"
	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// Success is printed in front of completed actions.
const Success = "✓"

// ParseParams turns key=value pairs into a parameter map. Values that parse
// as JSON keep their type, so count=3 is a number and dry_run=true a bool.
// No pairs yields a nil map.
func ParseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, errors.NewValidationError("param", pair, "must be key=value")
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		params[key] = value
	}
	return params, nil
}

// ResultView is the printable outcome of an action.
type ResultView struct {
	Action      string `json:"action" yaml:"action"`
	Target      string `json:"target" yaml:"target"`
	Message     string `json:"message,omitempty" yaml:"message,omitempty"`
	ExecutionID string `json:"execution_id,omitempty" yaml:"execution_id,omitempty"`
}

// PrintResult writes the outcome of a successful action. Tables get a one
// line summary instead of a grid.
func PrintResult(w io.Writer, format output.Format, action, target string, result telemetry.ActionResult) error {
	view := ResultView{
		Action:      action,
		Target:      target,
		Message:     result.Message,
		ExecutionID: result.ExecutionID,
	}

	if format != output.FormatTable {
		return output.NewFormatter(format).Format(w, view)
	}

	line := fmt.Sprintf("%s %s %s", color.GreenString(Success), action, target)
	if view.Message != "" {
		line += ": " + view.Message
	}
	if view.ExecutionID != "" {
		line += " (execution " + view.ExecutionID + ")"
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
