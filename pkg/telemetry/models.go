package telemetry

import "encoding/json"

// Alert is a firing or resolved alert.
type Alert struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Severity    string `json:"severity" yaml:"severity"`
	Status      string `json:"status" yaml:"status"`
	Namespace   string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Service     string `json:"service,omitempty" yaml:"service,omitempty"`
	Pod         string `json:"pod,omitempty" yaml:"pod,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	StartsAt    string `json:"starts_at,omitempty" yaml:"starts_at,omitempty"`
	Duration    string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// AlertList is the alerts class payload.
type AlertList struct {
	Alerts []Alert `json:"alerts" yaml:"alerts"`
	Total  int     `json:"total" yaml:"total"`
}

// Incident is an operational incident.
type Incident struct {
	ID               string   `json:"id" yaml:"id"`
	Severity         string   `json:"severity" yaml:"severity"`
	Status           string   `json:"status" yaml:"status"`
	Summary          string   `json:"summary" yaml:"summary"`
	RootCause        string   `json:"root_cause,omitempty" yaml:"root_cause,omitempty"`
	AffectedServices []string `json:"affected_services,omitempty" yaml:"affected_services,omitempty"`
	Duration         string   `json:"duration,omitempty" yaml:"duration,omitempty"`
	UserImpact       string   `json:"user_impact,omitempty" yaml:"user_impact,omitempty"`
	CreatedAt        string   `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	ResolvedAt       string   `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
}

// IncidentList is the incidents class payload.
type IncidentList struct {
	Incidents []Incident `json:"incidents" yaml:"incidents"`
	Total     int        `json:"total" yaml:"total"`
}

// Runbook is a remediation procedure.
type Runbook struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Version        string   `json:"version,omitempty" yaml:"version,omitempty"`
	Description    string   `json:"description,omitempty" yaml:"description,omitempty"`
	Severity       string   `json:"severity,omitempty" yaml:"severity,omitempty"`
	Triggers       []string `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	ExecutionCount int      `json:"execution_count" yaml:"execution_count"`
	SuccessRate    float64  `json:"success_rate" yaml:"success_rate"`
}

// RunbookList is the runbooks class payload.
type RunbookList struct {
	Runbooks []Runbook `json:"runbooks" yaml:"runbooks"`
	Total    int       `json:"total" yaml:"total"`
}

// Skill is a remotely executable operator skill.
type Skill struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string         `json:"version,omitempty" yaml:"version,omitempty"`
	Author      string         `json:"author,omitempty" yaml:"author,omitempty"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// SkillList is the skills class payload.
type SkillList struct {
	Skills []Skill `json:"skills" yaml:"skills"`
}

// Series is a current value with its recent trend.
type Series struct {
	Current float64   `json:"current" yaml:"current"`
	Trend   []float64 `json:"trend" yaml:"trend"`
	Unit    string    `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// AlertMetrics summarizes alert volume.
type AlertMetrics struct {
	Last7Days  []int          `json:"last_7_days,omitempty" yaml:"last_7_days,omitempty"`
	BySeverity map[string]int `json:"by_severity,omitempty" yaml:"by_severity,omitempty"`
	Firing     int            `json:"firing,omitempty" yaml:"firing,omitempty"`
	Resolved   int            `json:"resolved,omitempty" yaml:"resolved,omitempty"`
}

// MetricsPayload is the metrics class payload, composed from three endpoints when polled.
type MetricsPayload struct {
	CPU    json.RawMessage `json:"cpu" yaml:"cpu"`
	Memory json.RawMessage `json:"memory" yaml:"memory"`
	Alerts json.RawMessage `json:"alerts" yaml:"alerts"`
}

// DecodeCPU decodes the cpu series.
func (m MetricsPayload) DecodeCPU() (Series, error) {
	var s Series
	err := json.Unmarshal(m.CPU, &s)
	return s, err
}

// DecodeMemory decodes the memory series.
func (m MetricsPayload) DecodeMemory() (Series, error) {
	var s Series
	err := json.Unmarshal(m.Memory, &s)
	return s, err
}

// DecodeAlerts decodes the alert volume summary.
func (m MetricsPayload) DecodeAlerts() (AlertMetrics, error) {
	var a AlertMetrics
	err := json.Unmarshal(m.Alerts, &a)
	return a, err
}

// DashboardStats is the stats class payload.
type DashboardStats struct {
	Alerts struct {
		Total    int `json:"total" yaml:"total"`
		Firing   int `json:"firing" yaml:"firing"`
		Resolved int `json:"resolved" yaml:"resolved"`
	} `json:"alerts" yaml:"alerts"`
	Incidents struct {
		Total         int `json:"total" yaml:"total"`
		Investigating int `json:"investigating" yaml:"investigating"`
		Resolved      int `json:"resolved" yaml:"resolved"`
	} `json:"incidents" yaml:"incidents"`
	Autofix struct {
		TotalExecutions int     `json:"total_executions" yaml:"total_executions"`
		Success         int     `json:"success" yaml:"success"`
		Failed          int     `json:"failed" yaml:"failed"`
		SuccessRate     float64 `json:"success_rate" yaml:"success_rate"`
	} `json:"autofix" yaml:"autofix"`
	Availability map[string]float64 `json:"availability,omitempty" yaml:"availability,omitempty"`
}

// ActionResult is the backend reply to a console action.
type ActionResult struct {
	Success     *bool  `json:"success,omitempty" yaml:"success,omitempty"`
	Message     string `json:"message,omitempty" yaml:"message,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
	ExecutionID string `json:"execution_id,omitempty" yaml:"execution_id,omitempty"`
}

// Failed reports whether the backend explicitly rejected the action.
func (r ActionResult) Failed() bool {
	return r.Success != nil && !*r.Success
}

// Reason returns the most specific failure text available.
func (r ActionResult) Reason() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}
