package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/agentstation/opsync/internal/utils/ptr"
	"github.com/agentstation/opsync/pkg/telemetry"
)

var titleCaser = cases.Title(language.English)

// Title returns the display title of a class, e.g. "Alerts".
func Title(class telemetry.EntityClass) string {
	return titleCaser.String(class.String())
}

// SnapshotView is the printable form of a snapshot. The payload is decoded
// so YAML output shows structure rather than bytes.
type SnapshotView struct {
	Class           string `json:"class" yaml:"class"`
	ReceivedVia     string `json:"received_via" yaml:"received_via"`
	SourceTimestamp string `json:"source_timestamp" yaml:"source_timestamp"`
	ReceivedAt      string `json:"received_at" yaml:"received_at"`
	Init            bool   `json:"init,omitempty" yaml:"init,omitempty"`
	Seq             uint64 `json:"seq,omitempty" yaml:"seq,omitempty"`
	Data            any    `json:"data" yaml:"data"`

	snapshot telemetry.Snapshot
}

// NewSnapshotView builds the printable form of s.
func NewSnapshotView(s telemetry.Snapshot) SnapshotView {
	var data any
	if err := json.Unmarshal(s.Payload, &data); err != nil {
		data = string(s.Payload)
	}
	return SnapshotView{
		Class:           s.Class.String(),
		ReceivedVia:     s.ReceivedVia.String(),
		SourceTimestamp: formatTime(s.SourceTimestamp.Time),
		ReceivedAt:      formatTime(s.ReceivedAt.Time),
		Init:            s.Init,
		Seq:             ptr.Value(s.Sequence),
		Data:            data,
		snapshot:        s,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// TableData implements Tabler with a per-class layout.
func (v SnapshotView) TableData() Data {
	d := snapshotTable(v.snapshot)
	d.Title = fmt.Sprintf("%s (via %s at %s)", Title(v.snapshot.Class), v.ReceivedVia, v.SourceTimestamp)
	return d
}

func snapshotTable(s telemetry.Snapshot) Data {
	switch s.Class {
	case telemetry.Alerts:
		var list telemetry.AlertList
		if s.Decode(&list) == nil {
			return alertsTable(list)
		}
	case telemetry.Incidents:
		var list telemetry.IncidentList
		if s.Decode(&list) == nil {
			return incidentsTable(list)
		}
	case telemetry.Runbooks:
		var list telemetry.RunbookList
		if s.Decode(&list) == nil {
			return runbooksTable(list)
		}
	case telemetry.Skills:
		var list telemetry.SkillList
		if s.Decode(&list) == nil {
			return skillsTable(list)
		}
	case telemetry.Metrics:
		var m telemetry.MetricsPayload
		if s.Decode(&m) == nil {
			return metricsTable(m)
		}
	}
	return flatTable(s.Payload)
}

func alertsTable(list telemetry.AlertList) Data {
	d := Data{Headers: []string{"ID", "Name", "Severity", "Status", "Service", "Since"}}
	for _, a := range list.Alerts {
		d.Rows = append(d.Rows, []string{a.ID, a.Name, a.Severity, a.Status, a.Service, a.StartsAt})
	}
	return d
}

func incidentsTable(list telemetry.IncidentList) Data {
	d := Data{Headers: []string{"ID", "Severity", "Status", "Summary", "Created"}}
	for _, i := range list.Incidents {
		d.Rows = append(d.Rows, []string{i.ID, i.Severity, i.Status, i.Summary, i.CreatedAt})
	}
	return d
}

func runbooksTable(list telemetry.RunbookList) Data {
	d := Data{Headers: []string{"ID", "Name", "Severity", "Runs", "Success Rate"}}
	for _, r := range list.Runbooks {
		d.Rows = append(d.Rows, []string{
			r.ID, r.Name, r.Severity,
			strconv.Itoa(r.ExecutionCount),
			strconv.FormatFloat(r.SuccessRate, 'f', -1, 64),
		})
	}
	return d
}

func skillsTable(list telemetry.SkillList) Data {
	d := Data{Headers: []string{"Name", "Version", "Enabled", "Description"}}
	for _, s := range list.Skills {
		d.Rows = append(d.Rows, []string{s.Name, s.Version, strconv.FormatBool(s.Enabled), s.Description})
	}
	return d
}

func metricsTable(m telemetry.MetricsPayload) Data {
	d := Data{Headers: []string{"Metric", "Current", "Unit"}}
	if cpu, err := m.DecodeCPU(); err == nil {
		d.Rows = append(d.Rows, []string{"cpu", strconv.FormatFloat(cpu.Current, 'f', -1, 64), cpu.Unit})
	}
	if mem, err := m.DecodeMemory(); err == nil {
		d.Rows = append(d.Rows, []string{"memory", strconv.FormatFloat(mem.Current, 'f', -1, 64), mem.Unit})
	}
	if alerts, err := m.DecodeAlerts(); err == nil && len(alerts.Last7Days) > 0 {
		d.Rows = append(d.Rows, []string{"alerts today", strconv.Itoa(alerts.Last7Days[len(alerts.Last7Days)-1]), ""})
	}
	return d
}

// flatTable lists the leaves of an arbitrary JSON object as dotted keys.
func flatTable(payload json.RawMessage) Data {
	var v any
	d := Data{Headers: []string{"Key", "Value"}}
	if err := json.Unmarshal(payload, &v); err != nil {
		d.Rows = append(d.Rows, []string{"raw", string(payload)})
		return d
	}

	leaves := make(map[string]string)
	flatten("", v, leaves)
	keys := make([]string, 0, len(leaves))
	for k := range leaves {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.Rows = append(d.Rows, []string{k, leaves[k]})
	}
	return d
}

func flatten(prefix string, v any, out map[string]string) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, child, out)
		}
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = fmt.Sprint(item)
		}
		out[prefix] = strings.Join(parts, ", ")
	default:
		out[prefix] = fmt.Sprint(val)
	}
}

// ConnectivityView is the printable form of a connection state.
type ConnectivityView struct {
	Connectivity string `json:"connectivity" yaml:"connectivity"`
	Phase        string `json:"phase" yaml:"phase"`
	Attempt      int    `json:"attempt" yaml:"attempt"`
	NextRetryAt  string `json:"next_retry_at,omitempty" yaml:"next_retry_at,omitempty"`
	LastError    string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// NewConnectivityView builds the printable form of s.
func NewConnectivityView(s telemetry.ConnectionState) ConnectivityView {
	return ConnectivityView{
		Connectivity: string(s.Connectivity()),
		Phase:        string(s.Phase),
		Attempt:      s.Attempt,
		NextRetryAt:  formatTime(s.NextRetryAt.Time),
		LastError:    s.LastError,
	}
}

// TableData implements Tabler.
func (v ConnectivityView) TableData() Data {
	d := Data{Headers: []string{"Connectivity", "Phase", "Attempt", "Next Retry", "Last Error"}}
	d.Rows = [][]string{{
		Connectivity(telemetry.Connectivity(v.Connectivity)),
		v.Phase,
		strconv.Itoa(v.Attempt),
		v.NextRetryAt,
		v.LastError,
	}}
	return d
}

// Connectivity renders the indicator, colored when the terminal allows it.
func Connectivity(c telemetry.Connectivity) string {
	if c == telemetry.Live {
		return color.GreenString(string(c))
	}
	return color.YellowString(string(c))
}
