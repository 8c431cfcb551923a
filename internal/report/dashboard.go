package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/msageha/orchestra/internal/metrics"
)

// DashboardFile is written under the runtime directory.
const DashboardFile = "dashboard.md"

type dashboardAgent struct {
	Name  string
	Trend metrics.Trend
}

type dashboardData struct {
	Report
	Agents []dashboardAgent
}

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"f2": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"trend": func(t metrics.Trend) string {
		if t.Improving {
			return "improving"
		}
		return "declining"
	},
}).Parse(`# Orchestra Dashboard: {{ .Project }}

> Auto-generated at {{ .Timestamp.Format "2006-01-02 15:04:05 MST" }}. Do not edit manually.

## Agent Performance (last 7 days)

| Agent | Samples | Avg Response | Completion | Quality | Trend |
|-------|---------|--------------|------------|---------|-------|
{{ range .Agents -}}
{{ if .Trend.NoData -}}
| {{ .Name }} | 0 | - | - | - | no data |
{{ else -}}
| {{ .Name }} | {{ .Trend.DataPoints }} | {{ f2 .Trend.AvgResponseTime }} | {{ f2 .Trend.AvgCompletionRate }} | {{ f2 .Trend.AvgQualityScore }} | {{ trend .Trend }} |
{{ end -}}
{{ else -}}
| (none) | - | - | - | - | - |
{{ end }}
## Quality Gates: {{ if .QualityStatus.Passed }}PASSED{{ else }}FAILED{{ end }}

| Rule | Status | Actual | Comparison | Threshold | Severity |
|------|--------|--------|------------|-----------|----------|
{{ range .QualityStatus.Outcomes -}}
| {{ .RuleName }} | {{ .Status }} | {{ f2 .Actual }} | {{ .Comparison }} | {{ f2 .Threshold }} | {{ .Severity }} |
{{ else -}}
| (no rules) | - | - | - | - | - |
{{ end }}
## Recommendations

{{ range .Recommendations -}}
- {{ . }}
{{ end }}
## Alerts

{{ range .Alerts -}}
- **{{ .Agent }}** ({{ .State }}): {{ .Message }}
{{ else -}}
None
{{ end -}}
`))

// RenderMarkdown writes r as the dashboard markdown.
func RenderMarkdown(w io.Writer, r Report) error {
	data := dashboardData{Report: r}
	for name, t := range r.AgentPerformance {
		data.Agents = append(data.Agents, dashboardAgent{Name: name, Trend: t})
	}
	sort.Slice(data.Agents, func(i, j int) bool { return data.Agents[i].Name < data.Agents[j].Name })

	if err := dashboardTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render dashboard: %w", err)
	}
	return nil
}

// WriteDashboard renders r to dir/dashboard.md via temp file and rename.
func WriteDashboard(dir string, r Report) error {
	var b strings.Builder
	if err := RenderMarkdown(&b, r); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dashboard dir: %w", err)
	}
	return atomicWriteText(filepath.Join(dir, DashboardFile), b.String())
}

func atomicWriteText(path string, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".orchestra-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpName)
	}()

	if _, err := tmp.WriteString(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}
