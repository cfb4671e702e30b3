package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"sre_assistant/internal/config"
	"sre_assistant/internal/models"
)

// Aggregator folds the per-tool result map into one DiagnosticResult. It is
// a pure function of its inputs apart from the clock, which is injectable so
// the same result map always yields the same output in tests.
type Aggregator struct {
	thresholds config.ThresholdConfig
	confidence config.ConfidenceConfig

	now func() time.Time
}

func NewAggregator(thresholds config.ThresholdConfig, confidence config.ConfidenceConfig) *Aggregator {
	return &Aggregator{
		thresholds: thresholds,
		confidence: confidence,
		now:        time.Now,
	}
}

// Aggregate turns the dispatcher's result map into findings, a summary and
// recommended actions. Failed tools contribute no findings and are excluded
// from tools_used; they can only make the diagnosis less complete, never
// fail it.
func (a *Aggregator) Aggregate(results map[string]models.ToolResult, elapsed time.Duration) *models.DiagnosticResult {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	ts := a.now().UTC()
	var findings []models.Finding
	usedSet := map[string]bool{}

	for _, name := range names {
		result := results[name]
		if !result.Success {
			continue
		}
		source := toolBase(name)
		usedSet[source] = true
		findings = append(findings, a.extractFindings(source, result.Data, ts)...)
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Source != findings[j].Source {
			return findings[i].Source < findings[j].Source
		}
		return findings[i].Message < findings[j].Message
	})

	used := make([]string, 0, len(usedSet))
	for name := range usedSet {
		used = append(used, name)
	}
	sort.Strings(used)

	score := a.confidence.Baseline
	if len(findings) > 0 {
		score = a.confidence.WithFindings
	}

	return &models.DiagnosticResult{
		Summary:            summarize(used, findings),
		Findings:           findings,
		RecommendedActions: recommend(findings),
		ConfidenceScore:    score,
		ToolsUsed:          used,
		ExecutionTime:      elapsed.Seconds(),
	}
}

// toolBase strips the per-target suffix from a task name, e.g.
// "prometheus#alert-42" -> "prometheus".
func toolBase(name string) string {
	if i := strings.IndexByte(name, '#'); i >= 0 {
		return name[:i]
	}
	return name
}

func (a *Aggregator) extractFindings(source string, data map[string]interface{}, ts time.Time) []models.Finding {
	var findings []models.Finding

	switch source {
	case "prometheus":
		findings = append(findings, a.metricFindings(data, ts)...)
	case "loki":
		findings = append(findings, logFindings(data, ts)...)
	case "control_plane_audit":
		if count := intValue(data["count"]); count > 0 {
			findings = append(findings, models.Finding{
				Source:    source,
				Severity:  models.SeverityWarning,
				Message:   fmt.Sprintf("%d recent configuration changes recorded for the service", count),
				Evidence:  map[string]interface{}{"change_count": count},
				Timestamp: ts,
			})
		}
	case "control_plane_incidents":
		if count := intValue(data["count"]); count > 0 {
			findings = append(findings, models.Finding{
				Source:    source,
				Severity:  models.SeverityWarning,
				Message:   fmt.Sprintf("%d open incidents involve the service", count),
				Evidence:  map[string]interface{}{"incident_count": count},
				Timestamp: ts,
			})
		}
	case "control_plane_incident":
		if incident, ok := data["incident"].(map[string]interface{}); ok {
			msg, _ := incident["title"].(string)
			if msg == "" {
				msg = "incident details retrieved"
			}
			findings = append(findings, models.Finding{
				Source:    source,
				Severity:  models.SeverityInfo,
				Message:   msg,
				Evidence:  incident,
				Timestamp: ts,
			})
		}
	}
	return findings
}

func (a *Aggregator) metricFindings(data map[string]interface{}, ts time.Time) []models.Finding {
	var findings []models.Finding

	// Saturation numbers either arrive nested under the golden signal set
	// or stand alone when only saturation was queried.
	saturation, _ := data["saturation"].(map[string]interface{})
	if saturation == nil {
		if _, ok := data["cpu_usage"]; ok {
			saturation = data
		}
	}
	if saturation != nil {
		if cpu, ok := floatValue(saturation["cpu_usage"]); ok && cpu > a.thresholds.CPUPercent {
			findings = append(findings, models.Finding{
				Source:    "prometheus",
				Severity:  models.SeverityCritical,
				Message:   fmt.Sprintf("CPU saturation at %.1f%% exceeds the %.0f%% threshold", cpu, a.thresholds.CPUPercent),
				Evidence:  map[string]interface{}{"cpu_usage": cpu, "threshold": a.thresholds.CPUPercent},
				Timestamp: ts,
			})
		}
		if mem, ok := floatValue(saturation["memory_usage"]); ok && mem > a.thresholds.MemoryPercent {
			findings = append(findings, models.Finding{
				Source:    "prometheus",
				Severity:  models.SeverityCritical,
				Message:   fmt.Sprintf("memory saturation at %.1f%% exceeds the %.0f%% threshold", mem, a.thresholds.MemoryPercent),
				Evidence:  map[string]interface{}{"memory_usage": mem, "threshold": a.thresholds.MemoryPercent},
				Timestamp: ts,
			})
		}
	}

	if errorSignal, ok := data["errors"].(map[string]interface{}); ok {
		if rate, ok := floatValue(errorSignal["error_rate"]); ok && rate > 5 {
			findings = append(findings, models.Finding{
				Source:    "prometheus",
				Severity:  models.SeverityWarning,
				Message:   fmt.Sprintf("HTTP 5xx rate at %.1f%% of traffic", rate),
				Evidence:  map[string]interface{}{"error_rate": rate},
				Timestamp: ts,
			})
		}
	}
	return findings
}

func logFindings(data map[string]interface{}, ts time.Time) []models.Finding {
	analysis, _ := data["analysis"].(map[string]interface{})
	if analysis == nil {
		return nil
	}

	var findings []models.Finding
	switch indicators := analysis["critical_indicators"].(type) {
	case []string:
		for _, ind := range indicators {
			findings = append(findings, models.Finding{
				Source:    "loki",
				Severity:  models.SeverityCritical,
				Message:   ind,
				Evidence:  map[string]interface{}{"total_logs": analysis["total_logs"]},
				Timestamp: ts,
			})
		}
	case []interface{}:
		for _, raw := range indicators {
			if ind, ok := raw.(string); ok {
				findings = append(findings, models.Finding{
					Source:    "loki",
					Severity:  models.SeverityCritical,
					Message:   ind,
					Evidence:  map[string]interface{}{"total_logs": analysis["total_logs"]},
					Timestamp: ts,
				})
			}
		}
	}
	return findings
}

func summarize(used []string, findings []models.Finding) string {
	if len(used) == 0 {
		return "Diagnosis inconclusive: no telemetry backends could be queried."
	}
	if len(findings) == 0 {
		return fmt.Sprintf("No anomalies detected across %d telemetry sources.", len(used))
	}

	critical := 0
	for _, f := range findings {
		if f.Severity == models.SeverityCritical {
			critical++
		}
	}
	if critical > 0 {
		return fmt.Sprintf("Detected %d findings (%d critical) across %d telemetry sources.", len(findings), critical, len(used))
	}
	return fmt.Sprintf("Detected %d findings across %d telemetry sources.", len(findings), len(used))
}

// recommend maps finding patterns onto operator actions. Output is sorted
// and deduplicated so identical result maps produce identical action lists.
func recommend(findings []models.Finding) []string {
	seen := map[string]bool{}
	add := func(action string) {
		seen[action] = true
	}

	for _, f := range findings {
		msg := strings.ToLower(f.Message)
		switch {
		case strings.Contains(msg, "cpu saturation"):
			add("Scale out the service or investigate CPU-heavy workloads.")
		case strings.Contains(msg, "memory saturation"), strings.Contains(msg, "oomkilled"):
			add("Raise the memory limit or investigate a memory leak.")
		case strings.Contains(msg, "panic"):
			add("Inspect recent releases for crash loops; roll back if a deploy correlates.")
		case strings.Contains(msg, "connection error"):
			add("Check network policies and the health of upstream dependencies.")
		case strings.Contains(msg, "error rate"), strings.Contains(msg, "5xx"):
			add("Inspect error logs for the dominant failure cluster.")
		case strings.Contains(msg, "configuration changes"):
			add("Review the recent configuration changes for correlation with the incident.")
		case strings.Contains(msg, "open incidents"):
			add("Coordinate with the owners of the open incidents before making changes.")
		}
	}

	if len(seen) == 0 && len(findings) > 0 {
		add("Review the collected findings and correlate with recent changes.")
	}

	actions := make([]string, 0, len(seen))
	for action := range seen {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}

func floatValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func intValue(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
