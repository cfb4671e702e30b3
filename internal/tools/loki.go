package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"sre_assistant/internal/cache"
	"sre_assistant/internal/config"
	"sre_assistant/internal/models"
	"sre_assistant/pkg/httpclient"
	"sre_assistant/pkg/logger"
)

// LogQuery describes one Loki log search. Zero-value Start/End fall back to
// the configured default window ending now.
type LogQuery struct {
	Service   string
	Namespace string
	Level     string // error/warn/info/debug/all
	Pattern   string // extra line filter, regex
	Limit     int
	Start     time.Time
	End       time.Time
}

// LogLine is one parsed log line returned by a query.
type LogLine struct {
	Timestamp time.Time         `json:"timestamp"`
	Labels    map[string]string `json:"labels"`
	Message   string            `json:"message"`
	Level     string            `json:"level"`
	ErrorType string            `json:"error_type,omitempty"`
}

// LokiTool queries the log backend and distills the raw lines into level
// distributions, error clusters and critical indicators.
type LokiTool struct {
	cfg      config.LokiConfig
	client   *httpclient.Client
	cache    cache.QueryCache
	cacheTTL time.Duration
	log      *logger.Logger

	now func() time.Time
}

func NewLokiTool(cfg config.LokiConfig, client *httpclient.Client, qc cache.QueryCache, cacheTTL time.Duration, log *logger.Logger) *LokiTool {
	if qc == nil {
		qc = cache.Noop{}
	}
	return &LokiTool{
		cfg:      cfg,
		client:   client,
		cache:    qc,
		cacheTTL: cacheTTL,
		log:      log,
		now:      time.Now,
	}
}

// CheckHealth probes the Loki /ready endpoint.
func (t *LokiTool) CheckHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+"/ready", nil)
	if err != nil {
		return false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return false
	}
	return strings.TrimSpace(string(body)) == "ready"
}

// QueryLogs fetches matching log lines and returns them together with the
// derived analysis block.
func (t *LokiTool) QueryLogs(ctx context.Context, q LogQuery) (map[string]interface{}, error) {
	end := q.End
	if end.IsZero() {
		end = t.now()
	}
	start := q.Start
	if start.IsZero() {
		start = end.Add(-time.Duration(t.cfg.TimeRangeMinutes) * time.Minute)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = t.cfg.DefaultLimit
	}

	logQL := buildLogQL(q.Service, q.Namespace, q.Level, q.Pattern)

	params := url.Values{}
	params.Set("query", logQL)
	params.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(end.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("direction", "backward")

	lines, err := t.queryRange(ctx, params)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"logs":     lines,
		"analysis": AnalyzeLogs(lines),
		"query_params": map[string]interface{}{
			"query":     logQL,
			"service":   q.Service,
			"namespace": q.Namespace,
			"start":     start.UTC().Format(time.RFC3339),
			"end":       end.UTC().Format(time.RFC3339),
		},
	}, nil
}

func (t *LokiTool) queryRange(ctx context.Context, params url.Values) ([]LogLine, error) {
	fullURL := t.cfg.BaseURL + "/loki/api/v1/query_range?" + params.Encode()
	key := cache.Key("loki", map[string]string{"url": fullURL})

	raw, err := t.cache.GetOrCompute(ctx, key, t.cacheTTL, func() ([]byte, error) {
		body, err := getJSON(ctx, t.client, "loki", fullURL)
		if err != nil {
			return nil, err
		}
		return json.Marshal(body)
	})
	if err != nil {
		return nil, err
	}

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &models.ToolError{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("loki response decode failed: %v", err),
		}
	}

	if status, _ := body["status"].(string); status != "success" {
		msg, _ := body["error"].(string)
		if msg == "" {
			msg = "unknown loki query error"
		}
		return nil, &models.ToolError{
			Code:    models.ErrCodeValidation,
			Message: "loki query failed: " + msg,
		}
	}

	data, _ := body["data"].(map[string]interface{})
	streams, _ := data["result"].([]interface{})
	return parseStreams(streams), nil
}

func buildLogQL(service, namespace, level, pattern string) string {
	var selectors []string
	if service != "" {
		selectors = append(selectors, fmt.Sprintf(`app="%s"`, service))
	}
	if namespace != "" {
		selectors = append(selectors, fmt.Sprintf(`namespace="%s"`, namespace))
	}
	if len(selectors) == 0 {
		selectors = append(selectors, `job=~".+"`)
	}
	query := "{" + strings.Join(selectors, ",") + "}"

	levelPatterns := map[string]string{
		"error": `(?i)(error|err|fatal|panic|critical)`,
		"warn":  `(?i)(warn|warning)`,
		"info":  `(?i)(info|information)`,
		"debug": `(?i)(debug|trace)`,
	}
	if p, ok := levelPatterns[strings.ToLower(level)]; ok {
		query += fmt.Sprintf(` |~ "%s"`, p)
	}
	if pattern != "" {
		query += fmt.Sprintf(` |~ "%s"`, pattern)
	}
	return query
}

// parseStreams flattens Loki stream results into log lines, newest first.
func parseStreams(streams []interface{}) []LogLine {
	var lines []LogLine
	for _, s := range streams {
		stream, _ := s.(map[string]interface{})
		labels := map[string]string{}
		if rawLabels, ok := stream["stream"].(map[string]interface{}); ok {
			for k, v := range rawLabels {
				if str, ok := v.(string); ok {
					labels[k] = str
				}
			}
		}
		values, _ := stream["values"].([]interface{})
		for _, v := range values {
			pair, _ := v.([]interface{})
			if len(pair) < 2 {
				continue
			}
			tsStr, _ := pair[0].(string)
			msg, _ := pair[1].(string)
			ns, err := strconv.ParseInt(tsStr, 10, 64)
			if err != nil {
				continue
			}
			lines = append(lines, LogLine{
				Timestamp: time.Unix(0, ns).UTC(),
				Labels:    labels,
				Message:   msg,
				Level:     extractLevel(msg),
				ErrorType: extractErrorType(msg),
			})
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Timestamp.After(lines[j].Timestamp) })
	return lines
}

func extractLevel(line string) string {
	lower := strings.ToLower(line)

	// A structured line states its level explicitly.
	var structured struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal([]byte(line), &structured); err == nil && structured.Level != "" {
		return strings.ToUpper(structured.Level)
	}

	for _, w := range []string{"error", "fatal", "panic", "critical"} {
		if strings.Contains(lower, w) {
			return "ERROR"
		}
	}
	if strings.Contains(lower, "warn") {
		return "WARN"
	}
	if strings.Contains(lower, "info") {
		return "INFO"
	}
	if strings.Contains(lower, "debug") || strings.Contains(lower, "trace") {
		return "DEBUG"
	}
	return "UNKNOWN"
}

// knownErrorTypes maps substring markers to a normalized error type.
var knownErrorTypes = []struct {
	marker    string
	errorType string
}{
	{"OOMKilled", "out_of_memory"},
	{"OutOfMemoryError", "out_of_memory"},
	{"Connection refused", "connection_refused"},
	{"Connection timeout", "connection_timeout"},
	{"connection reset", "connection_reset"},
	{"NullPointerException", "null_pointer"},
	{"StackOverflowError", "stack_overflow"},
	{"DeadlockDetected", "deadlock"},
	{"Circuit breaker", "circuit_breaker"},
	{"Rate limit", "rate_limited"},
	{"502", "bad_gateway"},
	{"503", "service_unavailable"},
	{"504", "gateway_timeout"},
	{"500", "internal_server_error"},
}

func extractErrorType(line string) string {
	for _, k := range knownErrorTypes {
		if strings.Contains(line, k.marker) {
			return k.errorType
		}
	}
	return ""
}

var (
	exceptionRe = regexp.MustCompile(`\b\w*Exception\b`)
	statusRe    = regexp.MustCompile(`\b[4-5]\d{2}\b`)
)

// ErrorCluster is one recurring error pattern and how often it appeared.
type ErrorCluster struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// AnalyzeLogs summarizes a batch of log lines: level distribution, error
// type counts, the top recurring error clusters and critical indicators.
func AnalyzeLogs(lines []LogLine) map[string]interface{} {
	levelCounts := map[string]int{}
	errorTypes := map[string]int{}
	var errorMessages []string

	for _, l := range lines {
		levelCounts[l.Level]++
		if l.ErrorType != "" {
			errorTypes[l.ErrorType]++
		}
		if l.Level == "ERROR" {
			errorMessages = append(errorMessages, l.Message)
		}
	}

	clusters := clusterErrors(errorMessages)
	top := make([]ErrorCluster, 0, len(clusters))
	for pattern, count := range clusters {
		top = append(top, ErrorCluster{Pattern: pattern, Count: count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Pattern < top[j].Pattern
	})
	if len(top) > 5 {
		top = top[:5]
	}

	return map[string]interface{}{
		"total_logs":          len(lines),
		"level_distribution":  levelCounts,
		"error_types":         errorTypes,
		"top_errors":          top,
		"critical_indicators": CriticalIndicators(lines),
	}
}

// clusterErrors groups error messages by their dominant exception name and
// embedded HTTP status codes, falling back to a message prefix.
func clusterErrors(messages []string) map[string]int {
	clusters := map[string]int{}
	for _, msg := range messages {
		var keyParts []string
		if exceptions := exceptionRe.FindAllString(msg, -1); len(exceptions) > 0 {
			longest := exceptions[0]
			for _, e := range exceptions[1:] {
				if len(e) > len(longest) {
					longest = e
				}
			}
			keyParts = append(keyParts, longest)
		}
		keyParts = append(keyParts, statusRe.FindAllString(msg, -1)...)
		if len(keyParts) == 0 {
			firstLine := msg
			if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
				firstLine = firstLine[:i]
			}
			if len(firstLine) > 50 {
				firstLine = firstLine[:50]
			}
			keyParts = append(keyParts, firstLine)
		}
		sort.Strings(keyParts)
		clusters[strings.Join(dedupe(keyParts), " | ")]++
	}
	return clusters
}

func dedupe(parts []string) []string {
	seen := map[string]bool{}
	out := parts[:0]
	for _, p := range parts {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// CriticalIndicators surfaces the failure signatures that almost always
// explain an outage on their own.
func CriticalIndicators(lines []LogLine) []string {
	var indicators []string

	oom, panics, connErrors, errorLogs := 0, 0, 0, 0
	for _, l := range lines {
		if strings.Contains(l.Message, "OOMKilled") {
			oom++
		}
		if strings.Contains(strings.ToLower(l.Message), "panic") {
			panics++
		}
		for _, p := range []string{"Connection refused", "Connection timeout", "connection reset"} {
			if strings.Contains(l.Message, p) {
				connErrors++
				break
			}
		}
		if l.Level == "ERROR" {
			errorLogs++
		}
	}

	if oom > 0 {
		indicators = append(indicators, fmt.Sprintf("found %d OOMKilled events", oom))
	}
	if panics > 0 {
		indicators = append(indicators, fmt.Sprintf("found %d panic entries", panics))
	}
	if connErrors > 5 {
		indicators = append(indicators, fmt.Sprintf("found %d connection errors, possible network issue", connErrors))
	}
	if len(lines) > 0 {
		rate := float64(errorLogs) / float64(len(lines)) * 100
		if rate > 50 {
			indicators = append(indicators, fmt.Sprintf("high error rate: %.1f%% of sampled lines", rate))
		}
	}
	return indicators
}
