package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"sre_assistant/internal/cache"
	"sre_assistant/internal/config"
	"sre_assistant/internal/models"
	"sre_assistant/pkg/httpclient"
	"sre_assistant/pkg/logger"
)

// PrometheusTool queries the metrics backend for the four golden signals of
// a service: latency, traffic, errors and saturation.
type PrometheusTool struct {
	cfg      config.PrometheusConfig
	client   *httpclient.Client
	cache    cache.QueryCache
	cacheTTL time.Duration
	log      *logger.Logger
}

func NewPrometheusTool(cfg config.PrometheusConfig, client *httpclient.Client, qc cache.QueryCache, cacheTTL time.Duration, log *logger.Logger) *PrometheusTool {
	if qc == nil {
		qc = cache.Noop{}
	}
	return &PrometheusTool{
		cfg:      cfg,
		client:   client,
		cache:    qc,
		cacheTTL: cacheTTL,
		log:      log,
	}
}

// GoldenSignals queries latency, traffic, errors and saturation for one
// service. Individual signal failures are tolerated: a partially reachable
// Prometheus still yields the signals it could answer. Only a fully failed
// query set is reported as an error.
func (t *PrometheusTool) GoldenSignals(ctx context.Context, service, namespace string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	var lastErr error

	if latency, err := t.latency(ctx, service, namespace); err == nil {
		out["latency"] = latency
	} else {
		lastErr = err
	}
	if traffic, err := t.traffic(ctx, service, namespace); err == nil {
		out["traffic"] = traffic
	} else {
		lastErr = err
	}
	if errRates, err := t.errorRates(ctx, service, namespace); err == nil {
		out["errors"] = errRates
	} else {
		lastErr = err
	}
	if saturation, err := t.Saturation(ctx, service, namespace); err == nil {
		out["saturation"] = saturation
	} else {
		lastErr = err
	}

	if len(out) == 0 {
		return nil, lastErr
	}
	return out, nil
}

// Saturation returns cpu/memory/disk usage percentages and the pod count
// for one service.
func (t *PrometheusTool) Saturation(ctx context.Context, service, namespace string) (map[string]interface{}, error) {
	queries := map[string]string{
		"cpu_usage":    fmt.Sprintf(`avg(rate(container_cpu_usage_seconds_total{pod=~"%s.*", namespace="%s"}[5m])) * 100`, service, namespace),
		"memory_usage": fmt.Sprintf(`avg(container_memory_usage_bytes{pod=~"%s.*", namespace="%s"}) / avg(container_spec_memory_limit_bytes{pod=~"%s.*", namespace="%s"}) * 100`, service, namespace, service, namespace),
		"disk_usage":   fmt.Sprintf(`avg(container_fs_usage_bytes{pod=~"%s.*", namespace="%s"}) / avg(container_fs_limit_bytes{pod=~"%s.*", namespace="%s"}) * 100`, service, namespace, service, namespace),
	}

	out := map[string]interface{}{}
	var lastErr error
	for name, q := range queries {
		value, err := t.instantValue(ctx, q)
		if err != nil {
			lastErr = err
			continue
		}
		out[name] = value
	}

	if pods, err := t.instantValue(ctx, fmt.Sprintf(`count(up{job="%s", namespace="%s"})`, service, namespace)); err == nil {
		out["pod_count"] = pods
	}

	if len(out) == 0 {
		return nil, lastErr
	}
	return out, nil
}

// ErrorRateRange returns the 5xx request rate of one service over a time
// window, sampled per minute. Alert analysis centers the window on the
// incident time.
func (t *PrometheusTool) ErrorRateRange(ctx context.Context, service string, start, end time.Time) (map[string]interface{}, error) {
	promQL := fmt.Sprintf(`sum(rate(http_requests_total{service="%s", status=~"5.."}[1m]))`, service)
	return t.RangeQuery(ctx, promQL, start, end, time.Minute)
}

// RangeQuery runs an arbitrary PromQL range query over [start, end].
func (t *PrometheusTool) RangeQuery(ctx context.Context, promQL string, start, end time.Time, step time.Duration) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("query", promQL)
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	params.Set("step", step.String())

	data, err := t.queryCached(ctx, "/api/v1/query_range", params)
	if err != nil {
		return nil, err
	}
	result, _ := data["result"].([]interface{})
	return map[string]interface{}{
		"result_type": data["resultType"],
		"result":      result,
	}, nil
}

func (t *PrometheusTool) latency(ctx context.Context, service, namespace string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	var lastErr error
	for _, p := range []struct {
		name     string
		quantile string
	}{{"p50", "0.50"}, {"p95", "0.95"}, {"p99", "0.99"}} {
		q := fmt.Sprintf(`histogram_quantile(%s, rate(http_request_duration_seconds_bucket{service="%s", namespace="%s"}[5m]))`, p.quantile, service, namespace)
		seconds, err := t.instantValue(ctx, q)
		if err != nil {
			lastErr = err
			continue
		}
		out[p.name+"_ms"] = seconds * 1000
	}
	if len(out) == 0 {
		return nil, lastErr
	}
	return out, nil
}

func (t *PrometheusTool) traffic(ctx context.Context, service, namespace string) (map[string]interface{}, error) {
	q := fmt.Sprintf(`sum(rate(http_requests_total{service="%s", namespace="%s"}[5m]))`, service, namespace)
	rps, err := t.instantValue(ctx, q)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"requests_per_second": rps}, nil
}

func (t *PrometheusTool) errorRates(ctx context.Context, service, namespace string) (map[string]interface{}, error) {
	errQ := fmt.Sprintf(`sum(rate(http_requests_total{service="%s", namespace="%s", status=~"5.."}[5m]))`, service, namespace)
	totalQ := fmt.Sprintf(`sum(rate(http_requests_total{service="%s", namespace="%s"}[5m]))`, service, namespace)

	errRPS, err := t.instantValue(ctx, errQ)
	if err != nil {
		return nil, err
	}
	totalRPS, err := t.instantValue(ctx, totalQ)
	if err != nil {
		return nil, err
	}

	rate := 0.0
	if totalRPS > 0 {
		rate = errRPS / totalRPS * 100
	}
	return map[string]interface{}{
		"error_rate": rate,
		"error_rps":  errRPS,
		"total_rps":  totalRPS,
	}, nil
}

// instantValue runs an instant query and returns the first sample value.
// An empty result vector yields 0, not an error: a service with no samples
// simply has nothing to report for that signal.
func (t *PrometheusTool) instantValue(ctx context.Context, promQL string) (float64, error) {
	params := url.Values{}
	params.Set("query", promQL)

	data, err := t.queryCached(ctx, "/api/v1/query", params)
	if err != nil {
		return 0, err
	}

	result, _ := data["result"].([]interface{})
	if len(result) == 0 {
		return 0, nil
	}
	sample, _ := result[0].(map[string]interface{})
	pair, _ := sample["value"].([]interface{})
	if len(pair) < 2 {
		return 0, &models.ToolError{
			Code:    models.ErrCodeValidation,
			Message: "prometheus sample is missing its value",
		}
	}
	str, _ := pair[1].(string)
	value, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, &models.ToolError{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("prometheus sample value %q is not numeric", str),
		}
	}
	return value, nil
}

// queryCached runs one query API call through the result cache and returns
// the decoded "data" object of a successful response.
func (t *PrometheusTool) queryCached(ctx context.Context, path string, params url.Values) (map[string]interface{}, error) {
	fullURL := t.cfg.BaseURL + path + "?" + params.Encode()
	key := cache.Key("prometheus", map[string]string{"url": fullURL})

	raw, err := t.cache.GetOrCompute(ctx, key, t.cacheTTL, func() ([]byte, error) {
		body, err := getJSON(ctx, t.client, "prometheus", fullURL)
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
			Message: fmt.Sprintf("prometheus response decode failed: %v", err),
		}
	}

	if status, _ := body["status"].(string); status != "success" {
		msg, _ := body["error"].(string)
		if msg == "" {
			msg = "unknown query error"
		}
		return nil, &models.ToolError{
			Code:    models.ErrCodeValidation,
			Message: "prometheus query failed: " + msg,
		}
	}

	data, ok := body["data"].(map[string]interface{})
	if !ok {
		return nil, &models.ToolError{
			Code:    models.ErrCodeValidation,
			Message: "prometheus response is missing the data object",
		}
	}
	return data, nil
}
