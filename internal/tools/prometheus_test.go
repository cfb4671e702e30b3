package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sre_assistant/internal/cache"
	"sre_assistant/internal/config"
	"sre_assistant/internal/models"
	"sre_assistant/pkg/httpclient"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *httpclient.Client {
	t.Helper()
	client, err := httpclient.New(config.CircuitBreakerConfig{Enabled: false}, 5*time.Second)
	require.NoError(t, err)
	return client
}

func vectorResponse(value string) map[string]interface{} {
	return map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"resultType": "vector",
			"result": []interface{}{
				map[string]interface{}{
					"metric": map[string]interface{}{},
					"value":  []interface{}{1700000000, value},
				},
			},
		},
	}
}

func TestSaturationParsesVectorValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/query", r.URL.Path)
		require.NotEmpty(t, r.URL.Query().Get("query"))
		json.NewEncoder(w).Encode(vectorResponse("95.5"))
	}))
	defer srv.Close()

	tool := NewPrometheusTool(config.PrometheusConfig{BaseURL: srv.URL}, newTestClient(t), cache.Noop{}, time.Minute, nil)

	data, err := tool.Saturation(context.Background(), "checkout", "default")
	require.NoError(t, err)
	require.InDelta(t, 95.5, data["cpu_usage"], 0.001)
	require.InDelta(t, 95.5, data["memory_usage"], 0.001)
	require.InDelta(t, 95.5, data["pod_count"], 0.001)
}

func TestGoldenSignalsToleratesEmptyVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data":   map[string]interface{}{"resultType": "vector", "result": []interface{}{}},
		})
	}))
	defer srv.Close()

	tool := NewPrometheusTool(config.PrometheusConfig{BaseURL: srv.URL}, newTestClient(t), cache.Noop{}, time.Minute, nil)

	data, err := tool.GoldenSignals(context.Background(), "checkout", "default")
	require.NoError(t, err)

	// No samples means every signal reads zero, not an error.
	errSignal := data["errors"].(map[string]interface{})
	require.Equal(t, 0.0, errSignal["error_rate"])
}

func TestQueryClassifiesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tool := NewPrometheusTool(config.PrometheusConfig{BaseURL: srv.URL}, newTestClient(t), cache.Noop{}, time.Minute, nil)

	_, err := tool.Saturation(context.Background(), "checkout", "default")
	require.Error(t, err)

	var te *models.ToolError
	require.True(t, errors.As(err, &te))
	require.Equal(t, models.ErrCodeHTTPStatus, te.Code)
	require.Equal(t, http.StatusInternalServerError, te.HTTPStatus())
	require.True(t, te.Retryable())
}

func TestQueryClassifiesConnectionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing is listening anymore

	tool := NewPrometheusTool(config.PrometheusConfig{BaseURL: srv.URL}, newTestClient(t), cache.Noop{}, time.Minute, nil)

	_, err := tool.Saturation(context.Background(), "checkout", "default")
	require.Error(t, err)

	var te *models.ToolError
	require.True(t, errors.As(err, &te))
	require.Equal(t, models.ErrCodeConnection, te.Code)
	require.True(t, te.Retryable())
}

func TestQueryReportsFailedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "error", "error": "bad promql"})
	}))
	defer srv.Close()

	tool := NewPrometheusTool(config.PrometheusConfig{BaseURL: srv.URL}, newTestClient(t), cache.Noop{}, time.Minute, nil)

	_, err := tool.RangeQuery(context.Background(), "up", time.Now().Add(-time.Hour), time.Now(), time.Minute)
	require.Error(t, err)

	var te *models.ToolError
	require.True(t, errors.As(err, &te))
	require.Equal(t, models.ErrCodeValidation, te.Code)
	require.False(t, te.Retryable())
}

func TestErrorRateRangeQueriesFiveHundreds(t *testing.T) {
	var seenQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/query_range", r.URL.Path)
		seenQuery = r.URL.Query().Get("query")
		require.Equal(t, "1m0s", r.URL.Query().Get("step"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data":   map[string]interface{}{"resultType": "matrix", "result": []interface{}{}},
		})
	}))
	defer srv.Close()

	tool := NewPrometheusTool(config.PrometheusConfig{BaseURL: srv.URL}, newTestClient(t), cache.Noop{}, time.Minute, nil)

	end := time.Now().UTC()
	_, err := tool.ErrorRateRange(context.Background(), "checkout", end.Add(-5*time.Minute), end)
	require.NoError(t, err)
	require.Contains(t, seenQuery, `service="checkout"`)
	require.Contains(t, seenQuery, `status=~"5.."`)
}

func TestInstantQueryUsesCache(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode(vectorResponse("1"))
	}))
	defer srv.Close()

	tool := NewPrometheusTool(config.PrometheusConfig{BaseURL: srv.URL}, newTestClient(t), cache.NewMemoryCache(), time.Minute, nil)

	for i := 0; i < 3; i++ {
		_, err := tool.instantValue(context.Background(), `up{job="checkout"}`)
		require.NoError(t, err)
	}
	require.Equal(t, 1, hits)
}
