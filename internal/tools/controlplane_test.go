package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"sre_assistant/internal/auth"
	"sre_assistant/internal/cache"
	"sre_assistant/internal/config"
	"sre_assistant/internal/models"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/require"
)

func platformFixture(t *testing.T) (*httptest.Server, *ControlPlaneTool) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		claims := jwt.MapClaims{"exp": float64(time.Now().Add(time.Hour).Unix())}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": token})
	})
	mux.HandleFunc("/v1/audit-logs", func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("Authorization"))
		require.Equal(t, "checkout", r.URL.Query().Get("service_name"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		items := []interface{}{
			map[string]interface{}{"id": "a" + strconv.Itoa(page*2 - 1)},
			map[string]interface{}{"id": "a" + strconv.Itoa(page*2)},
		}
		if page == 2 {
			items = items[:1]
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items":      items,
			"pagination": map[string]interface{}{"page": page, "total_pages": 2},
		})
	})
	mux.HandleFunc("/v1/incidents/inc-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "inc-1", "title": "checkout latency spike", "service_name": "checkout",
		})
	})
	mux.HandleFunc("/v1/incidents/inc-1/acknowledge", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "inc-1", "status": "acknowledged"})
	})
	mux.HandleFunc("/v1/alert-rules", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []interface{}{
				map[string]interface{}{"id": "rule-1", "name": "high error rate"},
			},
			"pagination": map[string]interface{}{"page": 1, "total_pages": 1},
		})
	})
	mux.HandleFunc("/v1/executions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "restart-pods", body["script_id"])
			json.NewEncoder(w).Encode(map[string]interface{}{"id": "exec-9", "status": "running"})
			return
		}
		require.Equal(t, "restart-pods", r.URL.Query().Get("script_id"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []interface{}{
				map[string]interface{}{"id": "exec-1", "status": "succeeded"},
			},
			"pagination": map[string]interface{}{"page": 1, "total_pages": 1},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tokens := auth.NewTokenManager(config.KeycloakConfig{TokenURL: srv.URL + "/token", ClientID: "sre", ClientSecret: "s"}, nil)
	tool := NewControlPlaneTool(config.ControlPlaneConfig{BaseURL: srv.URL, PageSize: 2}, newTestClient(t), tokens, cache.Noop{}, time.Minute, nil)
	return srv, tool
}

func TestAuditLogsWalksAllPages(t *testing.T) {
	_, tool := platformFixture(t)

	items, err := tool.AuditLogs(context.Background(), "checkout", 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "a1", items[0]["id"])
	require.Equal(t, "a3", items[2]["id"])
}

func TestIncidentLookup(t *testing.T) {
	_, tool := platformFixture(t)

	incident, err := tool.Incident(context.Background(), "inc-1")
	require.NoError(t, err)
	require.Equal(t, "checkout latency spike", incident["title"])
}

func TestAcknowledgeIncident(t *testing.T) {
	_, tool := platformFixture(t)

	resp, err := tool.AcknowledgeIncident(context.Background(), "inc-1")
	require.NoError(t, err)
	require.Equal(t, "acknowledged", resp["status"])
}

func TestAlertRulesList(t *testing.T) {
	_, tool := platformFixture(t)

	rules, err := tool.AlertRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "high error rate", rules[0]["name"])
}

func TestExecutionsList(t *testing.T) {
	_, tool := platformFixture(t)

	executions, err := tool.Executions(context.Background(), "restart-pods")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	require.Equal(t, "succeeded", executions[0]["status"])
}

func TestTriggerExecution(t *testing.T) {
	_, tool := platformFixture(t)

	resp, err := tool.TriggerExecution(context.Background(), "restart-pods", map[string]interface{}{"namespace": "prod"})
	require.NoError(t, err)
	require.Equal(t, "running", resp["status"])
}

// Repeated read queries within the TTL hit the platform once; mutations
// always go to the origin.
func TestReadQueriesGoThroughCache(t *testing.T) {
	var listCalls, ackCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "opaque", "expires_in": 3600})
	})
	mux.HandleFunc("/v1/incidents", func(w http.ResponseWriter, r *http.Request) {
		listCalls++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items":      []interface{}{map[string]interface{}{"id": "inc-1"}},
			"pagination": map[string]interface{}{"page": 1, "total_pages": 1},
		})
	})
	mux.HandleFunc("/v1/incidents/inc-1/acknowledge", func(w http.ResponseWriter, r *http.Request) {
		ackCalls++
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "inc-1", "status": "acknowledged"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := auth.NewTokenManager(config.KeycloakConfig{TokenURL: srv.URL + "/token", ClientID: "sre", ClientSecret: "s"}, nil)
	tool := NewControlPlaneTool(config.ControlPlaneConfig{BaseURL: srv.URL, PageSize: 10}, newTestClient(t), tokens, cache.NewMemoryCache(), time.Minute, nil)

	for i := 0; i < 3; i++ {
		incidents, err := tool.Incidents(context.Background(), "checkout", "open")
		require.NoError(t, err)
		require.Len(t, incidents, 1)
	}
	require.Equal(t, 1, listCalls)

	for i := 0; i < 2; i++ {
		_, err := tool.AcknowledgeIncident(context.Background(), "inc-1")
		require.NoError(t, err)
	}
	require.Equal(t, 2, ackCalls)
}

func TestTokenFailureIsAuthError(t *testing.T) {
	// The platform API is reachable but the token endpoint is not.
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audit-logs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"items": []interface{}{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := auth.NewTokenManager(config.KeycloakConfig{TokenURL: "http://127.0.0.1:1/token", ClientID: "sre", ClientSecret: "s", TimeoutSeconds: 1}, nil)
	tool := NewControlPlaneTool(config.ControlPlaneConfig{BaseURL: srv.URL, PageSize: 10}, newTestClient(t), tokens, cache.Noop{}, time.Minute, nil)

	_, err := tool.AuditLogs(context.Background(), "checkout", 10)
	require.Error(t, err)

	var te *models.ToolError
	require.True(t, errors.As(err, &te))
	require.Equal(t, models.ErrCodeAuth, te.Code)
	require.False(t, te.Retryable())
}

func TestDownstream401IsHTTPStatusError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "opaque", "expires_in": 3600})
	})
	mux.HandleFunc("/v1/incidents", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token rejected", http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := auth.NewTokenManager(config.KeycloakConfig{TokenURL: srv.URL + "/token", ClientID: "sre", ClientSecret: "s"}, nil)
	tool := NewControlPlaneTool(config.ControlPlaneConfig{BaseURL: srv.URL, PageSize: 10}, newTestClient(t), tokens, cache.Noop{}, time.Minute, nil)

	_, err := tool.Incidents(context.Background(), "checkout", "open")
	require.Error(t, err)

	var te *models.ToolError
	require.True(t, errors.As(err, &te))
	require.Equal(t, models.ErrCodeHTTPStatus, te.Code)
	require.Equal(t, http.StatusUnauthorized, te.HTTPStatus())
	require.False(t, te.Retryable())
}
