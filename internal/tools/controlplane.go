package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sre_assistant/internal/auth"
	"sre_assistant/internal/cache"
	"sre_assistant/internal/config"
	"sre_assistant/internal/models"
	"sre_assistant/pkg/httpclient"
	"sre_assistant/pkg/logger"
)

// ControlPlaneTool talks to the platform API: audit logs, incidents, alert
// rules, resources and automation executions. Every request carries a
// machine-to-machine bearer token from the TokenManager. Read queries go
// through the shared result cache; mutations never do.
type ControlPlaneTool struct {
	cfg      config.ControlPlaneConfig
	client   *httpclient.Client
	tokens   *auth.TokenManager
	cache    cache.QueryCache
	cacheTTL time.Duration
	log      *logger.Logger
}

func NewControlPlaneTool(cfg config.ControlPlaneConfig, client *httpclient.Client, tokens *auth.TokenManager, qc cache.QueryCache, cacheTTL time.Duration, log *logger.Logger) *ControlPlaneTool {
	return &ControlPlaneTool{cfg: cfg, client: client, tokens: tokens, cache: qc, cacheTTL: cacheTTL, log: log}
}

// AuditLogs returns the most recent audit entries for one service.
func (t *ControlPlaneTool) AuditLogs(ctx context.Context, serviceName string, limit int) ([]map[string]interface{}, error) {
	query := url.Values{}
	query.Set("service_name", serviceName)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	return t.listAll(ctx, "/v1/audit-logs", query)
}

// Incidents lists incidents, optionally filtered by service and status.
func (t *ControlPlaneTool) Incidents(ctx context.Context, serviceName, status string) ([]map[string]interface{}, error) {
	query := url.Values{}
	if serviceName != "" {
		query.Set("service_name", serviceName)
	}
	if status != "" {
		query.Set("status", status)
	}
	return t.listAll(ctx, "/v1/incidents", query)
}

// Incident fetches one incident by ID.
func (t *ControlPlaneTool) Incident(ctx context.Context, id string) (map[string]interface{}, error) {
	return t.get(ctx, "/v1/incidents/"+url.PathEscape(id), nil)
}

// AlertRules lists the configured alert rules.
func (t *ControlPlaneTool) AlertRules(ctx context.Context) ([]map[string]interface{}, error) {
	return t.listAll(ctx, "/v1/alert-rules", nil)
}

// Resources lists managed resources, optionally filtered by type.
func (t *ControlPlaneTool) Resources(ctx context.Context, resourceType string) ([]map[string]interface{}, error) {
	query := url.Values{}
	if resourceType != "" {
		query.Set("type", resourceType)
	}
	return t.listAll(ctx, "/v1/resources", query)
}

// Resource fetches one managed resource by ID.
func (t *ControlPlaneTool) Resource(ctx context.Context, id string) (map[string]interface{}, error) {
	return t.get(ctx, "/v1/resources/"+url.PathEscape(id), nil)
}

// Executions lists automation execution records.
func (t *ControlPlaneTool) Executions(ctx context.Context, scriptID string) ([]map[string]interface{}, error) {
	query := url.Values{}
	if scriptID != "" {
		query.Set("script_id", scriptID)
	}
	return t.listAll(ctx, "/v1/executions", query)
}

// AcknowledgeIncident marks an incident as acknowledged by this service
// account.
func (t *ControlPlaneTool) AcknowledgeIncident(ctx context.Context, id string) (map[string]interface{}, error) {
	return t.post(ctx, "/v1/incidents/"+url.PathEscape(id)+"/acknowledge", map[string]interface{}{})
}

// TriggerExecution starts an automation script run on the platform.
func (t *ControlPlaneTool) TriggerExecution(ctx context.Context, scriptID string, params map[string]interface{}) (map[string]interface{}, error) {
	body := map[string]interface{}{"script_id": scriptID}
	if len(params) > 0 {
		body["parameters"] = params
	}
	return t.post(ctx, "/v1/executions", body)
}

// listAll walks every page of a list endpoint. The platform wraps list
// responses as {items: [...], pagination: {page, total_pages}}.
func (t *ControlPlaneTool) listAll(ctx context.Context, path string, query url.Values) ([]map[string]interface{}, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("page_size", strconv.Itoa(t.cfg.PageSize))

	var items []map[string]interface{}
	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))
		body, err := t.get(ctx, path, query)
		if err != nil {
			return nil, err
		}

		rawItems, _ := body["items"].([]interface{})
		for _, ri := range rawItems {
			if item, ok := ri.(map[string]interface{}); ok {
				items = append(items, item)
			}
		}

		pagination, _ := body["pagination"].(map[string]interface{})
		totalPages := intField(pagination, "total_pages")
		if totalPages == 0 || page >= totalPages {
			return items, nil
		}
	}
}

// get runs one read query through the result cache. Failed round trips are
// never cached.
func (t *ControlPlaneTool) get(ctx context.Context, path string, query url.Values) (map[string]interface{}, error) {
	fullURL := t.cfg.BaseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	key := cache.Key("control_plane", map[string]string{"url": fullURL})

	raw, err := t.cache.GetOrCompute(ctx, key, t.cacheTTL, func() ([]byte, error) {
		body, err := t.roundTrip(ctx, http.MethodGet, fullURL, nil)
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
			Message: fmt.Sprintf("control plane response decode failed: %v", err),
		}
	}
	return body, nil
}

func (t *ControlPlaneTool) post(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	return t.roundTrip(ctx, http.MethodPost, t.cfg.BaseURL+path, body)
}

// roundTrip performs one authenticated call. A token acquisition failure
// stays an AUTH_ERROR so the caller can tell it apart from a downstream
// rejection; a 401 from the platform drops the cached token before being
// reported.
func (t *ControlPlaneTool) roundTrip(ctx context.Context, method, fullURL string, body interface{}) (map[string]interface{}, error) {
	token, err := t.tokens.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	resp, err := doJSON(ctx, t.client, "control plane", method, fullURL, header, body)
	if err != nil {
		var te *models.ToolError
		if errors.As(err, &te) && te.HTTPStatus() == http.StatusUnauthorized {
			t.tokens.Invalidate()
		}
		return nil, err
	}
	return resp, nil
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return 0
}
