package api

import (
	"context"
	"net/http"

	"sre_assistant/internal/assistant_service/service"
	"sre_assistant/internal/models"
	"sre_assistant/pkg/logger"

	"github.com/gin-gonic/gin"
)

// HealthCheck probes one dependency; a nil error means healthy.
type HealthCheck func(ctx context.Context) error

// API provides the HTTP handlers of the diagnostics front door.
type API struct {
	service *service.AssistantService
	logger  *logger.Logger
	checks  map[string]HealthCheck
}

// NewAPI creates a new API handler. checks maps dependency names to their
// health probes for /healthz.
func NewAPI(svc *service.AssistantService, logger *logger.Logger, checks map[string]HealthCheck) *API {
	return &API{
		service: svc,
		logger:  logger,
		checks:  checks,
	}
}

// DiagnoseDeploymentHandler accepts a deployment diagnosis request.
func (a *API) DiagnoseDeploymentHandler(c *gin.Context) {
	var payload models.DeploymentDiagnosisRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Invalid deployment diagnosis payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	a.submit(c, models.DiagnosticRequest{Type: models.DiagnosticDeployment, Deployment: &payload})
}

// AnalyzeAlertsHandler accepts an alert analysis request.
func (a *API) AnalyzeAlertsHandler(c *gin.Context) {
	var payload models.AlertAnalysisRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Invalid alert analysis payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	a.submit(c, models.DiagnosticRequest{Type: models.DiagnosticAlerts, Alerts: &payload})
}

// AnalyzeCapacityHandler accepts a capacity analysis request.
func (a *API) AnalyzeCapacityHandler(c *gin.Context) {
	var payload models.CapacityAnalysisRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Invalid capacity analysis payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	a.submit(c, models.DiagnosticRequest{Type: models.DiagnosticCapacity, Capacity: &payload})
}

// ExecuteHandler accepts a free-text diagnostic query.
func (a *API) ExecuteHandler(c *gin.Context) {
	var payload models.FreeTextQueryRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Invalid free-text query payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	a.submit(c, models.DiagnosticRequest{Type: models.DiagnosticQuery, Query: &payload})
}

func (a *API) submit(c *gin.Context, req models.DiagnosticRequest) {
	sessionID, err := a.service.Submit(c.Request.Context(), req)
	if err != nil {
		// The service layer already logged the detailed error
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit diagnosis"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "status": "accepted"})
}

// GetStatusHandler returns the task record for one diagnosis session.
func (a *API) GetStatusHandler(c *gin.Context) {
	sessionID := c.Param("session_id")

	status, err := a.service.GetStatus(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve diagnosis status"})
		return
	}
	if status == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// HealthzHandler reports the health of every registered dependency. The
// endpoint answers 200 as long as the process is up; individual dependency
// states are carried in the body.
func (a *API) HealthzHandler(c *gin.Context) {
	deps := gin.H{}
	healthy := true
	for name, check := range a.checks {
		if err := check(c.Request.Context()); err != nil {
			deps[name] = err.Error()
			healthy = false
		} else {
			deps[name] = "ok"
		}
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "dependencies": deps})
}

// ReadyzHandler reports readiness: all dependencies must answer.
func (a *API) ReadyzHandler(c *gin.Context) {
	for name, check := range a.checks {
		if err := check(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "dependency": name})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
