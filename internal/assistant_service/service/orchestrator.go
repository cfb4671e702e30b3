package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sre_assistant/internal/assistant_service/store"
	"sre_assistant/internal/models"
	"sre_assistant/internal/tools"
	"sre_assistant/pkg/logger"
)

const defaultCorrelationWindow = 300 // seconds

// Orchestrator drives one diagnosis from a task envelope to a terminal task
// record: it selects the tool set for the request variant, fans the calls
// out through the dispatcher and writes the aggregated result back.
type Orchestrator struct {
	store      store.TaskStore
	dispatcher *Dispatcher
	aggregator *Aggregator
	metrics    *tools.PrometheusTool
	logs       *tools.LokiTool
	platform   *tools.ControlPlaneTool
	log        *logger.Logger

	now func() time.Time
}

func NewOrchestrator(taskStore store.TaskStore, dispatcher *Dispatcher, aggregator *Aggregator, metrics *tools.PrometheusTool, logs *tools.LokiTool, platform *tools.ControlPlaneTool, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:      taskStore,
		dispatcher: dispatcher,
		aggregator: aggregator,
		metrics:    metrics,
		logs:       logs,
		platform:   platform,
		log:        log,
		now:        time.Now,
	}
}

// Execute runs one diagnosis to completion. Any error or panic on the
// orchestration path itself marks the task failed; individual tool failures
// do not, they just leave gaps in the result.
func (o *Orchestrator) Execute(ctx context.Context, sessionID string, req models.DiagnosticRequest) {
	log := logger.New("sre-assistant", sessionID)

	record, err := o.store.Get(ctx, sessionID)
	if err != nil {
		log.WithError(models.ErrorInfo{Message: err.Error()}).Error("Cannot load task record, aborting diagnosis")
		return
	}
	if record == nil {
		log.Warn("Task record missing, aborting diagnosis")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithPayload(map[string]interface{}{"panic": fmt.Sprint(r)}).Error("Diagnosis workflow panicked")
			o.markFailed(ctx, record, fmt.Sprintf("internal error: %v", r))
		}
	}()

	start := o.now()
	o.progress(ctx, record, 10, "preparing")

	tasks, err := o.buildTasks(req)
	if err != nil {
		o.markFailed(ctx, record, err.Error())
		return
	}

	o.progress(ctx, record, 50, "dispatching tools")
	results := o.dispatcher.Dispatch(ctx, tasks)

	o.progress(ctx, record, 80, "aggregating")
	result := o.aggregator.Aggregate(results, o.now().Sub(start))

	record.Status = models.TaskStatusCompleted
	record.Progress = 100
	record.CurrentStep = "done"
	record.Result = result
	record.CompletedAt = o.now().UTC()
	if err := o.store.Update(ctx, record); err != nil {
		log.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to store the diagnosis result")
	}
}

// buildTasks assembles the tool set for one request variant. It never
// calls a backend itself: lookups that a task depends on happen inside the
// task's Run, where the retry runner and the diagnosis timeout cover them.
func (o *Orchestrator) buildTasks(req models.DiagnosticRequest) ([]ToolTask, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	switch req.Type {
	case models.DiagnosticDeployment:
		return o.deploymentTasks(req.Deployment), nil
	case models.DiagnosticAlerts:
		return o.alertTasks(req.Alerts), nil
	case models.DiagnosticCapacity:
		return o.capacityTasks(req.Capacity), nil
	case models.DiagnosticQuery:
		return o.freeTextTasks(req.Query), nil
	}
	return nil, fmt.Errorf("unsupported diagnostic type %q", req.Type)
}

func (o *Orchestrator) deploymentTasks(req *models.DeploymentDiagnosisRequest) []ToolTask {
	service := req.ServiceName
	namespace := req.Namespace
	if namespace == "" {
		namespace = "default"
	}

	return []ToolTask{
		{Name: "prometheus", Run: func(ctx context.Context) (map[string]interface{}, error) {
			return o.metrics.GoldenSignals(ctx, service, namespace)
		}},
		{Name: "loki", Run: func(ctx context.Context) (map[string]interface{}, error) {
			return o.logs.QueryLogs(ctx, tools.LogQuery{Service: service, Namespace: namespace, Level: "error"})
		}},
		{Name: "control_plane_audit", Run: func(ctx context.Context) (map[string]interface{}, error) {
			entries, err := o.platform.AuditLogs(ctx, service, 10)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"audit_logs": entries, "count": len(entries)}, nil
		}},
		{Name: "control_plane_incidents", Run: func(ctx context.Context) (map[string]interface{}, error) {
			incidents, err := o.platform.Incidents(ctx, service, "open")
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"incidents": incidents, "count": len(incidents)}, nil
		}},
	}
}

// alertTasks schedules three tasks per alert: the incident lookup itself
// plus windowed metric and log queries centered on the incident time. The
// windowed tasks re-resolve the incident inside their own Run so that each
// of the three is independently retried and timed out; the result cache
// keeps the repeated lookup off the platform API.
func (o *Orchestrator) alertTasks(req *models.AlertAnalysisRequest) []ToolTask {
	window := time.Duration(req.CorrelationWindow) * time.Second
	if window <= 0 {
		window = defaultCorrelationWindow * time.Second
	}

	var tasks []ToolTask
	for _, alertID := range req.AlertIDs {
		alertID := alertID
		tasks = append(tasks,
			ToolTask{Name: "control_plane_incident#" + alertID, Run: func(ctx context.Context) (map[string]interface{}, error) {
				incident, err := o.platform.Incident(ctx, alertID)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"incident": incident}, nil
			}},
			ToolTask{Name: "prometheus#" + alertID, Run: func(ctx context.Context) (map[string]interface{}, error) {
				incident, start, end, err := o.incidentWindow(ctx, alertID, window)
				if err != nil {
					return nil, err
				}
				service, _ := incident["service_name"].(string)
				return o.metrics.ErrorRateRange(ctx, service, start, end)
			}},
			ToolTask{Name: "loki#" + alertID, Run: func(ctx context.Context) (map[string]interface{}, error) {
				incident, start, end, err := o.incidentWindow(ctx, alertID, window)
				if err != nil {
					return nil, err
				}
				service, _ := incident["service_name"].(string)
				return o.logs.QueryLogs(ctx, tools.LogQuery{Service: service, Level: "error", Start: start, End: end})
			}},
		)
	}
	return tasks
}

// incidentWindow resolves one incident and derives the correlation window
// around its creation time. An incident without a usable timestamp is
// windowed around now.
func (o *Orchestrator) incidentWindow(ctx context.Context, alertID string, window time.Duration) (map[string]interface{}, time.Time, time.Time, error) {
	incident, err := o.platform.Incident(ctx, alertID)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}

	center := o.now().UTC()
	if created, ok := incident["created_at"].(string); ok {
		if ts, parseErr := time.Parse(time.RFC3339, created); parseErr == nil {
			center = ts
		}
	}
	return incident, center.Add(-window / 2), center.Add(window / 2), nil
}

// capacityTasks resolves each resource through the platform API inside the
// dispatched task, then queries its saturation metrics.
func (o *Orchestrator) capacityTasks(req *models.CapacityAnalysisRequest) []ToolTask {
	var tasks []ToolTask
	for _, resourceID := range req.ResourceIDs {
		resourceID := resourceID
		tasks = append(tasks, ToolTask{
			Name: "prometheus#" + resourceID,
			Run: func(ctx context.Context) (map[string]interface{}, error) {
				resource, err := o.platform.Resource(ctx, resourceID)
				if err != nil {
					return nil, err
				}

				service, _ := resource["service_name"].(string)
				if service == "" {
					service, _ = resource["name"].(string)
				}
				namespace, _ := resource["namespace"].(string)
				if namespace == "" {
					namespace = "default"
				}
				return o.metrics.Saturation(ctx, service, namespace)
			},
		})
	}
	return tasks
}

// freeTextTasks picks tools by keyword. An unmatched query yields no tasks,
// which the aggregator reports as an inconclusive diagnosis.
func (o *Orchestrator) freeTextTasks(req *models.FreeTextQueryRequest) []ToolTask {
	query := strings.ToLower(req.Query)
	service := req.Context["service"]
	namespace := req.Context["namespace"]
	if namespace == "" {
		namespace = "default"
	}

	var tasks []ToolTask
	if containsAny(query, "metric", "cpu", "memory", "latency", "traffic", "slow") {
		tasks = append(tasks, ToolTask{Name: "prometheus", Run: func(ctx context.Context) (map[string]interface{}, error) {
			return o.metrics.GoldenSignals(ctx, service, namespace)
		}})
	}
	if containsAny(query, "log", "error", "panic", "exception", "crash") {
		tasks = append(tasks, ToolTask{Name: "loki", Run: func(ctx context.Context) (map[string]interface{}, error) {
			return o.logs.QueryLogs(ctx, tools.LogQuery{Service: service, Namespace: namespace, Level: "error"})
		}})
	}
	if containsAny(query, "incident", "alert", "outage") {
		tasks = append(tasks, ToolTask{Name: "control_plane_incidents", Run: func(ctx context.Context) (map[string]interface{}, error) {
			incidents, err := o.platform.Incidents(ctx, service, "open")
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"incidents": incidents, "count": len(incidents)}, nil
		}})
	}
	if containsAny(query, "audit", "change", "deploy", "release", "config") {
		tasks = append(tasks, ToolTask{Name: "control_plane_audit", Run: func(ctx context.Context) (map[string]interface{}, error) {
			entries, err := o.platform.AuditLogs(ctx, service, 10)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"audit_logs": entries, "count": len(entries)}, nil
		}})
	}
	return tasks
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) progress(ctx context.Context, record *models.DiagnosticStatus, progress int, step string) {
	record.Status = models.TaskStatusProcessing
	record.Progress = progress
	record.CurrentStep = step
	if err := o.store.Update(ctx, record); err != nil && o.log != nil {
		o.log.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Failed to update task progress")
	}
}

func (o *Orchestrator) markFailed(ctx context.Context, record *models.DiagnosticStatus, message string) {
	record.Status = models.TaskStatusFailed
	record.Error = message
	record.CompletedAt = o.now().UTC()
	if err := o.store.Update(ctx, record); err != nil && o.log != nil {
		o.log.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to persist the failed task state")
	}
}
