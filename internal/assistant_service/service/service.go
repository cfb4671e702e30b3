package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sre_assistant/internal/assistant_service/publisher"
	"sre_assistant/internal/assistant_service/store"
	"sre_assistant/internal/models"
	"sre_assistant/pkg/logger"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// AssistantService is the submit/status facade in front of the workflow.
// Submission is fire-and-forget: the record is created first, then the task
// travels to a worker either through Kafka or, when the broker is disabled,
// through a direct goroutine.
type AssistantService struct {
	store        store.TaskStore
	publisher    *publisher.TaskPublisher // nil disables the broker path
	orchestrator *Orchestrator
	log          *logger.Logger

	now func() time.Time
}

func NewAssistantService(taskStore store.TaskStore, pub *publisher.TaskPublisher, orchestrator *Orchestrator, log *logger.Logger) *AssistantService {
	return &AssistantService{
		store:        taskStore,
		publisher:    pub,
		orchestrator: orchestrator,
		log:          log,
		now:          time.Now,
	}
}

// Submit validates the request, creates the task record and hands the task
// off for background execution. The returned session ID is immediately
// pollable regardless of how far the diagnosis has progressed.
func (s *AssistantService) Submit(ctx context.Context, req models.DiagnosticRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	applyRequestDefaults(&req)

	sessionID := uuid.New().String()
	record := &models.DiagnosticStatus{
		SessionID:   sessionID,
		Status:      models.TaskStatusProcessing,
		Progress:    0,
		CurrentStep: "queued",
		SubmittedAt: s.now().UTC(),
	}
	if err := s.store.Create(ctx, record); err != nil {
		return "", fmt.Errorf("create task record: %w", err)
	}

	envelope := models.TaskEnvelope{SessionID: sessionID, Request: req}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, envelope); err != nil {
			// The record exists but no worker will ever pick the task up;
			// close it out instead of leaving it processing forever.
			record.Status = models.TaskStatusFailed
			record.Error = "task could not be queued"
			record.CompletedAt = s.now().UTC()
			if updErr := s.store.Update(ctx, record); updErr != nil {
				s.log.WithError(models.ErrorInfo{Message: updErr.Error()}).Error("Failed to mark unqueued task as failed")
			}
			return "", fmt.Errorf("queue task: %w", err)
		}
		return sessionID, nil
	}

	go s.orchestrator.Execute(context.Background(), sessionID, req)
	return sessionID, nil
}

// GetStatus returns the task record for one session, or (nil, nil) when the
// session is unknown or already expired.
func (s *AssistantService) GetStatus(ctx context.Context, sessionID string) (*models.DiagnosticStatus, error) {
	return s.store.Get(ctx, sessionID)
}

// HandleTask is the Kafka consumer entry point.
func (s *AssistantService) HandleTask(msg kafka.Message) error {
	var envelope models.TaskEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return fmt.Errorf("decode task envelope: %w", err)
	}
	s.orchestrator.Execute(context.Background(), envelope.SessionID, envelope.Request)
	return nil
}

// applyRequestDefaults fills the documented defaults so workers never have
// to re-derive them.
func applyRequestDefaults(req *models.DiagnosticRequest) {
	switch req.Type {
	case models.DiagnosticDeployment:
		if req.Deployment.Namespace == "" {
			req.Deployment.Namespace = "default"
		}
	case models.DiagnosticAlerts:
		if req.Alerts.CorrelationWindow <= 0 {
			req.Alerts.CorrelationWindow = defaultCorrelationWindow
		}
	case models.DiagnosticCapacity:
		if req.Capacity.MetricType == "" {
			req.Capacity.MetricType = "cpu"
		}
	}
}
