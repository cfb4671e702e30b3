package store

import (
	"context"
	"testing"
	"time"

	"sre_assistant/internal/models"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()

	record := &models.DiagnosticStatus{
		SessionID:   "sess-1",
		Status:      models.TaskStatusProcessing,
		Progress:    10,
		CurrentStep: "preparing",
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Create(ctx, record))

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, record.SessionID, got.SessionID)
	require.Equal(t, record.Progress, got.Progress)

	record.Status = models.TaskStatusCompleted
	record.Progress = 100
	require.NoError(t, s.Update(ctx, record))

	got, err = s.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusCompleted, got.Status)
	require.True(t, got.Terminal())
}

func TestMemoryStoreUnknownSession(t *testing.T) {
	s := NewMemoryTaskStore()

	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()

	record := &models.DiagnosticStatus{SessionID: "sess-1", Status: models.TaskStatusProcessing}
	require.NoError(t, s.Create(ctx, record))

	// Mutating the caller's copy must not leak into the stored record.
	record.Status = models.TaskStatusFailed

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusProcessing, got.Status)
}
