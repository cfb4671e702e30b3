package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sre_assistant/internal/models"
	"sre_assistant/pkg/logger"
	"sre_assistant/pkg/retry"
)

// ToolTask is one named tool invocation scheduled by the orchestrator.
type ToolTask struct {
	Name string
	Run  func(ctx context.Context) (map[string]interface{}, error)
}

// Dispatcher fans tool tasks out to goroutines and joins their results.
// Each task runs under the retry runner with its own timeout; a panicking
// or failing tool only affects its own slot in the result map.
type Dispatcher struct {
	runner  *retry.Runner
	timeout time.Duration
	log     *logger.Logger
}

func NewDispatcher(runner *retry.Runner, timeout time.Duration, log *logger.Logger) *Dispatcher {
	return &Dispatcher{runner: runner, timeout: timeout, log: log}
}

// Dispatch runs all tasks concurrently and blocks until every one has
// finished. The returned map holds exactly one entry per task.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []ToolTask) map[string]models.ToolResult {
	results := make(map[string]models.ToolResult, len(tasks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, task := range tasks {
		wg.Add(1)
		go func(task ToolTask) {
			defer wg.Done()
			result := d.runOne(ctx, task)
			mu.Lock()
			results[task.Name] = result
			mu.Unlock()
		}(task)
	}

	wg.Wait()
	return results
}

func (d *Dispatcher) runOne(ctx context.Context, task ToolTask) (result models.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			if d.log != nil {
				d.log.WithPayload(map[string]interface{}{"tool": task.Name, "panic": fmt.Sprint(r)}).Error("Tool panicked during diagnosis")
			}
			result = models.Fail(&models.ToolError{
				Code:    models.ErrCodeUnexpected,
				Message: fmt.Sprintf("tool %s panicked: %v", task.Name, r),
			})
		}
	}()

	taskCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var data map[string]interface{}
	err := d.runner.Run(taskCtx, task.Name, func(ctx context.Context) error {
		var opErr error
		data, opErr = task.Run(ctx)
		return opErr
	})
	if err != nil {
		// The overall deadline can fire between attempts, in which case the
		// bare context error surfaces instead of a classified one.
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Fail(&models.ToolError{
				Code:    models.ErrCodeTimeout,
				Message: fmt.Sprintf("tool %s exceeded the diagnosis timeout", task.Name),
			})
		}
		return models.Fail(err)
	}
	return models.OK(data)
}
