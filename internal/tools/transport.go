package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"sre_assistant/internal/models"
	"sre_assistant/pkg/circuitbreaker"
	"sre_assistant/pkg/httpclient"
)

// maxBodySnippet bounds how much of a downstream error body is carried in
// error details. Full bodies end up in task records, so keep them short.
const maxBodySnippet = 500

// classify maps a transport-level error onto the tool error taxonomy.
// Already-classified errors pass through unchanged.
func classify(err error, backend string) *models.ToolError {
	var te *models.ToolError
	if errors.As(err, &te) {
		return te
	}

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return &models.ToolError{
			Code:    models.ErrCodeConnection,
			Message: fmt.Sprintf("%s circuit breaker is open", backend),
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &models.ToolError{
			Code:    models.ErrCodeTimeout,
			Message: fmt.Sprintf("%s request timed out", backend),
			Details: map[string]interface{}{"cause": err.Error()},
		}
	}

	return &models.ToolError{
		Code:    models.ErrCodeConnection,
		Message: fmt.Sprintf("failed to reach %s: %v", backend, err),
	}
}

// doJSON performs one HTTP round trip and decodes a JSON object response.
// Every failure mode comes back as a classified *models.ToolError.
func doJSON(ctx context.Context, client *httpclient.Client, backend, method, url string, header http.Header, body interface{}) (map[string]interface{}, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &models.ToolError{
				Code:    models.ErrCodeValidation,
				Message: fmt.Sprintf("encode %s request body: %v", backend, err),
			}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &models.ToolError{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("build %s request: %v", backend, err),
		}
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classify(err, backend)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err, backend)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(raw)
		if len(snippet) > maxBodySnippet {
			snippet = snippet[:maxBodySnippet]
		}
		return nil, &models.ToolError{
			Code:    models.ErrCodeHTTPStatus,
			Message: fmt.Sprintf("%s returned HTTP %d", backend, resp.StatusCode),
			Details: map[string]interface{}{
				"status_code":   resp.StatusCode,
				"response_body": snippet,
				"request_url":   url,
			},
		}
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &models.ToolError{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("%s returned malformed JSON: %v", backend, err),
		}
	}
	return decoded, nil
}

// getJSON is doJSON specialized for authenticated-free GET requests.
func getJSON(ctx context.Context, client *httpclient.Client, backend, url string) (map[string]interface{}, error) {
	return doJSON(ctx, client, backend, http.MethodGet, url, nil, nil)
}
