package stepmachine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"jobctl/internal/apperrors"
	"jobctl/internal/domain"
	"jobctl/internal/worker/resolver"
)

// HTTPExecutor runs HTTP steps with net/http, grounded on the teacher's
// pkg/ai/client.go http.Client pattern (context-bound request, bounded
// body read).
type HTTPExecutor struct {
	Client *http.Client
}

func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExecutor{Client: client}
}

func (e *HTTPExecutor) Execute(ctx context.Context, step domain.Step, ec *domain.ExecutionContext) (map[string]any, error) {
	cfg := step.Config.HTTP
	if cfg == nil {
		return nil, fmt.Errorf("stepmachine: http step %q missing config", step.ID)
	}

	url, err := resolver.Resolve(cfg.URL, ec)
	if err != nil {
		return nil, err
	}
	body, err := resolver.Resolve(cfg.Body, ec)
	if err != nil {
		return nil, err
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", apperrors.ErrValidation, err)
	}
	for k, v := range cfg.Headers {
		resolved, err := resolver.Resolve(v, ec)
		if err != nil {
			return nil, err
		}
		req.Header.Set(k, resolved)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", apperrors.ErrTransient, err)
	}

	output := map[string]any{
		"status_code": float64(resp.StatusCode),
		"body":        string(respBody),
	}

	if resp.StatusCode >= 400 {
		return output, fmt.Errorf("%w: http %d", apperrors.ErrExternalTarget, resp.StatusCode)
	}
	return output, nil
}
