package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// SessionUsage is the aggregated activity of one session as scraped by a
// Prometheus server.
type SessionUsage struct {
	SessionID    string `json:"session_id"`
	Steps        int64  `json:"steps"`
	PromptTokens int64  `json:"prompt_tokens"`
}

// QueryService reads aggregated metrics back from Prometheus.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service for the server at prometheusURL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// SessionUsage sums the step and prompt token counters for sessionID.
func (q *QueryService) SessionUsage(ctx context.Context, sessionID string) (*SessionUsage, error) {
	usage := &SessionUsage{SessionID: sessionID}

	steps, err := q.scalar(ctx, fmt.Sprintf(`sum(programmer_steps_total{session_id=%q})`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	usage.Steps = int64(steps)

	tokens, err := q.scalar(ctx, fmt.Sprintf(`sum(programmer_prompt_tokens_total{session_id=%q})`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	usage.PromptTokens = int64(tokens)
	return usage, nil
}

func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}
