package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quarry-ai/quarry/internal/research"
)

// LLMClient calls an external LLM service for planning and synthesis.
// The service contract is plain JSON over HTTP; which model answers is
// the service's business.
type LLMClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewLLMClient creates a client for the LLM service at baseURL.
func NewLLMClient(baseURL string, timeout time.Duration, logger *zap.Logger) *LLMClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type planRequest struct {
	Query string `json:"query"`
}

type planResponse struct {
	SubQueries []research.SubQuery `json:"sub_queries"`
	Reasoning  string              `json:"reasoning,omitempty"`
}

// Plan asks the service to decompose the query into sub-queries. Any
// failure is wrapped in ErrPlanningFailed; the caller decides whether a
// fallback planner applies.
func (c *LLMClient) Plan(ctx context.Context, query string) ([]research.SubQuery, error) {
	var resp planResponse
	if err := c.post(ctx, "/plan", planRequest{Query: query}, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanningFailed, err)
	}
	if len(resp.SubQueries) == 0 {
		return nil, fmt.Errorf("%w: service returned no sub-queries", ErrPlanningFailed)
	}
	c.logger.Info("LLM plan received",
		zap.Int("sub_queries", len(resp.SubQueries)),
	)
	return resp.SubQueries, nil
}

type synthesizeRequest struct {
	Query    string             `json:"query"`
	Findings []research.Finding `json:"findings"`
	Partial  bool               `json:"partial"`
}

type synthesizeResponse struct {
	Report string `json:"report"`
}

// Synthesize asks the service for the final report. Failures are
// wrapped in ErrSynthesisFailed so the engine can degrade to a findings
// dump.
func (c *LLMClient) Synthesize(ctx context.Context, st research.State) (string, error) {
	var resp synthesizeResponse
	req := synthesizeRequest{Query: st.Query, Findings: st.Findings, Partial: st.Partial}
	if err := c.post(ctx, "/synthesize", req, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	if resp.Report == "" {
		return "", fmt.Errorf("%w: service returned empty report", ErrSynthesisFailed)
	}
	return resp.Report, nil
}

func (c *LLMClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm service returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
