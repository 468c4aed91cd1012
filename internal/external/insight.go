package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"inkwell/internal/config"
	"inkwell/internal/types"
)

// reflectionPrompt instructs the model to return the reflection as a single
// JSON object matching types.Reflection. The response_format constraint
// below enforces JSON output; the prompt pins the field names.
const reflectionPrompt = `You are a gentle, supportive journaling companion.
Read the journal entry and respond with a single JSON object with exactly
these keys: "summary" (2-3 sentences), "themes" (array of short strings),
"emotions" (array of short strings), "gentle_next_step" (one sentence),
"questions" (array of 2-3 reflective questions). Do not include any other
keys or prose.`

// InsightClient generates reflections by calling an OpenAI-compatible
// chat-completions API through BaseClient, so all requests inherit the
// circuit breaker, retries, and error mapping.
//
// The generation call is treated as untrusted I/O end to end: a slow,
// failing, or malformed response surfaces as an error and the caller (the
// orchestrator) never debits for it.
type InsightClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	model   string
	logger  *slog.Logger
}

// InsightClientConfig holds the configuration for creating an InsightClient.
type InsightClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Logger  *slog.Logger
}

// NewInsightClient creates a new InsightClient from service configuration.
// The httpClient timeout bounds the whole generation call and should match
// config.InsightConfig.Timeout.
func NewInsightClient(httpClient *http.Client, cfg InsightClientConfig) *InsightClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"insight",
		DefaultRetryPolicy(),
		"Inkwell/1.0",
	)

	return &InsightClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		logger:  logger,
	}
}

// NewInsightClientWithBase creates an InsightClient with a pre-configured
// BaseClient. Useful for tests that want to control retry behavior.
func NewInsightClientWithBase(base *BaseClient, cfg InsightClientConfig) *InsightClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &InsightClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		logger:  logger,
	}
}

// InsightClientFromConfig builds the production client from the loaded
// service configuration.
func InsightClientFromConfig(cfg config.InsightConfig, logger *slog.Logger) *InsightClient {
	return NewInsightClient(
		&http.Client{Timeout: cfg.Timeout},
		InsightClientConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey.Unmask(),
			Model:   cfg.Model,
			Logger:  logger,
		},
	)
}

// chat-completions wire types; only the fields this client touches.
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat responseFmt   `json:"response_format"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFmt struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate produces a reflection for the given entry. Any transport
// failure, non-2xx response, or unusable payload is returned as an error;
// the caller maps all of them to the generation_failed outcome.
func (c *InsightClient) Generate(ctx context.Context, entry types.EntryContent) (*types.Reflection, error) {
	userContent := entry.Content
	if entry.Title != "" {
		userContent = "Title: " + entry.Title + "\n\n" + entry.Content
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: reflectionPrompt},
			{Role: "user", Content: userContent},
		},
		ResponseFormat: responseFmt{Type: "json_object"},
		Temperature:    0.7,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to serialize generation request",
			err,
		)
	}

	url := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create generation request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(ctx, resp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			"failed to decode generation response",
			err,
		)
	}

	if len(chatResp.Choices) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			"generation response contained no choices",
			nil,
		)
	}

	reflection, err := parseReflection(chatResp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "reflection generated",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return reflection, nil
}

// parseReflection decodes the model's JSON payload and rejects unusable
// content. A missing summary means the model did not follow the contract;
// callers treat that the same as a transport failure.
func parseReflection(content string) (*types.Reflection, error) {
	var r types.Reflection
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			"generation returned malformed reflection JSON",
			err,
		)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			"generation returned an empty reflection",
			nil,
		)
	}
	return &r, nil
}

// handleErrorResponse reads and logs the error body from a non-2xx response.
func (c *InsightClient) handleErrorResponse(ctx context.Context, resp *http.Response) *types.AppError {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	bodyStr := string(bodyBytes)

	c.logger.ErrorContext(ctx, "insight API error",
		"status_code", resp.StatusCode,
		"response_body", bodyStr,
	)

	return types.NewAppError(
		types.ErrCodeUpstreamUnavailable,
		fmt.Sprintf("insight API returned %d", resp.StatusCode),
		fmt.Errorf("insight API returned %d: %s", resp.StatusCode, bodyStr),
	)
}
