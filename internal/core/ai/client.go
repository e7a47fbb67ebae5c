package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/iamangrysparrow/smart-basket-sub004/config"
	"github.com/iamangrysparrow/smart-basket-sub004/pkg/telemetry"
)

// Completion is the fully assembled text of one AI call. The pipeline only
// consumes final text; no decision depends on partial output.
type Completion struct {
	Text       string
	TokensUsed int
}

// Completer is the single-shot completion contract every pipeline stage
// (parsing, extraction, classification, labeling) depends on.
type Completer interface {
	Complete(ctx context.Context, session *Session, prompt string, maxTokens int, temperature float64) (*Completion, error)
}

type openAIClient struct {
	config     config.OpenAIConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// Chat Completions API structures (legacy)
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Store       *bool     `json:"store,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionResponse struct {
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Responses API structures (new)
type ResponsesRequest struct {
	Model              string              `json:"model"`
	Input              []ResponsesMessage  `json:"input"`
	Store              *bool               `json:"store,omitempty"`
	PreviousResponseID string              `json:"previous_response_id,omitempty"`
	Reasoning          *ResponsesReasoning `json:"reasoning,omitempty"`
}

type ResponsesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ResponsesReasoning struct {
	Effort string `json:"effort"`
}

type ResponsesResponse struct {
	ID        string                `json:"id"`
	Object    string                `json:"object"`
	CreatedAt int64                 `json:"created_at"`
	Model     string                `json:"model"`
	Output    []ResponsesOutputItem `json:"output"`
	Usage     Usage                 `json:"usage"`
}

type ResponsesOutputItem struct {
	ID      string                   `json:"id"`
	Type    string                   `json:"type"`
	Status  string                   `json:"status,omitempty"`
	Role    string                   `json:"role,omitempty"`
	Content []ResponsesOutputContent `json:"content,omitempty"`
}

type ResponsesOutputContent struct {
	Type        string        `json:"type"`
	Text        string        `json:"text,omitempty"`
	Annotations []interface{} `json:"annotations,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func NewOpenAIClient(cfg config.OpenAIConfig, logger *slog.Logger) Completer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-5-nano" // Default to GPT-5 nano
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1500 // Appropriate for JSON responses
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1 // Low temperature for consistent parsing
	}
	if cfg.ReasoningEffort == "" {
		cfg.ReasoningEffort = "medium" // Default reasoning level
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 45 * time.Second // Increased timeout for reasoning models
	}
	// Default to using Responses API for new models
	if cfg.Model == "gpt-5" || cfg.Model == "gpt-5-nano" {
		cfg.UseResponsesAPI = true
		cfg.Store = true // Enable stateful context across a run
	}

	return &openAIClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.CallTimeout,
		},
		logger: logger,
	}
}

// Complete issues one completion. The timeout applies per call: a timed-out
// call degrades only the unit of work it belongs to, never the whole run.
func (c *openAIClient) Complete(ctx context.Context, session *Session, prompt string, maxTokens int, temperature float64) (*Completion, error) {
	telemetry.RecordAIRequest(ctx)

	var result *Completion
	var err error
	if c.config.UseResponsesAPI {
		result, err = c.completeWithResponsesAPI(ctx, session, prompt)
	} else {
		result, err = c.completeWithChatCompletions(ctx, prompt, maxTokens, temperature)
	}

	if err != nil {
		telemetry.RecordAIFailure(ctx)
	}
	return result, err
}

func (c *openAIClient) completeWithResponsesAPI(ctx context.Context, session *Session, prompt string) (*Completion, error) {
	reqBody := ResponsesRequest{
		Model: c.config.Model,
		Input: []ResponsesMessage{
			{
				Role:    "user",
				Content: prompt,
			},
		},
		Reasoning: &ResponsesReasoning{
			Effort: c.config.ReasoningEffort,
		},
	}

	// Chain calls through the run session so a stateful provider reuses
	// server-side context; stateless runs leave this empty.
	if c.config.Store {
		reqBody.Store = &c.config.Store
		if session != nil && session.lastResponseID != "" {
			reqBody.PreviousResponseID = session.lastResponseID
		}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal responses request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+"/responses", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create responses request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make responses request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read responses: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("responses API error: %d - %s", resp.StatusCode, string(body))
	}

	var responsesResp ResponsesResponse
	if err := json.Unmarshal(body, &responsesResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal responses: %w", err)
	}

	outputText, err := c.extractOutputText(responsesResp.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to extract output text: %w", err)
	}

	if session != nil && responsesResp.ID != "" {
		session.lastResponseID = responsesResp.ID
	}

	c.logger.Debug("Completed request with Responses API",
		"model", c.config.Model,
		"tokens_used", responsesResp.Usage.TotalTokens,
		"reasoning_effort", c.config.ReasoningEffort)

	return &Completion{
		Text:       outputText,
		TokensUsed: responsesResp.Usage.TotalTokens,
	}, nil
}

func (c *openAIClient) completeWithChatCompletions(ctx context.Context, prompt string, maxTokens int, temperature float64) (*Completion, error) {
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}
	if temperature == 0 {
		temperature = c.config.Temperature
	}

	reqBody := ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	if c.config.Store {
		reqBody.Store = &c.config.Store
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make chat completion request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat completion API error: %d - %s", resp.StatusCode, string(body))
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat completion response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in chat completion response")
	}

	c.logger.Debug("Completed request with Chat Completions",
		"model", c.config.Model,
		"tokens_used", chatResp.Usage.TotalTokens)

	return &Completion{
		Text:       chatResp.Choices[0].Message.Content,
		TokensUsed: chatResp.Usage.TotalTokens,
	}, nil
}

func (c *openAIClient) extractOutputText(output []ResponsesOutputItem) (string, error) {
	for _, item := range output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, content := range item.Content {
				if content.Type == "output_text" || content.Type == "text" {
					return content.Text, nil
				}
			}
		}
	}
	return "", fmt.Errorf("no output text found in responses")
}
