// Package planner calls a chat-completions style planning model and decodes
// its JSON plan documents.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tradeloop/internal/core"
	"tradeloop/pkg/apperrors"
	"tradeloop/pkg/httpclient"
)

const pathChatCompletions = "/chat/completions"

// Service produces a plan from a prompt. Implemented by the HTTP client and
// the stub.
type Service interface {
	Plan(ctx context.Context, req Request) (*Result, error)
}

// Request is one planning invocation.
type Request struct {
	System    string
	Prompt    string
	MaxOrders int
}

// Usage is the token accounting the model reports.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result carries the raw model output alongside the validated document.
type Result struct {
	Raw      string
	Document *PlanDocument
	Usage    Usage
}

// ClientOptions configures the HTTP planner.
type ClientOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	http        *httpclient.Client
	model       string
	temperature float64
	logger      core.ILogger
}

type bearerSigner struct {
	token string
}

func (b bearerSigner) SignRequest(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+b.token)
	return nil
}

func NewClient(opts ClientOptions, logger core.ILogger) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		http:        httpclient.NewClient(opts.BaseURL, timeout, bearerSigner{token: opts.APIKey}),
		model:       opts.Model,
		temperature: opts.Temperature,
		logger:      logger.WithField("component", "planner"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Plan sends the prompt and decodes the response into a validated document.
// Any schema violation in the model's output is a planning failure.
func (c *Client) Plan(ctx context.Context, req Request) (*Result, error) {
	payload := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		ResponseFormat: &struct {
			Type string `json:"type"`
		}{Type: "json_object"},
	}

	body, err := c.http.Post(ctx, pathChatCompletions, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to call planning model: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: completion has no choices", apperrors.ErrPlanRejected)
	}
	raw := resp.Choices[0].Message.Content

	doc, err := ParsePlanDocument(raw, req.MaxOrders)
	if err != nil {
		return &Result{Raw: raw, Usage: resp.Usage}, err
	}

	c.logger.Info("Plan received",
		"orders", len(doc.Orders),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return &Result{Raw: raw, Document: doc, Usage: resp.Usage}, nil
}
