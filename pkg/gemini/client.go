// Package gemini wraps the Gemini generateContent API behind a small interface.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

// Client defines the Gemini operations used by the rewrite stage.
type Client interface {
	GenerateContent(ctx context.Context, req Request) (*Response, error)
}

// Request is a single-turn text generation request.
type Request struct {
	Model             string
	Text              string
	SystemInstruction string
	Temperature       float64
	// ThinkingBudget is sent when non-nil: -1 lets the model decide, 0
	// disables thinking, and positive values cap thinking tokens.
	ThinkingBudget  *int
	MaxOutputTokens int
}

// Response is the generated text plus completion metadata.
type Response struct {
	Text         string
	FinishReason string
	Usage        Usage
	// Raw is the provider response encoded as JSON.
	Raw json.RawMessage
}

// Usage mirrors Gemini's usage metadata.
type Usage struct {
	PromptTokens     int
	CandidatesTokens int
	ThoughtsTokens   int
	TotalTokens      int
}

// APIError is returned when the API responds with an error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: HTTP %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

type sdkClient struct {
	client *genai.Client
}

// NewClient creates a Gemini API client. baseURL is optional.
func NewClient(ctx context.Context, apiKey, baseURL string) (Client, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: API key was not provided")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &sdkClient{client: client}, nil
}

func (c *sdkClient) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Text), buildConfig(req))
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &APIError{StatusCode: apiErr.Code, Message: apiErr.Message}
		}
		return nil, eris.Wrap(err, "gemini: generate content")
	}
	return fromSDKResponse(resp), nil
}

func buildConfig(req Request) *genai.GenerateContentConfig {
	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
	}

	// The API rejects an empty system instruction.
	instruction := req.SystemInstruction
	if strings.TrimSpace(instruction) == "" {
		instruction = " "
	}
	cfg.SystemInstruction = &genai.Content{
		Parts: []*genai.Part{{Text: instruction}},
	}

	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if req.ThinkingBudget != nil {
		budget := int32(*req.ThinkingBudget)
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}
	return cfg
}

func fromSDKResponse(resp *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if resp == nil {
		return out
	}

	var text strings.Builder
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		out.FinishReason = string(cand.FinishReason)
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil || part.Thought {
					continue
				}
				text.WriteString(part.Text)
			}
		}
	}
	out.Text = text.String()

	if md := resp.UsageMetadata; md != nil {
		out.Usage = Usage{
			PromptTokens:     int(md.PromptTokenCount),
			CandidatesTokens: int(md.CandidatesTokenCount),
			ThoughtsTokens:   int(md.ThoughtsTokenCount),
			TotalTokens:      int(md.TotalTokenCount),
		}
	}

	if raw, err := json.Marshal(resp); err == nil {
		out.Raw = raw
	}
	return out
}
