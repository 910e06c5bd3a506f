package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4.1-mini"
	defaultTimeout = 45 * time.Second
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// JSONSchema is a named schema handed to the model as a strict
// response_format.
type JSONSchema struct {
	Name   string
	Schema map[string]any
}

// OpenAICompatAssistant talks to any server implementing the OpenAI chat
// completions wire format.
type OpenAICompatAssistant struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Client      *http.Client
}

type RateLimitError struct {
	RetryAfter time.Duration
}

func (r RateLimitError) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", r.RetryAfter)
	}
	return "rate limited"
}

type responseFormat struct {
	Type       string             `json:"type"`
	JSONSchema responseJSONSchema `json:"json_schema"`
}

type responseJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Messages       []ChatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string  `json:"content"`
			Refusal *string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

// CompleteJSON sends one chat completion constrained by schema and decodes
// the returned JSON document into out. Fields outside the schema are
// rejected.
func (a OpenAICompatAssistant) CompleteJSON(ctx context.Context, messages []ChatMessage, schema JSONSchema, out any) error {
	if strings.TrimSpace(a.APIKey) == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set")
	}
	baseURL := a.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	model := a.Model
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := a.Client
	if client == nil {
		client = &http.Client{}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := chatRequest{
		Model:       model,
		Temperature: a.Temperature,
		MaxTokens:   a.MaxTokens,
		Messages:    messages,
		ResponseFormat: responseFormat{
			Type: "json_schema",
			JSONSchema: responseJSONSchema{
				Name:   schema.Name,
				Schema: schema.Schema,
				Strict: true,
			},
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := strings.TrimRight(baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("request timed out after %s", timeout)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("request timed out after %s", timeout)
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if resp.StatusCode == http.StatusTooManyRequests {
			return RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
		}
		return fmt.Errorf("http error: %s: %s", resp.Status, errorMessage(errBody))
	}

	var res chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(res.Choices) == 0 {
		return fmt.Errorf("empty response")
	}
	choice := res.Choices[0]
	if choice.Message.Refusal != nil && *choice.Message.Refusal != "" {
		return fmt.Errorf("model refused: %s", *choice.Message.Refusal)
	}
	if choice.FinishReason == "length" {
		return fmt.Errorf("response truncated")
	}

	dec := json.NewDecoder(strings.NewReader(choice.Message.Content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", schema.Name, err)
	}
	return nil
}

func retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if dur, err := time.ParseDuration(header); err == nil {
		return dur
	}
	return 0
}

func errorMessage(errBody map[string]any) string {
	errObj, ok := errBody["error"].(map[string]any)
	if !ok {
		return "unknown error"
	}
	if msg, ok := errObj["message"].(string); ok && msg != "" {
		return msg
	}
	return "unknown error"
}
