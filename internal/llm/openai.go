package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wendui/wendui/internal/provider"
	"github.com/wendui/wendui/internal/reliability"
)

const (
	maxAttempts  = 3
	retryBase    = 250 * time.Millisecond
	retryCeiling = 2 * time.Second
)

// retryable reports whether a provider call failed in a way worth retrying.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reliability.IsRetryableHTTPStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reliability.IsRetryableHTTPStatus(reqErr.HTTPStatusCode)
	}
	return false
}

func backoff(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(reliability.ExponentialBackoff(attempt, retryBase, retryCeiling)):
		return nil
	}
}

// OpenAIClient talks to any OpenAI-compatible back-end configured in the
// provider registry. One underlying client is built lazily per provider host
// and reused across calls.
type OpenAIClient struct {
	registry *provider.Registry

	mu      sync.Mutex
	clients map[string]*openai.Client
}

func NewOpenAIClient(registry *provider.Registry) *OpenAIClient {
	return &OpenAIClient{
		registry: registry,
		clients:  make(map[string]*openai.Client),
	}
}

func (c *OpenAIClient) clientFor(modelID string) (*openai.Client, error) {
	p, err := c.registry.ForModel(modelID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[p.Host]; ok {
		return client, nil
	}

	apiKey := strings.TrimSpace(os.Getenv(p.APIKeyEnv))
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s: API key env %s is not set", p.Host, p.APIKeyEnv)
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = p.BaseURL
	client := openai.NewClientWithConfig(cfg)
	c.clients[p.Host] = client
	return client, nil
}

func buildMessages(system string, history []Message, prompt string, instructions []string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+len(instructions)+2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range history {
		role := m.Role
		switch role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			role = RoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	for _, inst := range instructions {
		if strings.TrimSpace(inst) == "" {
			continue
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: inst})
	}
	if strings.TrimSpace(prompt) != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	}
	return msgs
}

func (c *OpenAIClient) GenerateStream(ctx context.Context, req StreamRequest, onDelta DeltaHandler) (string, error) {
	client, err := c.clientFor(req.Model)
	if err != nil {
		return "", err
	}

	// Retries apply only to opening the stream. Once deltas have been
	// delivered a retry would replay text the subscribers already saw.
	var stream *openai.ChatCompletionStream
	for attempt := 0; ; attempt++ {
		stream, err = client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    req.Model,
			Messages: buildMessages(req.System, req.History, req.Prompt, req.Instructions),
			Stream:   true,
		})
		if err == nil {
			break
		}
		if attempt >= maxAttempts-1 || !retryable(err) {
			return "", fmt.Errorf("create completion stream: %w", err)
		}
		if werr := backoff(ctx, attempt); werr != nil {
			return "", werr
		}
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sb.String(), fmt.Errorf("stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return sb.String(), err
			}
		}
	}
	return sb.String(), nil
}

func (c *OpenAIClient) GenerateJSON(ctx context.Context, req JSONRequest, out any) error {
	client, err := c.clientFor(req.Model)
	if err != nil {
		return err
	}

	var resp openai.ChatCompletionResponse
	for attempt := 0; ; attempt++ {
		resp, err = client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    req.Model,
			Messages: buildMessages(req.System, req.History, req.Prompt, nil),
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err == nil {
			break
		}
		if attempt >= maxAttempts-1 || !retryable(err) {
			return fmt.Errorf("create completion: %w", err)
		}
		if werr := backoff(ctx, attempt); werr != nil {
			return werr
		}
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("completion returned no choices")
	}
	raw := extractJSONObject(resp.Choices[0].Message.Content)
	if raw == "" {
		return fmt.Errorf("completion is not a JSON object")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode structured output: %w", err)
	}
	return nil
}

// extractJSONObject tolerates models that wrap their JSON in prose or fences.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
