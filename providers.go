package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxTokenNum = 2000
	maxAttempts = 3

	anthropicEndpoint = "https://api.anthropic.com/v1/messages"
	openAIEndpoint    = "https://api.openai.com/v1/chat/completions"
	deepSeekEndpoint  = "https://api.deepseek.com/chat/completions"

	// Returned in place of a reply when a provider answers with a shape we
	// cannot parse. The pipeline continues with this text as degraded
	// content unless allow_degraded says otherwise.
	fallbackReply = "すみません、今は適切な応答ができません。"
)

// Credentials holds the per-provider API keys, read once at startup and
// treated as immutable for the run.
type Credentials struct {
	AnthropicKey string
	OpenAIKey    string
	DeepSeekKey  string
}

// requiredKey returns the environment variable name and current value of the
// API key the model's provider needs. The switch mirrors the dispatch rules.
func requiredKey(creds Credentials, model string) (name, key string) {
	switch {
	case model == "gpt-4o":
		return "OPENAI_API_KEY", creds.OpenAIKey
	case strings.HasPrefix(model, "deepseek"):
		return "DEEPSEEK_API_KEY", creds.DeepSeekKey
	default:
		return "ANTHROPIC_API_KEY", creds.AnthropicKey
	}
}

// RateLimitError is a retryable upstream rate-limit signal.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit: %s", e.Provider, e.Message)
}

// MalformedResponseError marks a response whose body did not contain a reply
// even though the provider did not report an error. The client degrades to
// fallback text instead of failing.
type MalformedResponseError struct {
	Provider string
	Body     string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s returned an unexpected response shape", e.Provider)
}

// wireAdapter converts the neutral message list into one provider's wire
// format and extracts the reply from that provider's response shape.
type wireAdapter interface {
	Name() string
	NewRequest(messages []Message, model string, creds Credentials) (*http.Request, error)
	ParseResponse(statusCode int, body []byte) (text string, tokens int, err error)
}

// providerRule pairs a model predicate with the adapter that serves it.
// Rules are checked in order; the first match wins.
type providerRule struct {
	matches func(model string) bool
	adapter wireAdapter
}

func defaultProviderRules() []providerRule {
	return []providerRule{
		{func(m string) bool { return m == "gpt-4o" }, &openAIAdapter{}},
		{func(m string) bool { return strings.HasPrefix(m, "deepseek") }, &deepSeekAdapter{}},
		{func(m string) bool { return true }, &anthropicAdapter{}},
	}
}

func adapterFor(rules []providerRule, model string) wireAdapter {
	for _, rule := range rules {
		if rule.matches(model) {
			return rule.adapter
		}
	}
	return rules[len(rules)-1].adapter
}

// anthropicAdapter speaks the Messages API: the lone system message moves
// into a dedicated field and only non-system messages are forwarded.
type anthropicAdapter struct {
	endpoint string // overridable in tests
}

func (a *anthropicAdapter) Name() string { return "anthropic" }

func (a *anthropicAdapter) NewRequest(messages []Message, model string, creds Credentials) (*http.Request, error) {
	payload := map[string]interface{}{
		"model":       model,
		"max_tokens":  maxTokenNum,
		"temperature": 0,
		"messages":    nonSystemMessages(messages),
	}
	if system := systemMessage(messages); system != "" {
		payload["system"] = system
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	endpoint := a.endpoint
	if endpoint == "" {
		endpoint = anthropicEndpoint
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", creds.AnthropicKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return req, nil
}

type anthropicResponse struct {
	Type    string `json:"type"`
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *anthropicAdapter) ParseResponse(statusCode int, body []byte) (string, int, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", 0, fmt.Errorf("anthropic: decoding response: %w", err)
	}

	switch resp.Type {
	case "message":
		if len(resp.Content) == 0 || resp.Content[0].Text == "" {
			return "", 0, &MalformedResponseError{Provider: a.Name(), Body: string(body)}
		}
		tokens := resp.Usage.InputTokens + resp.Usage.OutputTokens
		return strings.TrimSpace(resp.Content[0].Text), tokens, nil
	case "error":
		if resp.Error.Type == "rate_limit_error" {
			return "", 0, &RateLimitError{Provider: a.Name(), Message: resp.Error.Message}
		}
		return "", 0, fmt.Errorf("anthropic API error: %s", resp.Error.Message)
	default:
		return "", 0, fmt.Errorf("anthropic API returned an unexpected response type %q", resp.Type)
	}
}

// chatCompletionsResponse is the OpenAI-style response shape shared by the
// OpenAI and DeepSeek adapters.
type chatCompletionsResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func newChatCompletionsRequest(endpoint, apiKey string, messages []Message, model string) (*http.Request, error) {
	payload := map[string]interface{}{
		"model":       model,
		"max_tokens":  maxTokenNum,
		"temperature": 0,
		"messages":    messages,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return req, nil
}

func parseChatCompletions(provider string, statusCode int, body []byte) (string, int, error) {
	if statusCode == http.StatusTooManyRequests {
		return "", 0, &RateLimitError{Provider: provider, Message: strings.TrimSpace(string(body))}
	}

	var resp chatCompletionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", 0, fmt.Errorf("%s: decoding response: %w", provider, err)
	}
	if resp.Error.Message != "" {
		if strings.Contains(strings.ToLower(resp.Error.Message), "rate limit") {
			return "", 0, &RateLimitError{Provider: provider, Message: resp.Error.Message}
		}
		return "", 0, fmt.Errorf("%s API error: %s", provider, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		if statusCode != http.StatusOK {
			return "", 0, fmt.Errorf("%s API error: HTTP %d", provider, statusCode)
		}
		return "", 0, &MalformedResponseError{Provider: provider, Body: string(body)}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), resp.Usage.TotalTokens, nil
}

// openAIAdapter forwards the full message list, system message included.
type openAIAdapter struct {
	endpoint string
}

func (a *openAIAdapter) Name() string { return "openai" }

func (a *openAIAdapter) NewRequest(messages []Message, model string, creds Credentials) (*http.Request, error) {
	endpoint := a.endpoint
	if endpoint == "" {
		endpoint = openAIEndpoint
	}
	return newChatCompletionsRequest(endpoint, creds.OpenAIKey, messages, model)
}

func (a *openAIAdapter) ParseResponse(statusCode int, body []byte) (string, int, error) {
	return parseChatCompletions(a.Name(), statusCode, body)
}

type deepSeekAdapter struct {
	endpoint string
}

func (a *deepSeekAdapter) Name() string { return "deepseek" }

func (a *deepSeekAdapter) NewRequest(messages []Message, model string, creds Credentials) (*http.Request, error) {
	endpoint := a.endpoint
	if endpoint == "" {
		endpoint = deepSeekEndpoint
	}
	return newChatCompletionsRequest(endpoint, creds.DeepSeekKey, messages, model)
}

func (a *deepSeekAdapter) ParseResponse(statusCode int, body []byte) (string, int, error) {
	return parseChatCompletions(a.Name(), statusCode, body)
}

// LogAppender records one audit row per exchange.
type LogAppender interface {
	AppendLog(entry LogEntry) error
}

// ProgressFunc receives elapsed whole seconds since the call began. It is
// purely informational and must not affect retries.
type ProgressFunc func(elapsedSeconds int)

// Client sends chat requests to whichever provider serves the model and
// records every successful exchange in the audit log. Requests are strictly
// sequential; all waiting is a blocking sleep.
type Client struct {
	httpClient *http.Client
	creds      Credentials
	rules      []providerRule
	logs       LogAppender
	notifier   Notifier
	runID      string

	// Injectable for tests.
	sleep      func(time.Duration)
	onProgress ProgressFunc
}

// NewClient creates a provider client with the default dispatch rules.
func NewClient(creds Credentials, logs LogAppender, notifier Notifier) *Client {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		creds:      creds,
		rules:      defaultProviderRules(),
		logs:       logs,
		notifier:   notifier,
		runID:      uuid.NewString(),
		sleep:      time.Sleep,
	}
}

// SetProgress registers an optional per-iteration progress callback.
func (c *Client) SetProgress(fn ProgressFunc) {
	c.onProgress = fn
}

// Send dispatches the message list to the model's provider. Rate-limit
// failures retry up to 3 attempts with 2^n-second backoff and a 1-second
// pacing sleep per iteration; any other upstream error is fatal immediately.
// A parseable-but-empty reply degrades to fallback text instead of failing.
func (c *Client) Send(messages []Message, model string) (Reply, error) {
	adapter := adapterFor(c.rules, model)

	start := time.Now()
	retryCount := 0

	for retryCount < maxAttempts {
		text, tokens, err := c.attempt(adapter, messages, model)
		if err == nil {
			c.appendLog(model, messages, text, tokens)
			return Reply{Text: text, Tokens: tokens}, nil
		}

		var malformed *MalformedResponseError
		if errors.As(err, &malformed) {
			log.Printf("✗ %s replied with an unexpected shape, continuing with fallback text", adapter.Name())
			debugLog("%s response body: %s", adapter.Name(), malformed.Body)
			return Reply{Text: fallbackReply, Degraded: true}, nil
		}

		var rateLimited *RateLimitError
		if !errors.As(err, &rateLimited) {
			return Reply{}, err
		}

		retryCount++
		if retryCount >= maxAttempts {
			return Reply{}, fmt.Errorf("%s API error: %s", adapter.Name(), rateLimited.Message)
		}

		delay := time.Duration(1<<uint(retryCount)) * time.Second
		c.notifier.Notify(fmt.Sprintf("APIリクエストがレート制限に達しました。%s後に再試行します...", delay), "APIリクエスト待機中", 3)
		c.sleep(delay)

		if c.onProgress != nil {
			c.onProgress(int(time.Since(start).Seconds()))
		}
		c.sleep(time.Second)
	}

	return Reply{}, fmt.Errorf("%s: retries exhausted", adapter.Name())
}

func (c *Client) attempt(adapter wireAdapter, messages []Message, model string) (string, int, error) {
	req, err := adapter.NewRequest(messages, model, c.creds)
	if err != nil {
		return "", 0, fmt.Errorf("building %s request: %w", adapter.Name(), err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("calling %s: %w", adapter.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("reading %s response: %w", adapter.Name(), err)
	}

	return adapter.ParseResponse(resp.StatusCode, body)
}

func (c *Client) appendLog(model string, messages []Message, text string, tokens int) {
	if c.logs == nil {
		return
	}
	if tokens == 0 {
		tokens = len(text) / 4 // best-effort when usage is not reported
	}
	entry := LogEntry{
		Timestamp:  time.Now(),
		RunID:      c.runID,
		Source:     model,
		Prompt:     firstUserMessage(messages),
		Response:   text,
		TokenCount: tokens,
	}
	if err := c.logs.AppendLog(entry); err != nil {
		log.Printf("✗ appending log entry: %v", err)
	}
}

func systemMessage(messages []Message) string {
	for _, m := range messages {
		if m.Role == RoleSystem {
			return m.Content
		}
	}
	return ""
}

func nonSystemMessages(messages []Message) []Message {
	filtered := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != RoleSystem {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

func firstUserMessage(messages []Message) string {
	for _, m := range messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}
