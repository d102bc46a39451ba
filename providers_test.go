package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type logRecorder struct {
	entries []LogEntry
}

func (r *logRecorder) AppendLog(entry LogEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

// newTestClient wires a client to a single adapter with sleeps recorded
// instead of executed.
func newTestClient(adapter wireAdapter) (*Client, *logRecorder, *[]time.Duration) {
	logs := &logRecorder{}
	client := NewClient(Credentials{
		AnthropicKey: "test-anthropic",
		OpenAIKey:    "test-openai",
		DeepSeekKey:  "test-deepseek",
	}, logs, NopNotifier{})

	sleeps := &[]time.Duration{}
	client.sleep = func(d time.Duration) { *sleeps = append(*sleeps, d) }
	client.rules = []providerRule{
		{matches: func(string) bool { return true }, adapter: adapter},
	}
	return client, logs, sleeps
}

func TestAdapterDispatch(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"gpt-4o", "openai"},
		{"gpt-4o-mini", "anthropic"}, // only the exact flagship name matches
		{"deepseek-chat", "deepseek"},
		{"deepseek-reasoner", "deepseek"},
		{"claude-3-haiku-20240307", "anthropic"},
		{"claude-sonnet-4-20250514", "anthropic"},
		{"anything-else", "anthropic"},
	}

	rules := defaultProviderRules()
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			adapter := adapterFor(rules, tt.model)
			if adapter.Name() != tt.expected {
				t.Errorf("adapterFor(%q) = %s, want %s", tt.model, adapter.Name(), tt.expected)
			}
		})
	}
}

func TestAnthropicSystemExtraction(t *testing.T) {
	var captured struct {
		Model       string    `json:"model"`
		MaxTokens   int       `json:"max_tokens"`
		Temperature float64   `json:"temperature"`
		System      string    `json:"system"`
		Messages    []Message `json:"messages"`
	}
	var headers http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(`{"type":"message","content":[{"text":"ok"}]}`))
	}))
	defer server.Close()

	client, _, _ := newTestClient(&anthropicAdapter{endpoint: server.URL})
	messages := []Message{
		{Role: RoleSystem, Content: "you are helpful"},
		{Role: RoleUser, Content: "write something"},
	}

	reply, err := client.Send(messages, "claude-3-haiku-20240307")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Text != "ok" {
		t.Errorf("reply.Text = %q, want %q", reply.Text, "ok")
	}

	if captured.System != "you are helpful" {
		t.Errorf("system field = %q, want the system message", captured.System)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != RoleUser {
		t.Errorf("messages = %v, want only the user message", captured.Messages)
	}
	if captured.MaxTokens != maxTokenNum {
		t.Errorf("max_tokens = %d, want %d", captured.MaxTokens, maxTokenNum)
	}
	if captured.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", captured.Temperature)
	}

	if got := headers.Get("X-API-Key"); got != "test-anthropic" {
		t.Errorf("X-API-Key = %q, want %q", got, "test-anthropic")
	}
	if got := headers.Get("anthropic-version"); got != "2023-06-01" {
		t.Errorf("anthropic-version = %q, want %q", got, "2023-06-01")
	}
}

func TestDeepSeekForwardsFullMessageList(t *testing.T) {
	var captured struct {
		Messages []Message `json:"messages"`
	}
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":" hi "}}],"usage":{"total_tokens":7}}`))
	}))
	defer server.Close()

	client, logs, _ := newTestClient(&deepSeekAdapter{endpoint: server.URL})
	messages := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "ask"},
	}

	reply, err := client.Send(messages, "deepseek-chat")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if reply.Text != "hi" {
		t.Errorf("reply.Text = %q, want trimmed %q", reply.Text, "hi")
	}
	if reply.Tokens != 7 {
		t.Errorf("reply.Tokens = %d, want 7", reply.Tokens)
	}
	if auth != "Bearer test-deepseek" {
		t.Errorf("Authorization = %q, want bearer token", auth)
	}
	if len(captured.Messages) != 2 {
		t.Errorf("forwarded %d messages, want the full list of 2", len(captured.Messages))
	}

	if len(logs.entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(logs.entries))
	}
	entry := logs.entries[0]
	if entry.Source != "deepseek-chat" {
		t.Errorf("log source = %q, want the model name", entry.Source)
	}
	if entry.Prompt != "ask" {
		t.Errorf("log prompt = %q, want the first user message", entry.Prompt)
	}
	if entry.TokenCount != 7 {
		t.Errorf("log token count = %d, want 7", entry.TokenCount)
	}
}

func TestSendRetriesRateLimitThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
			return
		}
		w.Write([]byte(`{"type":"message","content":[{"text":"third time"}]}`))
	}))
	defer server.Close()

	client, _, sleeps := newTestClient(&anthropicAdapter{endpoint: server.URL})

	reply, err := client.Send([]Message{{Role: RoleUser, Content: "go"}}, "claude-3-haiku-20240307")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Text != "third time" {
		t.Errorf("reply.Text = %q, want %q", reply.Text, "third time")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	// Backoff waits are 2^n seconds: 2s after the first failure, 4s after
	// the second. The 1s pacing sleeps are separate.
	var backoffs []time.Duration
	for _, d := range *sleeps {
		if d >= 2*time.Second {
			backoffs = append(backoffs, d)
		}
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(backoffs) != len(want) {
		t.Fatalf("backoff waits = %v, want %v", backoffs, want)
	}
	for i := range want {
		if backoffs[i] != want[i] {
			t.Errorf("backoff %d = %v, want %v", i, backoffs[i], want[i])
		}
	}
}

func TestSendRateLimitExhausted(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"still throttled"}}`))
	}))
	defer server.Close()

	client, logs, _ := newTestClient(&anthropicAdapter{endpoint: server.URL})

	_, err := client.Send([]Message{{Role: RoleUser, Content: "go"}}, "claude-3-haiku-20240307")
	if err == nil {
		t.Fatal("Send() should fail after exhausting retries")
	}
	if !strings.Contains(err.Error(), "still throttled") {
		t.Errorf("error %q should carry the upstream message", err)
	}
	if attempts != maxAttempts {
		t.Errorf("attempts = %d, want %d", attempts, maxAttempts)
	}
	if len(logs.entries) != 0 {
		t.Errorf("got %d log entries, want none for a failed call", len(logs.entries))
	}
}

func TestSendFatalErrorNoRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer server.Close()

	client, _, sleeps := newTestClient(&anthropicAdapter{endpoint: server.URL})

	_, err := client.Send([]Message{{Role: RoleUser, Content: "go"}}, "claude-3-haiku-20240307")
	if err == nil {
		t.Fatal("Send() should fail on a non-rate-limit error")
	}
	if !strings.Contains(err.Error(), "bad model") {
		t.Errorf("error %q should carry the upstream message", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry)", attempts)
	}
	if len(*sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", *sleeps)
	}
}

func TestSendMalformedResponseDegrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"message","content":[]}`))
	}))
	defer server.Close()

	client, logs, _ := newTestClient(&anthropicAdapter{endpoint: server.URL})

	reply, err := client.Send([]Message{{Role: RoleUser, Content: "go"}}, "claude-3-haiku-20240307")
	if err != nil {
		t.Fatalf("Send() error = %v, malformed success must not fail", err)
	}
	if !reply.Degraded {
		t.Error("reply.Degraded = false, want true")
	}
	if reply.Text != fallbackReply {
		t.Errorf("reply.Text = %q, want the fallback string", reply.Text)
	}
	if len(logs.entries) != 0 {
		t.Errorf("got %d log entries, want none for a degraded reply", len(logs.entries))
	}
}

func TestSendProgressCallback(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"wait"}}`))
			return
		}
		w.Write([]byte(`{"type":"message","content":[{"text":"done"}]}`))
	}))
	defer server.Close()

	client, _, _ := newTestClient(&anthropicAdapter{endpoint: server.URL})
	calls := 0
	client.SetProgress(func(elapsedSeconds int) { calls = calls + 1 })

	reply, err := client.Send([]Message{{Role: RoleUser, Content: "go"}}, "claude-3-haiku-20240307")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Text != "done" {
		t.Errorf("reply.Text = %q, want %q", reply.Text, "done")
	}
	// One progress report per retried iteration; the callback must not
	// change retry counting.
	if calls != 2 {
		t.Errorf("progress callbacks = %d, want 2", calls)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestChatCompletionsRateLimitByMessage(t *testing.T) {
	_, _, err := parseChatCompletions("deepseek", http.StatusOK, []byte(`{"error":{"message":"Rate limit exceeded"}}`))

	var rateLimited *RateLimitError
	if !errors.As(err, &rateLimited) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rateLimited.Message != "Rate limit exceeded" {
		t.Errorf("message = %q, want the upstream text", rateLimited.Message)
	}
}
