package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"agentdesk/pkg/ai"
	"agentdesk/pkg/config"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(rt roundTripperFunc) *http.Client {
	return &http.Client{Transport: rt}
}

func newHTTPResponse(req *http.Request, status int, contentType string, body []byte) *http.Response {
	resp := &http.Response{
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}
	if contentType != "" {
		resp.Header.Set("Content-Type", contentType)
	}
	return resp
}

func newJSONResponse(t *testing.T, req *http.Request, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return newHTTPResponse(req, status, "application/json", data)
}

func completionPayload(model, content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   model,
		"choices": []any{
			map[string]any{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     12,
			"completion_tokens": 5,
			"total_tokens":      17,
		},
	}
}

func deepSeekSettings() config.ProviderSettings {
	return config.ProviderSettings{
		APIKey:            "test-key",
		APIURL:            "https://deepseek.test",
		Model:             deepSeekDefaultModel,
		Temperature:       1.0,
		APITimeoutSeconds: 5,
	}
}

func TestDeepSeekProvider_Chat(t *testing.T) {
	var gotPath string
	var gotAuth string
	var gotPayload map[string]any

	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		gotPath = req.URL.Path
		gotAuth = req.Header.Get("Authorization")
		if err := json.NewDecoder(req.Body).Decode(&gotPayload); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		_ = req.Body.Close()
		return newJSONResponse(t, req, http.StatusOK, completionPayload("deepseek-chat", "Bonjour")), nil
	})

	provider, err := newOpenAICompatProvider(deepSeekVendor, deepSeekSettings(), client)
	if err != nil {
		t.Fatalf("newOpenAICompatProvider() error: %v", err)
	}

	resp, err := provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{
			{Role: ai.RoleUser, Content: "hi"},
			{Role: ai.RoleModel, Content: "hello"},
			{Role: ai.RoleUser, Content: "Translate 'hello' to French"},
		},
		SystemInstruction: "You are a translator.",
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}

	if resp.Text != "Bonjour" {
		t.Fatalf("Expected text 'Bonjour', got %q", resp.Text)
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 5 {
		t.Fatalf("Expected usage 12/5, got %+v", resp.Usage)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("Expected path '/chat/completions', got %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("Expected Authorization header, got %q", gotAuth)
	}

	messages, ok := gotPayload["messages"].([]any)
	if !ok || len(messages) != 4 {
		t.Fatalf("Expected 4 messages, got %v", gotPayload["messages"])
	}
	wantRoles := []string{"system", "user", "assistant", "user"}
	for i, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			t.Fatalf("Expected message object, got %T", raw)
		}
		if msg["role"] != wantRoles[i] {
			t.Fatalf("Expected role %q at %d, got %v", wantRoles[i], i, msg["role"])
		}
	}
	if first := messages[0].(map[string]any); first["content"] != "You are a translator." {
		t.Fatalf("Expected system instruction first, got %v", first["content"])
	}

	if temp, _ := gotPayload["temperature"].(float64); temp != 1.0 {
		t.Fatalf("Expected default temperature 1.0, got %v", gotPayload["temperature"])
	}
	if _, ok := gotPayload["response_format"]; ok {
		t.Fatalf("Expected no response_format without JSON mode, got %v", gotPayload["response_format"])
	}
}

func TestDeepSeekProvider_NeverSendsModelRole(t *testing.T) {
	var body string
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
		return newJSONResponse(t, req, http.StatusOK, completionPayload("deepseek-chat", "ok")), nil
	})

	provider, err := newOpenAICompatProvider(deepSeekVendor, deepSeekSettings(), client)
	if err != nil {
		t.Fatalf("newOpenAICompatProvider() error: %v", err)
	}

	_, err = provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{
			{Role: ai.RoleModel, Content: "earlier reply"},
			{Role: ai.RoleUser, Content: "next"},
		},
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if strings.Contains(body, `"role":"model"`) {
		t.Fatalf("Expected no 'model' role on the wire, got %s", body)
	}
}

func TestDeepSeekProvider_JSONModeAndModelSubstitution(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		wantModel string
	}{
		{"foreign gemini", "gemini-2.5-flash", "deepseek-chat"},
		{"foreign gpt", "gpt-4o", "deepseek-chat"},
		{"empty", "", "deepseek-chat"},
		{"native", "deepseek-reasoner", "deepseek-reasoner"},
		{"unknown passes through", "my-finetune", "my-finetune"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPayload map[string]any
			client := newTestClient(func(req *http.Request) (*http.Response, error) {
				if err := json.NewDecoder(req.Body).Decode(&gotPayload); err != nil {
					t.Fatalf("failed to decode request body: %v", err)
				}
				return newJSONResponse(t, req, http.StatusOK, completionPayload(tt.wantModel, `{"action":"ASK","content":"?"}`)), nil
			})

			provider, err := newOpenAICompatProvider(deepSeekVendor, deepSeekSettings(), client)
			if err != nil {
				t.Fatalf("newOpenAICompatProvider() error: %v", err)
			}

			_, err = provider.Chat(context.Background(), ai.ChatRequest{
				Messages: []ai.ChatMessage{{Role: ai.RoleUser, Content: "plan"}},
				Model:    tt.requested,
				JSONMode: true,
			})
			if err != nil {
				t.Fatalf("Chat() error: %v", err)
			}

			if gotPayload["model"] != tt.wantModel {
				t.Fatalf("Expected model %q, got %v", tt.wantModel, gotPayload["model"])
			}
			format, ok := gotPayload["response_format"].(map[string]any)
			if !ok || format["type"] != "json_object" {
				t.Fatalf("Expected response_format json_object, got %v", gotPayload["response_format"])
			}
		})
	}
}

func TestDeepSeekProvider_RequestOverrides(t *testing.T) {
	zero := 0.0
	low := 0.25
	tests := []struct {
		name        string
		temperature *float64
		want        float64
	}{
		{"override", &low, 0.25},
		{"explicit zero", &zero, 0},
		{"unset uses configured default", nil, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPayload map[string]any
			client := newTestClient(func(req *http.Request) (*http.Response, error) {
				if err := json.NewDecoder(req.Body).Decode(&gotPayload); err != nil {
					t.Fatalf("failed to decode request body: %v", err)
				}
				return newJSONResponse(t, req, http.StatusOK, completionPayload("deepseek-chat", "ok")), nil
			})

			provider, err := newOpenAICompatProvider(deepSeekVendor, deepSeekSettings(), client)
			if err != nil {
				t.Fatalf("newOpenAICompatProvider() error: %v", err)
			}

			maxTokens := 64
			_, err = provider.Chat(context.Background(), ai.ChatRequest{
				Messages:    []ai.ChatMessage{{Role: ai.RoleUser, Content: "hi"}},
				Temperature: tt.temperature,
				MaxTokens:   &maxTokens,
			})
			if err != nil {
				t.Fatalf("Chat() error: %v", err)
			}

			raw, ok := gotPayload["temperature"]
			if !ok {
				t.Fatalf("Expected temperature in payload, got %v", gotPayload)
			}
			if got, _ := raw.(float64); got != tt.want {
				t.Fatalf("Expected temperature %v, got %v", tt.want, raw)
			}
			if got, _ := gotPayload["max_tokens"].(float64); got != 64 {
				t.Fatalf("Expected max_tokens 64, got %v", gotPayload["max_tokens"])
			}
		})
	}
}

func TestOpenAICompatProvider_NoTemperatureWithoutDefault(t *testing.T) {
	var gotPayload map[string]any
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(req.Body).Decode(&gotPayload); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		return newJSONResponse(t, req, http.StatusOK, completionPayload("deepseek-chat", "ok")), nil
	})

	settings := deepSeekSettings()
	settings.Temperature = 0
	provider, err := newOpenAICompatProvider(deepSeekVendor, settings, client)
	if err != nil {
		t.Fatalf("newOpenAICompatProvider() error: %v", err)
	}

	_, err = provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{{Role: ai.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if _, ok := gotPayload["temperature"]; ok {
		t.Fatalf("Expected no temperature, got %v", gotPayload["temperature"])
	}
}

func TestDeepSeekProvider_RateLimitBecomesProviderError(t *testing.T) {
	calls := 0
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		calls++
		return newJSONResponse(t, req, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{
				"message": "Rate limit reached",
				"type":    "rate_limit_error",
			},
		}), nil
	})

	provider, err := newOpenAICompatProvider(deepSeekVendor, deepSeekSettings(), client)
	if err != nil {
		t.Fatalf("newOpenAICompatProvider() error: %v", err)
	}

	_, err = provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{{Role: ai.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Expected error for 429 response")
	}

	var provErr *ai.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Expected *ai.ProviderError, got %T", err)
	}
	if provErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", provErr.StatusCode)
	}
	if !ai.IsRateLimit(err) {
		t.Fatal("Expected rate limit to be detected")
	}
	if calls != 1 {
		t.Fatalf("Expected adapter to make exactly 1 call, got %d", calls)
	}
}

func TestDeepSeekProvider_ServerErrorIsNotRateLimit(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return newJSONResponse(t, req, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"message": "invalid messages"},
		}), nil
	})

	provider, err := newOpenAICompatProvider(deepSeekVendor, deepSeekSettings(), client)
	if err != nil {
		t.Fatalf("newOpenAICompatProvider() error: %v", err)
	}

	_, err = provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{{Role: ai.RoleUser, Content: "hi"}},
	})
	var provErr *ai.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Expected *ai.ProviderError, got %T", err)
	}
	if provErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", provErr.StatusCode)
	}
	if ai.IsRateLimit(err) {
		t.Fatal("Expected 400 not to be treated as rate limit")
	}
}

func TestOpenAICompatProvider_MissingKey(t *testing.T) {
	called := false
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		called = true
		return newJSONResponse(t, req, http.StatusOK, completionPayload("gpt-4o-mini", "ok")), nil
	})

	settings := deepSeekSettings()
	settings.APIKey = "  "
	provider, err := newOpenAICompatProvider(openAIVendor, settings, client)
	if err != nil {
		t.Fatalf("newOpenAICompatProvider() error: %v", err)
	}

	_, err = provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{{Role: ai.RoleUser, Content: "hi"}},
	})
	var cfgErr *ai.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *ai.ConfigurationError, got %T (%v)", err, err)
	}
	if called {
		t.Fatal("Expected no network call without an API key")
	}
}

func TestOpenAICompatProvider_ValidationErrors(t *testing.T) {
	provider, err := newOpenAICompatProvider(openAIVendor, deepSeekSettings(), newTestClient(func(req *http.Request) (*http.Response, error) {
		t.Fatal("Expected no request for invalid input")
		return nil, nil
	}))
	if err != nil {
		t.Fatalf("newOpenAICompatProvider() error: %v", err)
	}

	if _, err := provider.Chat(context.Background(), ai.ChatRequest{}); err == nil {
		t.Fatal("Expected error for empty messages")
	}
	if _, err := provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{{Role: "tool", Content: "x"}},
	}); err == nil {
		t.Fatal("Expected error for unsupported role")
	}
}

func TestToChatMessageParam(t *testing.T) {
	for _, role := range []string{"system", "user", "assistant", "model", " Model "} {
		if _, err := toChatMessageParam(ai.ChatMessage{Role: role, Content: "x"}); err != nil {
			t.Fatalf("Expected role %q to be accepted, got %v", role, err)
		}
	}
	if _, err := toChatMessageParam(ai.ChatMessage{Role: "critic", Content: "x"}); err == nil {
		t.Fatal("Expected unsupported role error")
	}
}

func TestRegisteredProviders(t *testing.T) {
	for _, pt := range ai.SupportedProviders() {
		if !ai.DefaultRegistry.IsRegistered(pt) {
			t.Fatalf("Expected provider %q to be registered", pt)
		}
	}

	cfg := config.Default()
	cfg.LLMProvider = config.ProviderOpenAI
	provider, err := ai.DefaultRegistry.ProviderFromConfig(cfg)
	if err != nil {
		t.Fatalf("ProviderFromConfig() error: %v", err)
	}
	compat, ok := provider.(*OpenAICompatProvider)
	if !ok {
		t.Fatalf("Expected *OpenAICompatProvider, got %T", provider)
	}
	if compat.defaultModel != "gpt-4o-mini" || compat.family != ai.FamilyOpenAI {
		t.Fatalf("Expected OpenAI defaults, got model=%q family=%q", compat.defaultModel, compat.family)
	}
	if compat.hasKey {
		t.Fatal("Expected default config to carry no key")
	}
}
