package providers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"testing"
	"time"

	"agentdesk/pkg/ai"
	"agentdesk/pkg/config"

	"google.golang.org/genai"
)

type stubGoogleModelsClient struct {
	generateResp *genai.GenerateContentResponse
	generateErr  error
	calls        int

	gotModel    string
	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
}

func (s *stubGoogleModelsClient) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.calls++
	s.gotModel = model
	s.gotContents = contents
	s.gotConfig = cfg
	return s.generateResp, s.generateErr
}

func googleTextResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Role: genai.RoleModel,
					Parts: []*genai.Part{
						{Text: text},
					},
				},
			},
		},
	}
}

func TestNewGoogleProvider_MissingKeyFailsPerCall(t *testing.T) {
	origNewClient := newGoogleClient
	defer func() {
		newGoogleClient = origNewClient
	}()
	newGoogleClient = func(ctx context.Context, cfg *genai.ClientConfig) (*genai.Client, error) {
		t.Fatal("Expected no client without an API key")
		return nil, nil
	}

	cfg := config.Default()
	cfg.LLMProvider = config.ProviderGoogle
	cfg.Providers.Google.APIKey = ""

	provider, err := NewGoogleProvider(ai.ProviderConfig{
		Type:   ai.ProviderGoogle,
		Config: cfg,
	})
	if err != nil {
		t.Fatalf("NewGoogleProvider() error: %v", err)
	}

	_, err = provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{{Role: ai.RoleUser, Content: "hi"}},
	})
	var cfgErr *ai.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *ai.ConfigurationError, got %T (%v)", err, err)
	}
}

func TestNewGoogleProvider_DefaultFallbacks(t *testing.T) {
	origNewClient := newGoogleClient
	defer func() {
		newGoogleClient = origNewClient
	}()

	var gotClientCfg *genai.ClientConfig
	newGoogleClient = func(ctx context.Context, cfg *genai.ClientConfig) (*genai.Client, error) {
		gotClientCfg = cfg
		return &genai.Client{}, nil
	}

	cfg := config.Default()
	cfg.LLMProvider = config.ProviderGoogle
	cfg.Providers.Google.APIKey = "test-google-key"
	cfg.Providers.Google.Model = ""
	cfg.Providers.Google.Temperature = 0.55
	cfg.Providers.Google.MaxTokens = 2048
	cfg.Providers.Google.APITimeoutSeconds = 0

	provider, err := NewGoogleProvider(ai.ProviderConfig{
		Type:   ai.ProviderGoogle,
		Config: cfg,
	})
	if err != nil {
		t.Fatalf("NewGoogleProvider() error: %v", err)
	}

	googleProvider, ok := provider.(*GoogleProvider)
	if !ok {
		t.Fatalf("Expected *GoogleProvider, got %T", provider)
	}
	if gotClientCfg == nil {
		t.Fatal("Expected Google client config to be captured")
	}
	if gotClientCfg.APIKey != "test-google-key" {
		t.Fatalf("Expected API key to be forwarded, got %q", gotClientCfg.APIKey)
	}
	if gotClientCfg.Backend != genai.BackendGeminiAPI {
		t.Fatalf("Expected BackendGeminiAPI, got %q", gotClientCfg.Backend)
	}
	if googleProvider.defaultModel != googleDefaultModel {
		t.Fatalf("Expected default model %q, got %q", googleDefaultModel, googleProvider.defaultModel)
	}
	if googleProvider.defaultTimeout != 60*time.Second {
		t.Fatalf("Expected default timeout 60s, got %s", googleProvider.defaultTimeout)
	}
	if googleProvider.defaultTemperature != 0.55 {
		t.Fatalf("Expected default temperature 0.55, got %f", googleProvider.defaultTemperature)
	}
	if googleProvider.defaultMaxTokens != 2048 {
		t.Fatalf("Expected default max tokens 2048, got %d", googleProvider.defaultMaxTokens)
	}
}

func TestGoogleProvider_Chat_MapsMessages(t *testing.T) {
	stub := &stubGoogleModelsClient{
		generateResp: googleTextResponse("ok"),
	}
	provider := &GoogleProvider{
		models:             stub,
		defaultModel:       "gemini-2.5-flash",
		defaultTemperature: 0.7,
		defaultMaxTokens:   1024,
	}

	temp := 0.2
	maxTokens := 42
	resp, err := provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{
			{Role: "system", Content: "in-band system"},
			{Role: "user", Content: "user prompt"},
			{Role: "model", Content: "model reply"},
			{Role: "assistant", Content: "assistant reply"},
			{Role: "tool", Content: "unknown role maps to user"},
		},
		SystemInstruction: "You are the PM.",
		JSONMode:          true,
		Temperature:       &temp,
		MaxTokens:         &maxTokens,
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}

	if resp.Text != "ok" {
		t.Fatalf("Expected response text %q, got %q", "ok", resp.Text)
	}
	if stub.gotModel != "gemini-2.5-flash" {
		t.Fatalf("Expected default model to be used, got %q", stub.gotModel)
	}
	if len(stub.gotContents) != 4 {
		t.Fatalf("Expected 4 non-system messages, got %d", len(stub.gotContents))
	}

	wantRoles := []string{genai.RoleUser, genai.RoleModel, genai.RoleModel, genai.RoleUser}
	for i, content := range stub.gotContents {
		if content.Role != wantRoles[i] {
			t.Fatalf("Expected content %d role %q, got %q", i, wantRoles[i], content.Role)
		}
	}
	if stub.gotConfig == nil || stub.gotConfig.SystemInstruction == nil {
		t.Fatal("Expected system instruction to be set")
	}
	if got := stub.gotConfig.SystemInstruction.Parts[0].Text; got != "You are the PM.\n\nin-band system" {
		t.Fatalf("Expected merged system instruction, got %q", got)
	}
	if stub.gotConfig.ResponseMIMEType != "application/json" {
		t.Fatalf("Expected JSON response MIME type, got %q", stub.gotConfig.ResponseMIMEType)
	}
	if stub.gotConfig.Temperature == nil {
		t.Fatal("Expected temperature to be set")
	}
	if math.Abs(float64(*stub.gotConfig.Temperature)-0.2) > 0.0001 {
		t.Fatalf("Expected temperature override 0.2, got %f", *stub.gotConfig.Temperature)
	}
	if stub.gotConfig.MaxOutputTokens != 42 {
		t.Fatalf("Expected max output tokens 42, got %d", stub.gotConfig.MaxOutputTokens)
	}
}

func TestGoogleProvider_Chat_Temperature(t *testing.T) {
	zero := 0.0
	tests := []struct {
		name        string
		def         float64
		temperature *float64
		want        *float32
	}{
		{"explicit zero", 0.7, &zero, genai.Ptr(float32(0))},
		{"unset uses default", 0.7, nil, genai.Ptr(float32(0.7))},
		{"unset without default", 0, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubGoogleModelsClient{generateResp: googleTextResponse("ok")}
			provider := &GoogleProvider{
				models:             stub,
				defaultModel:       "gemini-2.5-flash",
				defaultTemperature: tt.def,
			}

			_, err := provider.Chat(context.Background(), ai.ChatRequest{
				Messages:    []ai.ChatMessage{{Role: ai.RoleUser, Content: "hi"}},
				Temperature: tt.temperature,
			})
			if err != nil {
				t.Fatalf("Chat() error: %v", err)
			}

			got := stub.gotConfig.Temperature
			if tt.want == nil {
				if got != nil {
					t.Fatalf("Expected no temperature, got %f", *got)
				}
				return
			}
			if got == nil {
				t.Fatal("Expected temperature to be set")
			}
			if math.Abs(float64(*got-*tt.want)) > 0.0001 {
				t.Fatalf("Expected temperature %f, got %f", *tt.want, *got)
			}
		})
	}
}

func TestGoogleProvider_Chat_SubstitutesForeignModel(t *testing.T) {
	stub := &stubGoogleModelsClient{generateResp: googleTextResponse("ok")}
	provider := &GoogleProvider{models: stub, defaultModel: "gemini-2.5-flash"}

	tests := map[string]string{
		"deepseek-chat":    "gemini-2.5-flash",
		"gpt-4o":           "gemini-2.5-flash",
		"gemini-2.5-pro":   "gemini-2.5-pro",
		"gemma-3-27b-it":   "gemma-3-27b-it",
		"custom-finetuned": "custom-finetuned",
	}
	for requested, want := range tests {
		_, err := provider.Chat(context.Background(), ai.ChatRequest{
			Messages: []ai.ChatMessage{{Role: ai.RoleUser, Content: "hi"}},
			Model:    requested,
		})
		if err != nil {
			t.Fatalf("Chat(%q) error: %v", requested, err)
		}
		if stub.gotModel != want {
			t.Fatalf("Expected model %q for %q, got %q", want, requested, stub.gotModel)
		}
	}
}

func TestGoogleProvider_Chat_Usage(t *testing.T) {
	resp := googleTextResponse("ok")
	resp.UsageMetadata = &genai.GenerateContentResponseUsageMetadata{
		PromptTokenCount:     9,
		CandidatesTokenCount: 3,
	}
	provider := &GoogleProvider{
		models:       &stubGoogleModelsClient{generateResp: resp},
		defaultModel: "gemini-2.5-flash",
	}

	out, err := provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{{Role: ai.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if out.Usage == nil || out.Usage.PromptTokens != 9 || out.Usage.CompletionTokens != 3 {
		t.Fatalf("Expected usage 9/3, got %+v", out.Usage)
	}
}

func TestGoogleProvider_Chat_FiltersThoughtParts(t *testing.T) {
	stub := &stubGoogleModelsClient{
		generateResp: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{
					Content: &genai.Content{
						Role: genai.RoleModel,
						Parts: []*genai.Part{
							{Text: "internal", Thought: true},
							{Text: "visible answer"},
						},
					},
				},
			},
		},
	}
	provider := &GoogleProvider{
		models:       stub,
		defaultModel: "gemini-2.5-flash",
	}

	resp, err := provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Text != "visible answer" {
		t.Fatalf("Expected thought parts to be filtered, got %q", resp.Text)
	}
}

func TestGoogleProvider_Chat_WrapsAPIError(t *testing.T) {
	stub := &stubGoogleModelsClient{
		generateErr: genai.APIError{
			Code:    http.StatusTooManyRequests,
			Message: "Resource has been exhausted (e.g. check quota).",
			Status:  "RESOURCE_EXHAUSTED",
		},
	}
	provider := &GoogleProvider{models: stub, defaultModel: "gemini-2.5-flash"}

	_, err := provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{{Role: ai.RoleUser, Content: "hi"}},
	})
	var provErr *ai.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Expected *ai.ProviderError, got %T", err)
	}
	if provErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", provErr.StatusCode)
	}
	if !ai.IsRateLimit(err) {
		t.Fatal("Expected quota error to be a rate limit")
	}
	if stub.calls != 1 {
		t.Fatalf("Expected exactly 1 call, got %d", stub.calls)
	}
}

func TestGoogleProvider_Chat_WrapsTransportError(t *testing.T) {
	stub := &stubGoogleModelsClient{generateErr: errors.New("connection reset")}
	provider := &GoogleProvider{models: stub, defaultModel: "gemini-2.5-flash"}

	_, err := provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{{Role: ai.RoleUser, Content: "hi"}},
	})
	var provErr *ai.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Expected *ai.ProviderError, got %T", err)
	}
	if provErr.StatusCode != 0 {
		t.Fatalf("Expected no status for transport failure, got %d", provErr.StatusCode)
	}
	if ai.IsRateLimit(err) {
		t.Fatal("Expected transport failure not to be a rate limit")
	}
}

func TestGoogleProvider_Chat_ValidationErrors(t *testing.T) {
	provider := &GoogleProvider{models: &stubGoogleModelsClient{}, defaultModel: "gemini-2.5-flash"}

	if _, err := provider.Chat(context.Background(), ai.ChatRequest{}); err == nil {
		t.Fatal("Expected error for empty messages")
	}
	if _, err := provider.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.ChatMessage{{Role: ai.RoleSystem, Content: "only system"}},
	}); err == nil {
		t.Fatal("Expected error when only system messages are present")
	}
}
