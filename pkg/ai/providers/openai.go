package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agentdesk/pkg/ai"
	"agentdesk/pkg/config"
	"agentdesk/pkg/version"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	deepSeekDefaultAPIURL = "https://api.deepseek.com"
	deepSeekDefaultModel  = "deepseek-chat"

	openAIDefaultAPIURL = "https://api.openai.com/v1"
	openAIDefaultModel  = "gpt-4o-mini"

	openAICompatDefaultTimeout = 60
)

func init() {
	ai.RegisterProvider(ai.ProviderInfo{
		Type:        ai.ProviderDeepSeek,
		Name:        "DeepSeek",
		Description: "DeepSeek chat completions over the OpenAI-compatible REST API",
		Transport:   "rest",
		Family:      ai.FamilyDeepSeek,
	}, NewDeepSeekProvider)

	ai.RegisterProvider(ai.ProviderInfo{
		Type:        ai.ProviderOpenAI,
		Name:        "OpenAI",
		Description: "Direct OpenAI chat completions API access",
		Transport:   "rest",
		Family:      ai.FamilyOpenAI,
	}, NewOpenAIProvider)
}

// OpenAICompatProvider talks to any vendor exposing the OpenAI chat
// completions contract. DeepSeek and OpenAI differ only in base URL, default
// model and model family.
type OpenAICompatProvider struct {
	name               string
	family             ai.ModelFamily
	client             openai.Client
	hasKey             bool
	defaultModel       string
	defaultTemperature float64
	defaultMaxTokens   int
}

type openAICompatVendor struct {
	name          string
	family        ai.ModelFamily
	defaultAPIURL string
	defaultModel  string
}

var (
	deepSeekVendor = openAICompatVendor{
		name:          "DeepSeek",
		family:        ai.FamilyDeepSeek,
		defaultAPIURL: deepSeekDefaultAPIURL,
		defaultModel:  deepSeekDefaultModel,
	}
	openAIVendor = openAICompatVendor{
		name:          "OpenAI",
		family:        ai.FamilyOpenAI,
		defaultAPIURL: openAIDefaultAPIURL,
		defaultModel:  openAIDefaultModel,
	}
)

// NewDeepSeekProvider creates the DeepSeek adapter from config.
func NewDeepSeekProvider(cfg ai.ProviderConfig) (ai.Provider, error) {
	return newOpenAICompatProvider(deepSeekVendor, cfg.Config.Providers.DeepSeek, nil)
}

// NewOpenAIProvider creates the OpenAI adapter from config.
func NewOpenAIProvider(cfg ai.ProviderConfig) (ai.Provider, error) {
	return newOpenAICompatProvider(openAIVendor, cfg.Config.Providers.OpenAI, nil)
}

func newOpenAICompatProvider(vendor openAICompatVendor, settings config.ProviderSettings, httpClient *http.Client) (*OpenAICompatProvider, error) {
	apiKey := strings.TrimSpace(settings.APIKey)

	apiURL := strings.TrimSpace(settings.APIURL)
	if apiURL == "" {
		apiURL = vendor.defaultAPIURL
	}

	model := strings.TrimSpace(settings.Model)
	if model == "" {
		model = vendor.defaultModel
	}

	timeout := settings.APITimeoutSeconds
	if timeout <= 0 {
		timeout = openAICompatDefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}

	opts := []option.RequestOption{
		option.WithBaseURL(apiURL),
		option.WithHTTPClient(httpClient),
		// Retries belong to the service facade.
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", version.UserAgent()),
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	slog.Debug("openai_compat_provider_ready",
		"provider", vendor.name,
		"api_url", apiURL,
		"model", model,
		"has_key", apiKey != "",
	)

	return &OpenAICompatProvider{
		name:               vendor.name,
		family:             vendor.family,
		client:             openai.NewClient(opts...),
		hasKey:             apiKey != "",
		defaultModel:       model,
		defaultTemperature: settings.Temperature,
		defaultMaxTokens:   settings.MaxTokens,
	}, nil
}

// Chat sends a single non-streaming chat completion request.
func (p *OpenAICompatProvider) Chat(ctx context.Context, req ai.ChatRequest) (ai.ChatResponse, error) {
	if !p.hasKey {
		return ai.ChatResponse{}, ai.ErrMissingAPIKey(p.name)
	}

	params, err := p.buildChatParams(req)
	if err != nil {
		return ai.ChatResponse{}, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ai.ChatResponse{}, p.wrapError(err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	out := ai.ChatResponse{
		Text:  content,
		Model: resp.Model,
	}
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		out.Usage = &ai.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		}
	}
	return out, nil
}

func (p *OpenAICompatProvider) buildChatParams(req ai.ChatRequest) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("messages are required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if instruction := strings.TrimSpace(req.SystemInstruction); instruction != "" {
		messages = append(messages, openai.SystemMessage(instruction))
	}
	for _, msg := range req.Messages {
		param, err := toChatMessageParam(msg)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, param)
	}

	model := ai.ResolveModel(req.Model, p.family, p.defaultModel)
	if model != strings.TrimSpace(req.Model) && req.Model != "" {
		slog.Debug("openai_compat_model_substituted",
			"provider", p.name,
			"requested", req.Model,
			"model", model,
		)
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}

	// An explicit request value is sent as is, zero included.
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	} else if p.defaultTemperature > 0 {
		params.Temperature = openai.Float(p.defaultTemperature)
	}

	maxTokens := p.defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	return params, nil
}

func (p *OpenAICompatProvider) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		body := strings.TrimSpace(apiErr.RawJSON())
		if body == "" {
			body = apiErr.Message
		}
		return &ai.ProviderError{
			Provider:   p.name,
			StatusCode: apiErr.StatusCode,
			Body:       body,
			Err:        err,
		}
	}
	return &ai.ProviderError{Provider: p.name, Err: err}
}

// toChatMessageParam maps a log role onto the OpenAI role set. The internal
// "model" token always leaves as "assistant".
func toChatMessageParam(msg ai.ChatMessage) (openai.ChatCompletionMessageParamUnion, error) {
	role := strings.ToLower(strings.TrimSpace(msg.Role))
	switch role {
	case ai.RoleSystem:
		return openai.SystemMessage(msg.Content), nil
	case ai.RoleUser:
		return openai.UserMessage(msg.Content), nil
	case ai.RoleAssistant, ai.RoleModel:
		return openai.AssistantMessage(msg.Content), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported role: %s", msg.Role)
	}
}

// Ensure interface compliance
var _ ai.Provider = (*OpenAICompatProvider)(nil)
