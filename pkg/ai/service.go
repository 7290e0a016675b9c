package ai

import (
	"context"
	"log/slog"
	"time"

	"agentdesk/pkg/config"
)

const (
	DefaultMaxRetries = 2
	DefaultBackoff    = 5 * time.Second
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Service is the single entry point for chat calls. It owns the provider
// chosen at startup and the rate-limit retry policy.
type Service struct {
	provider   Provider
	name       string
	configured bool
	maxRetries int
	backoff    time.Duration
	sleep      Sleeper
	logger     *slog.Logger
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithRetryPolicy sets the retry budget and the fixed backoff interval.
func WithRetryPolicy(maxRetries int, backoff time.Duration) ServiceOption {
	return func(s *Service) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

// WithSleeper replaces the backoff wait, mostly for tests.
func WithSleeper(sleep Sleeper) ServiceOption {
	return func(s *Service) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProviderName labels the provider in logs.
func WithProviderName(name string) ServiceOption {
	return func(s *Service) {
		s.name = name
	}
}

// WithConfigured records whether a credential is present.
func WithConfigured(configured bool) ServiceOption {
	return func(s *Service) {
		s.configured = configured
	}
}

// NewService wraps provider with the retry policy.
func NewService(provider Provider, opts ...ServiceOption) *Service {
	s := &Service{
		provider:   provider,
		name:       "custom",
		configured: true,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		sleep:      sleepContext,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info("llm_service_provider_selected",
		"provider", s.name,
		"configured", s.configured,
		"max_retries", s.maxRetries,
		"backoff", s.backoff,
	)
	return s
}

// NewServiceFromConfig resolves the provider and credential once from cfg
// using the given registry.
func NewServiceFromConfig(registry *Registry, cfg config.Config, opts ...ServiceOption) (*Service, error) {
	if registry == nil {
		registry = DefaultRegistry
	}
	provider, err := registry.ProviderFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	base := []ServiceOption{
		WithProviderName(cfg.LLMProvider),
		WithConfigured(cfg.HasAPIKey()),
		WithRetryPolicy(cfg.Retry.MaxRetries, time.Duration(cfg.Retry.BackoffMS)*time.Millisecond),
	}
	return NewService(provider, append(base, opts...)...), nil
}

// Configured reports whether the active provider has a credential.
func (s *Service) Configured() bool {
	return s.configured
}

// ProviderName returns the configured provider label.
func (s *Service) ProviderName() string {
	return s.name
}

// Chat sends req with the default retry budget.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return s.ChatWithRetries(ctx, req, s.maxRetries)
}

// ChatWithRetries sends req, retrying only rate-limit failures after a fixed
// backoff until retries is exhausted. Any other error is returned at once.
func (s *Service) ChatWithRetries(ctx context.Context, req ChatRequest, retries int) (ChatResponse, error) {
	attempt := 0
	for {
		attempt++
		resp, err := s.provider.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}

		if IsRateLimit(err) && retries > 0 {
			s.logger.Warn("llm_service_rate_limited",
				"provider", s.name,
				"attempt", attempt,
				"retries_left", retries,
				"backoff", s.backoff,
				"error", err,
			)
			if waitErr := s.sleep(ctx, s.backoff); waitErr != nil {
				return ChatResponse{}, waitErr
			}
			retries--
			continue
		}

		s.logger.Error("llm_service_error",
			"provider", s.name,
			"attempt", attempt,
			"error", err,
		)
		return ChatResponse{}, err
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
