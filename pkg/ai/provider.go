package ai

import "context"

// Provider defines the LLM interface implemented by every vendor adapter.
// Adapters are stateless per call and never retry.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
