package session

import (
	"context"
	"fmt"

	"agentdesk/pkg/config"
)

// Store persists sessions and their append-only message logs. Messages are
// never edited except for the collapse flag.
type Store interface {
	Create(ctx context.Context, s *ChatSession) error
	// Get returns the session including its messages.
	Get(ctx context.Context, id string) (ChatSession, error)
	// List returns session metadata without messages, most recently updated
	// first.
	List(ctx context.Context) ([]ChatSession, error)
	Delete(ctx context.Context, id string) error
	Append(ctx context.Context, id string, msgs ...Message) error
	Messages(ctx context.Context, id string) ([]Message, error)
	SetStatus(ctx context.Context, id string, status Status) error
	// BeginRun atomically moves an idle session to status and fails with
	// ErrBusy otherwise. The holder releases it with SetStatus(StatusIdle).
	BeginRun(ctx context.Context, id string, status Status) error
	SetMembers(ctx context.Context, id string, members []string) error
	// ToggleCollapse flips the collapse flag of the message at index and
	// returns the new value.
	ToggleCollapse(ctx context.Context, id string, index int) (bool, error)
	Close() error
}

// Open returns the store selected by cfg.
func Open(cfg config.SessionStoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.StoreMemory, "":
		return NewMemoryStore(), nil
	case config.StoreRedis:
		return NewRedisStore(RedisConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unsupported session store driver: %s", cfg.Driver)
	}
}
