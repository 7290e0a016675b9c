package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "agentdesk"
	maxTxAttempts      = 5
)

// RedisConfig holds the connection parameters of the Redis session store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps session metadata as a JSON string and the message log
// as a Redis list, so appends stay ordered without rewriting the log.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}, nil
}

func (r *RedisStore) sessionKey(id string) string {
	return r.prefix + ":session:" + id
}

func (r *RedisStore) messagesKey(id string) string {
	return r.prefix + ":session:" + id + ":messages"
}

func (r *RedisStore) indexKey() string {
	return r.prefix + ":sessions"
}

// Create implements Store.
func (r *RedisStore) Create(ctx context.Context, s *ChatSession) error {
	if s == nil {
		return errors.New("session cannot be nil")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	meta := cloneSession(s)
	msgs := meta.Messages
	meta.Messages = nil
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = r.now()
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = meta.CreatedAt
	}
	if meta.Status == "" {
		meta.Status = StatusIdle
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	encoded, err := encodeMessages(msgs)
	if err != nil {
		return err
	}

	// The metadata key, the index entry and the log are written in one
	// transaction; a concurrent create of the same id aborts it.
	err = r.watch(ctx, s.ID, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, r.sessionKey(s.ID)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.sessionKey(s.ID), data, 0)
			pipe.SAdd(ctx, r.indexKey(), s.ID)
			if len(encoded) > 0 {
				pipe.RPush(ctx, r.messagesKey(s.ID), encoded...)
			}
			return nil
		})
		return err
	})
	if errors.Is(err, ErrConflict) {
		return err
	}
	if err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}
	return nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, id string) (ChatSession, error) {
	meta, err := r.loadMeta(ctx, r.client, id)
	if err != nil {
		return ChatSession{}, err
	}
	msgs, err := r.Messages(ctx, id)
	if err != nil {
		return ChatSession{}, err
	}
	meta.Messages = msgs
	return meta, nil
}

// List implements Store.
func (r *RedisStore) List(ctx context.Context) ([]ChatSession, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}
	if len(ids) == 0 {
		return []ChatSession{}, nil
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.Get(ctx, r.sessionKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}

	out := make([]ChatSession, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis list sessions: %w", err)
		}
		var s ChatSession
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
		out = append(out, s)
	}
	sortSessions(out)
	return out, nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, r.sessionKey(id))
		pipe.Del(ctx, r.messagesKey(id))
		pipe.SRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	if removed.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Append implements Store. The session key is watched so an append racing
// a delete fails with ErrNotFound instead of resurrecting the log.
func (r *RedisStore) Append(ctx context.Context, id string, msgs ...Message) error {
	added := cloneMessages(msgs)
	return r.update(ctx, id, func(meta *ChatSession, pipe redis.Pipeliner) error {
		applyAppend(meta, added, r.now())
		encoded, err := encodeMessages(added)
		if err != nil {
			return err
		}
		if len(encoded) > 0 {
			pipe.RPush(ctx, r.messagesKey(id), encoded...)
		}
		return nil
	})
}

// Messages implements Store.
func (r *RedisStore) Messages(ctx context.Context, id string) ([]Message, error) {
	exists, err := r.client.Exists(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read messages: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}
	raw, err := r.client.LRange(ctx, r.messagesKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read messages: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// SetStatus implements Store.
func (r *RedisStore) SetStatus(ctx context.Context, id string, status Status) error {
	return r.update(ctx, id, func(meta *ChatSession, _ redis.Pipeliner) error {
		meta.Status = status
		return nil
	})
}

// BeginRun implements Store. The status check and the write share one
// WATCH transaction, so two processes cannot both claim the session.
func (r *RedisStore) BeginRun(ctx context.Context, id string, status Status) error {
	return r.update(ctx, id, func(meta *ChatSession, _ redis.Pipeliner) error {
		if !meta.Status.Idle() {
			return ErrBusy
		}
		meta.Status = status
		return nil
	})
}

// SetMembers implements Store.
func (r *RedisStore) SetMembers(ctx context.Context, id string, members []string) error {
	return r.update(ctx, id, func(meta *ChatSession, _ redis.Pipeliner) error {
		meta.Members = append([]string(nil), members...)
		if err := meta.Validate(); err != nil {
			return err
		}
		meta.UpdatedAt = r.now()
		return nil
	})
}

// ToggleCollapse implements Store.
func (r *RedisStore) ToggleCollapse(ctx context.Context, id string, index int) (bool, error) {
	var collapsed bool
	err := r.watch(ctx, id, func(tx *redis.Tx) error {
		if _, err := r.loadMeta(ctx, tx, id); err != nil {
			return err
		}
		if index < 0 {
			return ErrNoSuchIndex
		}
		raw, err := tx.LIndex(ctx, r.messagesKey(id), int64(index)).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNoSuchIndex
		}
		if err != nil {
			return fmt.Errorf("redis read message: %w", err)
		}
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return fmt.Errorf("unmarshal message: %w", err)
		}
		m.IsCollapsed = !m.IsCollapsed
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LSet(ctx, r.messagesKey(id), int64(index), data)
			return nil
		})
		if err != nil {
			return err
		}
		collapsed = m.IsCollapsed
		return nil
	}, r.messagesKey(id))
	return collapsed, err
}

// Close implements Store.
func (r *RedisStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// update loads the session metadata under WATCH, lets fn mutate it and
// queue extra commands, then writes it back in one transaction.
func (r *RedisStore) update(ctx context.Context, id string, fn func(meta *ChatSession, pipe redis.Pipeliner) error) error {
	return r.watch(ctx, id, func(tx *redis.Tx) error {
		meta, err := r.loadMeta(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := fn(&meta, pipe); err != nil {
				return err
			}
			data, err := json.Marshal(meta)
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}
			pipe.Set(ctx, r.sessionKey(id), data, 0)
			return nil
		})
		return err
	})
}

func (r *RedisStore) watch(ctx context.Context, id string, fn func(tx *redis.Tx) error, extraKeys ...string) error {
	keys := append([]string{r.sessionKey(id)}, extraKeys...)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := r.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis update session %s: too much contention", id)
}

func (r *RedisStore) loadMeta(ctx context.Context, c stringGetter, id string) (ChatSession, error) {
	data, err := c.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ChatSession{}, ErrNotFound
	}
	if err != nil {
		return ChatSession{}, fmt.Errorf("redis read session: %w", err)
	}
	var s ChatSession
	if err := json.Unmarshal(data, &s); err != nil {
		return ChatSession{}, fmt.Errorf("unmarshal session: %w", err)
	}
	s.Messages = nil
	return s, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func encodeMessages(msgs []Message) ([]any, error) {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal message: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

var _ Store = (*RedisStore)(nil)
