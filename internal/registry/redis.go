package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Redis struct {
	client *redis.Client
}

// NewRedis connects to the registry at url, for example
// redis://127.0.0.1:6379/0.
func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Redis{client: redis.NewClient(opt)}, nil
}

func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) MarkAvailable(ctx context.Context, workerID, baseURL string) error {
	return r.set(ctx, workerID, Entry{BaseURL: baseURL, State: StateAvailable})
}

func (r *Redis) MarkBusy(ctx context.Context, workerID, baseURL string) error {
	return r.set(ctx, workerID, Entry{BaseURL: baseURL, State: StateBusy})
}

func (r *Redis) set(ctx context.Context, workerID string, e Entry) error {
	data, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("marshal registry entry: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, Key(workerID), data, 0)
		if e.State == StateAvailable {
			pipe.SAdd(ctx, AvailableKey, workerID)
		} else {
			pipe.SRem(ctx, AvailableKey, workerID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", workerID, e.State, err)
	}
	return nil
}

func (r *Redis) MarkOffline(ctx context.Context, workerID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, Key(workerID))
		pipe.SRem(ctx, AvailableKey, workerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark %s offline: %w", workerID, err)
	}
	return nil
}

func (r *Redis) Lookup(ctx context.Context, workerID string) (Entry, error) {
	data, err := r.client.Get(ctx, Key(workerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup %s: %w", workerID, err)
	}

	var e Entry
	if err := e.Unmarshal(data); err != nil {
		return Entry{}, fmt.Errorf("decode registry entry %s: %w", workerID, err)
	}
	return e, nil
}

func (r *Redis) IsAvailable(ctx context.Context, workerID string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, AvailableKey, workerID).Result()
	if err != nil {
		return false, fmt.Errorf("check availability %s: %w", workerID, err)
	}
	return ok, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
