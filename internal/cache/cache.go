package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"qms/waitless-service/internal/models"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when no snapshot is mirrored for the department.
var ErrMiss = errors.New("cache miss")

// StatsMirror holds the latest queue stats snapshot per department. It is a
// copy for readers outside the database; the ticket table stays authoritative.
type StatsMirror interface {
	Set(ctx context.Context, stats models.QueueStats) error
	Get(ctx context.Context, departmentID string) (models.QueueStats, error)
	Delete(ctx context.Context, departmentID string) error
}

func Key(departmentID string) string {
	return "queue:" + departmentID
}

type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Connect parses a redis:// or rediss:// URL and pings the server before
// handing back the mirror.
func Connect(ctx context.Context, redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("redis connected addr=%s db=%d", opt.Addr, opt.DB)
	return &Redis{client: client}, nil
}

func (r *Redis) Set(ctx context.Context, stats models.QueueStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, Key(stats.DepartmentID), payload, 0).Err()
}

func (r *Redis) Get(ctx context.Context, departmentID string) (models.QueueStats, error) {
	raw, err := r.client.Get(ctx, Key(departmentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.QueueStats{}, ErrMiss
		}
		return models.QueueStats{}, err
	}
	var stats models.QueueStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return models.QueueStats{}, fmt.Errorf("decode stats %s: %w", departmentID, err)
	}
	return stats, nil
}

func (r *Redis) Delete(ctx context.Context, departmentID string) error {
	return r.client.Del(ctx, Key(departmentID)).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Nop is used when no cache is configured; every read misses.
type Nop struct{}

func (Nop) Set(context.Context, models.QueueStats) error { return nil }

func (Nop) Delete(context.Context, string) error { return nil }

func (Nop) Get(context.Context, string) (models.QueueStats, error) {
	return models.QueueStats{}, ErrMiss
}
