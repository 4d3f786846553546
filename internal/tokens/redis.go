package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis backs admission tokens with TTL'd keys, so several coordinator
// instances behind one portal agree on who has been admitted.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func NewRedisClient(ctx context.Context, addr, username, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func redisKey(roomID, userID string) string {
	return "visit:admission:" + roomID + ":" + userID
}

func (r *Redis) Issue(ctx context.Context, roomID, userID string) (string, error) {
	token := uuid.New().String()
	if err := r.client.Set(ctx, redisKey(roomID, userID), token, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("set admission token: %w", err)
	}
	return token, nil
}

// Redeem removes the key first and compares after, so a token can be spent at
// most once even under concurrent redemption attempts.
func (r *Redis) Redeem(ctx context.Context, roomID, userID, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	stored, err := r.client.GetDel(ctx, redisKey(roomID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("getdel admission token: %w", err)
	}
	return stored == token, nil
}
