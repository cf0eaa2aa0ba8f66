package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisService provides Redis connection and operations: per-user advisory
// locks for graph merges and pub/sub notifications for new insights.
type RedisService struct {
	client     *redis.Client
	instanceID string
}

const (
	graphLockPrefix    = "introspect:graph-lock:"
	graphLockTTL       = 30 * time.Second
	InsightChannel     = "introspect:insights"
	lockRetryInterval  = 100 * time.Millisecond
	lockAcquireTimeout = 10 * time.Second
)

// NewRedisService creates a new Redis service instance
func NewRedisService(redisURL string) (*RedisService, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Println("✅ Redis connection established")

	return &RedisService{
		client:     client,
		instanceID: uuid.New().String(),
	}, nil
}

// AcquireGraphLock takes the advisory lock serializing graph writes for one
// user across instances. Blocks until acquired or the timeout elapses.
func (s *RedisService) AcquireGraphLock(ctx context.Context, userID string) error {
	key := graphLockPrefix + userID
	deadline := time.Now().Add(lockAcquireTimeout)

	for {
		ok, err := s.client.SetNX(ctx, key, s.instanceID, graphLockTTL).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire graph lock: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for graph lock (user %s)", userID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// ReleaseGraphLock releases the per-user graph lock if this instance holds it.
func (s *RedisService) ReleaseGraphLock(ctx context.Context, userID string) {
	key := graphLockPrefix + userID

	// Only delete our own lock; an expired lock may have been re-acquired
	// by another instance.
	holder, err := s.client.Get(ctx, key).Result()
	if err != nil || holder != s.instanceID {
		return
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		log.Printf("⚠️ [REDIS] Failed to release graph lock for %s: %v", userID, err)
	}
}

// PublishInsightEvent notifies subscribers that new insights exist for a user.
func (s *RedisService) PublishInsightEvent(ctx context.Context, userID string, count int) {
	payload := fmt.Sprintf(`{"user_id":%q,"new_insights":%d}`, userID, count)
	if err := s.client.Publish(ctx, InsightChannel, payload).Err(); err != nil {
		log.Printf("⚠️ [REDIS] Failed to publish insight event: %v", err)
	}
}

// Close closes the Redis connection
func (s *RedisService) Close() error {
	return s.client.Close()
}

// userLocks supplements the Redis advisory lock with an in-process mutex map
// so that merges within one instance never race while the distributed lock
// is being refreshed.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

func (ul *userLocks) get(userID string) *sync.Mutex {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	if m, ok := ul.locks[userID]; ok {
		return m
	}
	m := &sync.Mutex{}
	ul.locks[userID] = m
	return m
}
