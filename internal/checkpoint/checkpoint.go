// Package checkpoint persists research state snapshots to Redis so an
// abandoned or crashed run can be inspected and resumed post-mortem.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quarry-ai/quarry/internal/research"
)

const keyPrefix = "quarry:run:"

// Store writes state snapshots under quarry:run:<id>:state with a TTL.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore connects to Redis and verifies the connection.
func NewStore(addr, password string, ttl time.Duration, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl, logger: logger}, nil
}

// NewStoreWithClient wraps an existing client; used by tests.
func NewStoreWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl, logger: logger}
}

// Save persists the snapshot, refreshing the TTL.
func (s *Store) Save(ctx context.Context, st research.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	key := stateKey(st.RunID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.logger.Debug("Checkpoint saved",
		zap.String("run_id", st.RunID),
		zap.Int("cycle", st.Cycle),
	)
	return nil
}

// Load retrieves the latest snapshot for a run. A missing key returns
// redis.Nil wrapped in the error chain.
func (s *Store) Load(ctx context.Context, runID string) (research.State, error) {
	var st research.State
	data, err := s.client.Get(ctx, stateKey(runID)).Bytes()
	if err != nil {
		return st, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode checkpoint %s: %w", runID, err)
	}
	return st, nil
}

// Delete removes a run's checkpoint, normally after a clean finish.
func (s *Store) Delete(ctx context.Context, runID string) error {
	return s.client.Del(ctx, stateKey(runID)).Err()
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func stateKey(runID string) string {
	return keyPrefix + runID + ":state"
}
