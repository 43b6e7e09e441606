package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/redis/go-redis/v9"
)

type timeLockStore struct {
	client *redis.Client
}

// Get retrieves the time-lock policy document
func (s *timeLockStore) Get(ctx context.Context) (*storage.TimeLockPolicy, error) {
	data, err := s.client.Get(ctx, keyTimeLock).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var policy storage.TimeLockPolicy
	if err := json.Unmarshal([]byte(data), &policy); err != nil {
		return nil, fmt.Errorf("unmarshal time-lock policy: %w", err)
	}
	return &policy, nil
}

// Put overwrites the time-lock policy document
func (s *timeLockStore) Put(ctx context.Context, policy storage.TimeLockPolicy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("marshal time-lock policy: %w", err)
	}
	return s.client.Set(ctx, keyTimeLock, data, 0).Err()
}

type policyStore struct {
	client *redis.Client
}

// Get retrieves the global policy document
func (s *policyStore) Get(ctx context.Context) (*storage.GlobalPolicy, error) {
	data, err := s.client.HGetAll(ctx, keyPolicy).Result()
	if err != nil {
		return nil, err
	}
	return parseGlobalPolicy(data)
}

// Put overwrites the global policy document
func (s *policyStore) Put(ctx context.Context, policy storage.GlobalPolicy) error {
	return s.client.HSet(ctx, keyPolicy, map[string]interface{}{
		"daily_reset_time":             policy.DailyResetTime,
		"emergency_extra_seconds":      policy.EmergencyExtraSeconds,
		"pending_grace_seconds":        policy.PendingGraceSeconds,
		"emergency_restart_used_today": boolField(policy.EmergencyRestartUsedToday),
		"emergency_restart_used_date":  policy.EmergencyRestartUsedDate,
	}).Err()
}

// ClaimEmergencyRestart atomically consumes the day's global allowance
func (s *policyStore) ClaimEmergencyRestart(ctx context.Context, date string) (bool, error) {
	script := redis.NewScript(claimEmergencyRestartScript)

	result, err := script.Run(ctx, s.client, []string{keyPolicy}, date).Int64()
	if err != nil {
		return false, err
	}
	if result < 0 {
		return false, storage.ErrNotFound
	}
	return result == 1, nil
}

// ClearEmergencyRestart releases the global allowance
func (s *policyStore) ClearEmergencyRestart(ctx context.Context) error {
	exists, err := s.client.Exists(ctx, keyPolicy).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return storage.ErrNotFound
	}
	return s.client.HSet(ctx, keyPolicy, "emergency_restart_used_today", "0").Err()
}
