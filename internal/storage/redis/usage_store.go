package redis

import (
	"context"
	"time"

	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/redis/go-redis/v9"
)

type usageStore struct {
	client *redis.Client
}

// Get retrieves the record for a domain and date
func (s *usageStore) Get(ctx context.Context, domain, date string) (*storage.DayUsage, error) {
	data, err := s.client.HGetAll(ctx, usageKey(date, domain)).Result()
	if err != nil {
		return nil, err
	}
	return parseDayUsage(data)
}

// Put overwrites the record for a domain and date
func (s *usageStore) Put(ctx context.Context, rec storage.DayUsage) error {
	key := usageKey(rec.Date, rec.Domain)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, dayUsageFields(rec))
	pipe.SAdd(ctx, usageDateIndex(rec.Date), rec.Domain)
	pipe.SAdd(ctx, usageDomainIndex(rec.Domain), rec.Date)
	pipe.SAdd(ctx, keyUsageDates, rec.Date)
	_, err := pipe.Exec(ctx)
	return err
}

// ListByDate returns all records for a calendar day
func (s *usageStore) ListByDate(ctx context.Context, date string) ([]storage.DayUsage, error) {
	domains, err := s.client.SMembers(ctx, usageDateIndex(date)).Result()
	if err != nil {
		return nil, err
	}

	records := make([]storage.DayUsage, 0, len(domains))
	for _, domain := range domains {
		data, err := s.client.HGetAll(ctx, usageKey(date, domain)).Result()
		if err != nil || len(data) == 0 {
			continue
		}
		rec, err := parseDayUsage(data)
		if err == nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// ListByDomainSince returns a domain's records on or after sinceDate
func (s *usageStore) ListByDomainSince(ctx context.Context, domain, sinceDate string) ([]storage.DayUsage, error) {
	dates, err := s.client.SMembers(ctx, usageDomainIndex(domain)).Result()
	if err != nil {
		return nil, err
	}

	records := make([]storage.DayUsage, 0, len(dates))
	for _, date := range dates {
		if date < sinceDate {
			continue
		}
		data, err := s.client.HGetAll(ctx, usageKey(date, domain)).Result()
		if err != nil || len(data) == 0 {
			continue
		}
		rec, err := parseDayUsage(data)
		if err == nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// IncrementUsed atomically adds seconds, creating the record if absent
func (s *usageStore) IncrementUsed(ctx context.Context, domain, date string, seconds int64) (int64, error) {
	script := redis.NewScript(incrementUsageScript)

	keys := []string{
		usageKey(date, domain),
		usageDateIndex(date),
		usageDomainIndex(domain),
		keyUsageDates,
	}
	args := []interface{}{domain, date, seconds, time.Now().Format(time.RFC3339Nano)}

	total, err := script.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return 0, err
	}
	return total, nil
}

// AdjustUsed atomically applies a clamped delta to an existing record
func (s *usageStore) AdjustUsed(ctx context.Context, domain, date string, delta int64) (int64, error) {
	script := redis.NewScript(adjustUsageScript)

	keys := []string{usageKey(date, domain)}
	args := []interface{}{delta, time.Now().Format(time.RFC3339Nano)}

	total, err := script.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return 0, err
	}
	if total < 0 {
		return 0, storage.ErrNotFound
	}
	return total, nil
}

// DeleteBefore removes records for days strictly before cutoffDate
func (s *usageStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	dates, err := s.client.SMembers(ctx, keyUsageDates).Result()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, date := range dates {
		if date >= cutoffDate {
			continue
		}
		domains, err := s.client.SMembers(ctx, usageDateIndex(date)).Result()
		if err != nil {
			return deleted, err
		}
		for _, domain := range domains {
			if err := s.client.Del(ctx, usageKey(date, domain)).Err(); err != nil {
				return deleted, err
			}
			if err := s.client.SRem(ctx, usageDomainIndex(domain), date).Err(); err != nil {
				return deleted, err
			}
			deleted++
		}
		if err := s.client.Del(ctx, usageDateIndex(date)).Err(); err != nil {
			return deleted, err
		}
		if err := s.client.SRem(ctx, keyUsageDates, date).Err(); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}
