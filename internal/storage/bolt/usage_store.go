package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/goodtune/sitewarden/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) Get(ctx context.Context, domain, date string) (*storage.DayUsage, error) {
	return getBucketValue[storage.DayUsage](ctx, s.db, bucketDailyUsage, usageKey(domain, date))
}

func (s *usageStore) Put(ctx context.Context, rec storage.DayUsage) error {
	return putBucketValue(ctx, s.db, bucketDailyUsage, usageKey(rec.Domain, rec.Date), rec)
}

func (s *usageStore) ListByDate(ctx context.Context, date string) ([]storage.DayUsage, error) {
	prefix := []byte(date + "/")
	records := make([]storage.DayUsage, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec storage.DayUsage
			if err := unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

func (s *usageStore) ListByDomainSince(ctx context.Context, domain, sinceDate string) ([]storage.DayUsage, error) {
	records := make([]storage.DayUsage, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var rec storage.DayUsage
			if err := unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Domain == domain && rec.Date >= sinceDate {
				records = append(records, rec)
			}
			return nil
		})
	})
	return records, err
}

func (s *usageStore) IncrementUsed(ctx context.Context, domain, date string, seconds int64) (int64, error) {
	var total int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return fmt.Errorf("daily usage bucket missing")
		}
		key := usageKey(domain, date)
		var rec storage.DayUsage
		if existing := b.Get([]byte(key)); existing != nil {
			if err := unmarshal(existing, &rec); err != nil {
				return err
			}
		} else {
			rec = storage.NewDayUsage(domain, date, time.Now())
		}
		rec.UsedSeconds += seconds
		rec.LastUpdatedAt = time.Now()
		total = rec.UsedSeconds
		data, err := marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	return total, err
}

func (s *usageStore) AdjustUsed(ctx context.Context, domain, date string, delta int64) (int64, error) {
	var total int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return fmt.Errorf("daily usage bucket missing")
		}
		key := usageKey(domain, date)
		existing := b.Get([]byte(key))
		if existing == nil {
			return storage.ErrNotFound
		}
		var rec storage.DayUsage
		if err := unmarshal(existing, &rec); err != nil {
			return err
		}
		rec.UsedSeconds += delta
		if rec.UsedSeconds < 0 {
			rec.UsedSeconds = 0
		}
		rec.LastUpdatedAt = time.Now()
		total = rec.UsedSeconds
		data, err := marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	return total, err
}

func (s *usageStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	if _, err := time.Parse("2006-01-02", cutoffDate); err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec storage.DayUsage
			if err := unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Date < cutoffDate {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
}

func usageKey(domain, date string) string {
	return fmt.Sprintf("%s/%s", date, domain)
}
