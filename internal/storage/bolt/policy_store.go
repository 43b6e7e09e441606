package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/sitewarden/internal/storage"
	"go.etcd.io/bbolt"
)

type timeLockStore struct {
	db *bbolt.DB
}

func (s *timeLockStore) Get(ctx context.Context) (*storage.TimeLockPolicy, error) {
	return getBucketValue[storage.TimeLockPolicy](ctx, s.db, bucketTimeLock, keyTimeLockPolicy)
}

func (s *timeLockStore) Put(ctx context.Context, policy storage.TimeLockPolicy) error {
	return putBucketValue(ctx, s.db, bucketTimeLock, keyTimeLockPolicy, policy)
}

type policyStore struct {
	db *bbolt.DB
}

func (s *policyStore) Get(ctx context.Context) (*storage.GlobalPolicy, error) {
	return getBucketValue[storage.GlobalPolicy](ctx, s.db, bucketPolicy, keyGlobalPolicy)
}

func (s *policyStore) Put(ctx context.Context, policy storage.GlobalPolicy) error {
	return putBucketValue(ctx, s.db, bucketPolicy, keyGlobalPolicy, policy)
}

func (s *policyStore) ClaimEmergencyRestart(ctx context.Context, date string) (bool, error) {
	claimed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketPolicy))
		if b == nil {
			return fmt.Errorf("policy bucket missing")
		}
		value := b.Get([]byte(keyGlobalPolicy))
		if value == nil {
			return storage.ErrNotFound
		}
		var policy storage.GlobalPolicy
		if err := unmarshal(value, &policy); err != nil {
			return err
		}
		if policy.EmergencyRestartUsedToday && policy.EmergencyRestartUsedDate == date {
			return nil
		}
		policy.EmergencyRestartUsedToday = true
		policy.EmergencyRestartUsedDate = date
		data, err := marshal(policy)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(keyGlobalPolicy), data); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

func (s *policyStore) ClearEmergencyRestart(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketPolicy))
		if b == nil {
			return fmt.Errorf("policy bucket missing")
		}
		value := b.Get([]byte(keyGlobalPolicy))
		if value == nil {
			return storage.ErrNotFound
		}
		var policy storage.GlobalPolicy
		if err := unmarshal(value, &policy); err != nil {
			return err
		}
		policy.EmergencyRestartUsedToday = false
		data, err := marshal(policy)
		if err != nil {
			return err
		}
		return b.Put([]byte(keyGlobalPolicy), data)
	})
}
