package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrDomainExists is returned when a site write would duplicate a domain.
var ErrDomainExists = errors.New("storage: domain already configured")

// Store represents the root storage interface. Four independent collections:
// site configs, per-day usage records, the time-lock policy, and the global
// policy.
type Store interface {
	Close() error
	Sites() SiteStore
	Usage() UsageStore
	TimeLock() TimeLockStore
	Policy() PolicyStore
}

// SiteStore manages monitored-site configuration. Domain uniqueness is
// enforced here, at write time, not by the tracking core.
type SiteStore interface {
	Get(ctx context.Context, id string) (*Site, error)
	GetByDomain(ctx context.Context, domain string) (*Site, error)
	List(ctx context.Context) ([]Site, error)
	Upsert(ctx context.Context, site Site) error
	Delete(ctx context.Context, id string) error
}

// UsageStore manages per-day usage records keyed by (domain, date).
type UsageStore interface {
	Get(ctx context.Context, domain, date string) (*DayUsage, error)
	Put(ctx context.Context, rec DayUsage) error
	ListByDate(ctx context.Context, date string) ([]DayUsage, error)
	ListByDomainSince(ctx context.Context, domain, sinceDate string) ([]DayUsage, error)

	// IncrementUsed atomically adds seconds to a record's counter, creating
	// the record with defaults if absent. Returns the new total.
	IncrementUsed(ctx context.Context, domain, date string, seconds int64) (int64, error)

	// AdjustUsed atomically applies a signed delta to a record's counter,
	// clamping the result at zero. Returns the new total. The record must
	// already exist.
	AdjustUsed(ctx context.Context, domain, date string, delta int64) (int64, error)

	DeleteBefore(ctx context.Context, cutoffDate string) (int, error)
}

// TimeLockStore manages the scheduled-blackout policy document.
type TimeLockStore interface {
	Get(ctx context.Context) (*TimeLockPolicy, error)
	Put(ctx context.Context, policy TimeLockPolicy) error
}

// PolicyStore manages the global policy document. All reads and writes of the
// emergency-restart flag go through here so the single-writer invariant stays
// auditable.
type PolicyStore interface {
	Get(ctx context.Context) (*GlobalPolicy, error)
	Put(ctx context.Context, policy GlobalPolicy) error

	// ClaimEmergencyRestart atomically consumes the day's single global
	// emergency-restart allowance. Returns true if this call claimed it,
	// false if it was already used on the given date.
	ClaimEmergencyRestart(ctx context.Context, date string) (bool, error)

	// ClearEmergencyRestart releases the global allowance (daily reset).
	ClearEmergencyRestart(ctx context.Context) error
}
