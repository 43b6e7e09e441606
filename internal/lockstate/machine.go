// Package lockstate implements the per-domain access state machine.
//
// Valid transitions:
//
//	active  -> pending  (budget exhausted or window lock)
//	active  -> locked   (explicit lock-now)
//	pending -> locked   (grace elapsed or lock-now)
//	pending -> active   (emergency grant)
//	locked  -> active   (restart)
//
// Anything else is a caller error, never a silent no-op.
package lockstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/sitewarden/internal/clock"
	"github.com/goodtune/sitewarden/internal/metrics"
	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/rs/zerolog"
)

// ErrInvalidTransition is returned when a caller requests a transition the
// state machine does not allow from the record's current status.
var ErrInvalidTransition = errors.New("lockstate: invalid state transition")

// Reason identifies why a domain entered the pending state.
type Reason string

const (
	ReasonTimeLimit Reason = "time_limit"
	ReasonTimeLock  Reason = "time_lock"
	ReasonUserLock  Reason = "user_lock"
)

var validTransitions = map[storage.Status][]storage.Status{
	storage.StatusActive:  {storage.StatusPending, storage.StatusLocked},
	storage.StatusPending: {storage.StatusLocked, storage.StatusActive},
	storage.StatusLocked:  {storage.StatusActive},
}

// IsValidTransition reports whether moving from one status to another is
// permitted.
func IsValidTransition(from, to storage.Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Machine applies and persists state transitions on usage records.
type Machine struct {
	usage  storage.UsageStore
	locks  *DomainLocks
	clock  clock.Clock
	logger zerolog.Logger
}

// NewMachine creates a state machine over the given usage store.
func NewMachine(usage storage.UsageStore, clk clock.Clock, logger zerolog.Logger) *Machine {
	return &Machine{
		usage:  usage,
		locks:  NewDomainLocks(),
		clock:  clk,
		logger: logger.With().Str("component", "lockstate").Logger(),
	}
}

// Locks exposes the per-domain locks shared by every record mutator. Callers
// hold the domain's lock across their whole read-decide-write sequence.
func (m *Machine) Locks() *DomainLocks { return m.locks }

// reload re-reads the caller's record and rejects a stale copy: a transition
// decided on one status must not apply after a concurrent writer moved the
// record to another. Transitions then operate on the fresh record so no
// intervening write is lost.
func (m *Machine) reload(ctx context.Context, rec *storage.DayUsage) (*storage.DayUsage, error) {
	fresh, err := m.usage.Get(ctx, rec.Domain, rec.Date)
	if err != nil {
		return nil, fmt.Errorf("reload record for %s: %w", rec.Domain, err)
	}
	if fresh.Status != rec.Status {
		return nil, fmt.Errorf("%w: record for %s moved from %s to %s under the caller",
			ErrInvalidTransition, rec.Domain, rec.Status, fresh.Status)
	}
	return fresh, nil
}

// ToPending moves a domain from active to pending and stamps the grace start.
func (m *Machine) ToPending(ctx context.Context, rec *storage.DayUsage, reason Reason) error {
	if rec.Status != storage.StatusActive {
		return fmt.Errorf("%w: %s -> pending for %s", ErrInvalidTransition, rec.Status, rec.Domain)
	}

	fresh, err := m.reload(ctx, rec)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	fresh.Status = storage.StatusPending
	fresh.PendingStartedAt = &now
	fresh.LastUpdatedAt = now

	if err := m.usage.Put(ctx, *fresh); err != nil {
		return fmt.Errorf("persist pending transition: %w", err)
	}
	*rec = *fresh

	metrics.StateTransitionsTotal.WithLabelValues(string(storage.StatusPending), string(reason)).Inc()
	m.logger.Info().
		Str("domain", rec.Domain).
		Str("reason", string(reason)).
		Msg("active -> pending")

	return nil
}

// ToLocked moves a domain from pending or active to locked. The active path
// exists for explicit user lock-now requests.
func (m *Machine) ToLocked(ctx context.Context, rec *storage.DayUsage, reason Reason) error {
	if !IsValidTransition(rec.Status, storage.StatusLocked) {
		return fmt.Errorf("%w: %s -> locked for %s", ErrInvalidTransition, rec.Status, rec.Domain)
	}

	fresh, err := m.reload(ctx, rec)
	if err != nil {
		return err
	}

	from := fresh.Status
	fresh.Status = storage.StatusLocked
	fresh.PendingStartedAt = nil
	fresh.LastUpdatedAt = m.clock.Now()

	if err := m.usage.Put(ctx, *fresh); err != nil {
		return fmt.Errorf("persist locked transition: %w", err)
	}
	*rec = *fresh

	metrics.StateTransitionsTotal.WithLabelValues(string(storage.StatusLocked), string(reason)).Inc()
	m.logger.Info().
		Str("domain", rec.Domain).
		Str("from", string(from)).
		Str("reason", string(reason)).
		Msg("-> locked")

	return nil
}

// ActivateFromPending returns a pending domain to active on an emergency
// grant: the budget top-up is applied as a subtractive adjustment, clamped at
// zero by the store.
func (m *Machine) ActivateFromPending(ctx context.Context, rec *storage.DayUsage, extraSeconds int64) error {
	if rec.Status != storage.StatusPending {
		return fmt.Errorf("%w: %s -> active (emergency) for %s", ErrInvalidTransition, rec.Status, rec.Domain)
	}

	fresh, err := m.reload(ctx, rec)
	if err != nil {
		return err
	}

	newUsed, err := m.usage.AdjustUsed(ctx, fresh.Domain, fresh.Date, -extraSeconds)
	if err != nil {
		return fmt.Errorf("apply emergency adjustment: %w", err)
	}

	fresh.UsedSeconds = newUsed
	fresh.Status = storage.StatusActive
	fresh.PendingStartedAt = nil
	fresh.EmergencyGrantsUsedToday++
	fresh.LastUpdatedAt = m.clock.Now()

	if err := m.usage.Put(ctx, *fresh); err != nil {
		return fmt.Errorf("persist emergency transition: %w", err)
	}
	*rec = *fresh

	metrics.StateTransitionsTotal.WithLabelValues(string(storage.StatusActive), "emergency_use").Inc()
	m.logger.Info().
		Str("domain", rec.Domain).
		Int64("extra_seconds", extraSeconds).
		Int64("used_seconds", newUsed).
		Msg("pending -> active (emergency use)")

	return nil
}

// ActivateFromLocked returns a locked domain to active on a restart: the
// day's usage resets to zero and window-based locking is suppressed for the
// rest of the day so the restart is not immediately re-locked.
func (m *Machine) ActivateFromLocked(ctx context.Context, rec *storage.DayUsage) error {
	if rec.Status != storage.StatusLocked {
		return fmt.Errorf("%w: %s -> active (restart) for %s", ErrInvalidTransition, rec.Status, rec.Domain)
	}

	fresh, err := m.reload(ctx, rec)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	fresh.Status = storage.StatusActive
	fresh.UsedSeconds = 0
	fresh.PendingStartedAt = nil
	fresh.RestartedToday = true
	fresh.RestartedAt = &now
	fresh.TimeLockExemptToday = true
	fresh.LastUpdatedAt = now

	if err := m.usage.Put(ctx, *fresh); err != nil {
		return fmt.Errorf("persist restart transition: %w", err)
	}
	*rec = *fresh

	metrics.StateTransitionsTotal.WithLabelValues(string(storage.StatusActive), "restart").Inc()
	m.logger.Info().
		Str("domain", rec.Domain).
		Msg("locked -> active (restart)")

	return nil
}

// GraceElapsed reports whether a pending record's grace period has run out.
func (m *Machine) GraceElapsed(rec *storage.DayUsage, graceSeconds int64) bool {
	if rec.Status != storage.StatusPending || rec.PendingStartedAt == nil {
		return false
	}
	elapsed := m.clock.Now().Sub(*rec.PendingStartedAt).Seconds()
	return int64(elapsed) >= graceSeconds
}
