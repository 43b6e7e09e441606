// Package grants implements the two escape hatches from a lock: emergency
// extra time during the grace period, and restarts once locked.
package grants

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/goodtune/sitewarden/internal/clock"
	"github.com/goodtune/sitewarden/internal/ledger"
	"github.com/goodtune/sitewarden/internal/lockstate"
	"github.com/goodtune/sitewarden/internal/metrics"
	"github.com/goodtune/sitewarden/internal/notify"
	"github.com/goodtune/sitewarden/internal/storage"
)

// ErrEmergencyRestartUsed is returned when the day's single global
// emergency-restart allowance has already been consumed.
var ErrEmergencyRestartUsed = errors.New("grants: emergency restart already used today")

// RestartKind selects which restart allowance a request draws from.
type RestartKind string

const (
	// KindNormal is the ordinary per-domain restart.
	KindNormal RestartKind = "normal"
	// KindEmergency draws from the global once-per-day allowance.
	KindEmergency RestartKind = "emergency"
)

// Service applies grants to usage records.
type Service struct {
	ledger  *ledger.Ledger
	machine *lockstate.Machine
	policy  storage.PolicyStore
	hub     *notify.Hub
	clock   clock.Clock
	logger  zerolog.Logger
}

// New creates a grants service.
func New(
	ldg *ledger.Ledger,
	machine *lockstate.Machine,
	policy storage.PolicyStore,
	hub *notify.Hub,
	clk clock.Clock,
	logger zerolog.Logger,
) *Service {
	return &Service{
		ledger:  ldg,
		machine: machine,
		policy:  policy,
		hub:     hub,
		clock:   clk,
		logger:  logger.With().Str("component", "grants").Logger(),
	}
}

func (s *Service) globalPolicy(ctx context.Context) (*storage.GlobalPolicy, error) {
	pol, err := s.policy.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		def := storage.DefaultGlobalPolicy()
		return &def, nil
	}
	return pol, err
}

// EmergencyUse tops up a domain's budget during its grace period, returning
// it to active along with the number of seconds granted. Only a pending
// domain qualifies.
func (s *Service) EmergencyUse(ctx context.Context, domain string) (*storage.DayUsage, int64, error) {
	unlock := s.machine.Locks().Lock(domain)
	defer unlock()

	rec, err := s.ledger.Get(ctx, domain)
	if err != nil {
		return nil, 0, fmt.Errorf("load usage record: %w", err)
	}

	pol, err := s.globalPolicy(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load global policy: %w", err)
	}

	if err := s.machine.ActivateFromPending(ctx, rec, pol.EmergencyExtraSeconds); err != nil {
		metrics.GrantDenialsTotal.WithLabelValues("emergency_use").Inc()
		return nil, 0, err
	}

	metrics.GrantsTotal.WithLabelValues("emergency_use").Inc()
	s.hub.Publish(notify.Event{
		Type:   notify.EventEmergencyGranted,
		Domain: domain,
		At:     s.clock.Now(),
	})
	s.logger.Info().
		Str("domain", domain).
		Int64("extra_seconds", pol.EmergencyExtraSeconds).
		Int("grants_today", rec.EmergencyGrantsUsedToday).
		Msg("Emergency time granted")

	return rec, pol.EmergencyExtraSeconds, nil
}

// Restart unlocks a locked domain, zeroing its day. An emergency restart
// additionally consumes the global once-per-day allowance, shared by every
// domain; a normal restart does not.
func (s *Service) Restart(ctx context.Context, domain string, kind RestartKind) (*storage.DayUsage, error) {
	unlock := s.machine.Locks().Lock(domain)
	defer unlock()

	rec, err := s.ledger.Get(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("load usage record: %w", err)
	}

	if rec.Status != storage.StatusLocked {
		metrics.GrantDenialsTotal.WithLabelValues(string(kind)).Inc()
		return nil, fmt.Errorf("%w: %s -> active (restart) for %s",
			lockstate.ErrInvalidTransition, rec.Status, domain)
	}

	if kind == KindEmergency {
		claimed, err := s.policy.ClaimEmergencyRestart(ctx, s.ledger.Today())
		if errors.Is(err, storage.ErrNotFound) {
			// First grant ever: materialize the default policy and retry.
			if err := s.policy.Put(ctx, storage.DefaultGlobalPolicy()); err != nil {
				return nil, fmt.Errorf("bootstrap global policy: %w", err)
			}
			claimed, err = s.policy.ClaimEmergencyRestart(ctx, s.ledger.Today())
		}
		if err != nil {
			return nil, fmt.Errorf("claim emergency restart: %w", err)
		}
		if !claimed {
			metrics.GrantDenialsTotal.WithLabelValues(string(kind)).Inc()
			s.logger.Warn().Str("domain", domain).Msg("Emergency restart denied, already used today")
			return nil, ErrEmergencyRestartUsed
		}
	}

	if err := s.machine.ActivateFromLocked(ctx, rec); err != nil {
		// The claim happened first: release it so a failed unlock does not
		// burn the day's single allowance.
		if kind == KindEmergency {
			if cerr := s.policy.ClearEmergencyRestart(ctx); cerr != nil {
				s.logger.Error().Err(cerr).Str("domain", domain).
					Msg("Failed to release emergency restart claim")
			}
		}
		return nil, err
	}

	metrics.GrantsTotal.WithLabelValues(string(kind)).Inc()
	s.hub.Publish(notify.Event{
		Type:   notify.EventRestarted,
		Domain: domain,
		Reason: string(kind),
		At:     s.clock.Now(),
	})
	s.logger.Info().
		Str("domain", domain).
		Str("kind", string(kind)).
		Msg("Restart granted")

	return rec, nil
}
