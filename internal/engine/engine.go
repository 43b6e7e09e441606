// Package engine decides what happens when the browser lands on a page: it
// routes navigations through the window schedule, the usage ledger, and the
// lock state machine, and owns the site lookup cache.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/sitewarden/internal/clock"
	"github.com/goodtune/sitewarden/internal/ledger"
	"github.com/goodtune/sitewarden/internal/lockstate"
	"github.com/goodtune/sitewarden/internal/metrics"
	"github.com/goodtune/sitewarden/internal/notify"
	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/goodtune/sitewarden/internal/timewindow"
	"github.com/goodtune/sitewarden/internal/tracker"
)

// Action is the engine's verdict on a navigation.
type Action string

const (
	// ActionIgnore means the URL is not a web page.
	ActionIgnore Action = "ignore"
	// ActionAllow means the page loads without tracking.
	ActionAllow Action = "allow"
	// ActionTrack means the page loads and the usage timer runs.
	ActionTrack Action = "track"
	// ActionRedirect means the page must not load.
	ActionRedirect Action = "redirect"
)

// Decision is the outcome of one navigation evaluation.
type Decision struct {
	Action            Action         `json:"action"`
	Domain            string         `json:"domain,omitempty"`
	Status            storage.Status `json:"status,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	UsedSeconds       int64          `json:"used_seconds,omitempty"`
	DailyLimitSeconds int64          `json:"daily_limit_seconds,omitempty"`
	RemainingSeconds  int64          `json:"remaining_seconds,omitempty"`
	GraceSeconds      int64          `json:"grace_seconds,omitempty"`
}

// StatusReport answers a status query for a monitored domain.
type StatusReport struct {
	Domain              string         `json:"domain"`
	Status              storage.Status `json:"status"`
	UsedSeconds         int64          `json:"used_seconds"`
	DailyLimitSeconds   int64          `json:"daily_limit_seconds"`
	RemainingSeconds    int64          `json:"remaining_seconds"`
	RestartedToday      bool           `json:"restarted_today"`
	TimeLockExemptToday bool           `json:"time_lock_exempt_today"`
}

// TimeLockStatus answers a window-schedule query.
type TimeLockStatus struct {
	Locked bool                   `json:"locked"`
	Policy storage.TimeLockPolicy `json:"policy"`
}

const siteCacheSize = 512

// Engine evaluates navigations and status queries.
type Engine struct {
	sites    storage.SiteStore
	ledger   *ledger.Ledger
	machine  *lockstate.Machine
	tracker  *tracker.Tracker
	timeLock storage.TimeLockStore
	policy   storage.PolicyStore
	hub      *notify.Hub
	clock    clock.Clock
	logger   zerolog.Logger

	// host -> configured site domain. Site configs themselves are always
	// read fresh so limit changes apply immediately.
	siteCache *lru.Cache[string, string]
}

// New creates an engine.
func New(
	sites storage.SiteStore,
	ldg *ledger.Ledger,
	machine *lockstate.Machine,
	trk *tracker.Tracker,
	timeLock storage.TimeLockStore,
	policy storage.PolicyStore,
	hub *notify.Hub,
	clk clock.Clock,
	logger zerolog.Logger,
) (*Engine, error) {
	cache, err := lru.New[string, string](siteCacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		sites:     sites,
		ledger:    ldg,
		machine:   machine,
		tracker:   trk,
		timeLock:  timeLock,
		policy:    policy,
		hub:       hub,
		clock:     clk,
		logger:    logger.With().Str("component", "engine").Logger(),
		siteCache: cache,
	}, nil
}

// InvalidateSiteCache drops all cached host lookups. Call after any site
// configuration write.
func (e *Engine) InvalidateSiteCache() {
	e.siteCache.Purge()
}

// findSite resolves a normalized host to its configured site, walking up
// the label chain so subdomains inherit the parent's budget.
func (e *Engine) findSite(ctx context.Context, host string) (*storage.Site, error) {
	if cached, ok := e.siteCache.Get(host); ok {
		site, err := e.sites.GetByDomain(ctx, cached)
		if err == nil {
			return site, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		e.siteCache.Remove(host)
	}

	labels := strings.Split(host, ".")
	for i := 0; i < len(labels)-1; i++ {
		candidate := strings.Join(labels[i:], ".")
		site, err := e.sites.GetByDomain(ctx, candidate)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		e.siteCache.Add(host, site.Domain)
		return site, nil
	}
	return nil, storage.ErrNotFound
}

func (e *Engine) timeLockPolicy(ctx context.Context) (*storage.TimeLockPolicy, error) {
	tlp, err := e.timeLock.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return &storage.TimeLockPolicy{}, nil
	}
	return tlp, err
}

func (e *Engine) graceSeconds(ctx context.Context) int64 {
	pol, err := e.policy.Get(ctx)
	if err != nil {
		return storage.DefaultPendingGraceSeconds
	}
	return pol.PendingGraceSeconds
}

// windowLocked reports whether the schedule currently blocks a record's
// domain. Restarted domains are exempt for the rest of the day.
func (e *Engine) windowLocked(tlp *storage.TimeLockPolicy, rec *storage.DayUsage) bool {
	if !tlp.Enabled || rec.TimeLockExemptToday {
		return false
	}
	return timewindow.IsWithinAny(tlp.Windows, e.clock.Now())
}

// HandleNavigation evaluates a navigation target and starts or stops
// tracking accordingly. Any previously running timer stops first, whatever
// domain it was for.
func (e *Engine) HandleNavigation(ctx context.Context, rawURL string) (*Decision, error) {
	e.tracker.StopAll()

	if !IsHTTPURL(rawURL) {
		metrics.NavigationsTotal.WithLabelValues(string(ActionIgnore)).Inc()
		return &Decision{Action: ActionIgnore}, nil
	}

	host, err := ExtractDomain(rawURL)
	if err != nil {
		return nil, err
	}

	tlp, err := e.timeLockPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load window policy: %w", err)
	}

	site, err := e.findSite(ctx, host)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("resolve site: %w", err)
	}

	if site == nil || !site.Enabled {
		// In "all" mode the schedule blocks every web page, monitored or
		// not. There is no per-domain record to exempt.
		if tlp.Enabled && tlp.Mode == storage.ModeAll && timewindow.IsWithinAny(tlp.Windows, e.clock.Now()) {
			metrics.NavigationsTotal.WithLabelValues(string(ActionRedirect)).Inc()
			return &Decision{Action: ActionRedirect, Domain: host, Reason: string(lockstate.ReasonTimeLock)}, nil
		}
		metrics.NavigationsTotal.WithLabelValues(string(ActionAllow)).Inc()
		return &Decision{Action: ActionAllow, Domain: host}, nil
	}

	unlock := e.machine.Locks().Lock(site.Domain)
	defer unlock()

	rec, err := e.ledger.GetOrCreate(ctx, site.Domain)
	if err != nil {
		return nil, err
	}

	grace := e.graceSeconds(ctx)

	// The tab may have been backgrounded through the whole grace period
	// with no timer running: settle the overdue lock before deciding.
	if rec.Status == storage.StatusPending && e.machine.GraceElapsed(rec, grace) {
		reason := lockstate.ReasonTimeLimit
		if e.windowLocked(tlp, rec) {
			reason = lockstate.ReasonTimeLock
		}
		if err := e.machine.ToLocked(ctx, rec, reason); err != nil {
			return nil, err
		}
		e.hub.Publish(notify.Event{
			Type:   notify.EventLocked,
			Domain: rec.Domain,
			Reason: string(reason),
			At:     e.clock.Now(),
		})
	}

	if rec.Status == storage.StatusLocked {
		metrics.NavigationsTotal.WithLabelValues(string(ActionRedirect)).Inc()
		return e.decision(ActionRedirect, site, rec, "locked", grace), nil
	}

	if rec.Status == storage.StatusActive {
		// Schedule check runs before the budget check, so the pending
		// reason favors the window when both apply at once.
		var reason lockstate.Reason
		switch {
		case e.windowLocked(tlp, rec):
			reason = lockstate.ReasonTimeLock
		case ledger.Remaining(site, rec) <= 0:
			reason = lockstate.ReasonTimeLimit
		}
		if reason != "" {
			if err := e.machine.ToPending(ctx, rec, reason); err != nil {
				return nil, err
			}
			e.hub.Publish(notify.Event{
				Type:         notify.EventPendingLock,
				Domain:       rec.Domain,
				Reason:       string(reason),
				GraceSeconds: grace,
				At:           e.clock.Now(),
			})
		}
	}

	// Active or pending: the page loads and the timer runs. A pending
	// domain keeps ticking so the grace countdown can fire.
	if err := e.tracker.Start(ctx, *site); err != nil {
		return nil, fmt.Errorf("start timer: %w", err)
	}

	metrics.NavigationsTotal.WithLabelValues(string(ActionTrack)).Inc()
	return e.decision(ActionTrack, site, rec, "", grace), nil
}

func (e *Engine) decision(action Action, site *storage.Site, rec *storage.DayUsage, reason string, grace int64) *Decision {
	d := &Decision{
		Action:            action,
		Domain:            site.Domain,
		Status:            rec.Status,
		Reason:            reason,
		UsedSeconds:       rec.UsedSeconds,
		DailyLimitSeconds: site.DailyLimitSeconds,
		RemainingSeconds:  ledger.Remaining(site, rec),
	}
	if rec.Status == storage.StatusPending {
		d.GraceSeconds = grace
	}
	return d
}

// GetStatus reports a monitored domain's current standing, settling an
// overdue pending lock first so callers never see a stale grace period.
func (e *Engine) GetStatus(ctx context.Context, domain string) (*StatusReport, error) {
	domain = NormalizeDomain(domain)

	site, err := e.sites.GetByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}

	unlock := e.machine.Locks().Lock(site.Domain)
	defer unlock()

	rec, err := e.ledger.GetOrCreate(ctx, site.Domain)
	if err != nil {
		return nil, err
	}

	if rec.Status == storage.StatusPending && e.machine.GraceElapsed(rec, e.graceSeconds(ctx)) {
		tlp, err := e.timeLockPolicy(ctx)
		if err != nil {
			return nil, fmt.Errorf("load window policy: %w", err)
		}
		// Same reason derivation as the navigation settlement: the pending
		// reason is not persisted, so favor the window when it applies.
		reason := lockstate.ReasonTimeLimit
		if e.windowLocked(tlp, rec) {
			reason = lockstate.ReasonTimeLock
		}
		if err := e.machine.ToLocked(ctx, rec, reason); err != nil {
			return nil, err
		}
		e.hub.Publish(notify.Event{
			Type:   notify.EventLocked,
			Domain: rec.Domain,
			Reason: string(reason),
			At:     e.clock.Now(),
		})
	}

	return &StatusReport{
		Domain:              site.Domain,
		Status:              rec.Status,
		UsedSeconds:         rec.UsedSeconds,
		DailyLimitSeconds:   site.DailyLimitSeconds,
		RemainingSeconds:    ledger.Remaining(site, rec),
		RestartedToday:      rec.RestartedToday,
		TimeLockExemptToday: rec.TimeLockExemptToday,
	}, nil
}

// RequestLockNow forces a pending or active domain straight to locked and
// stops its timer. Locking an already locked domain is a caller error.
func (e *Engine) RequestLockNow(ctx context.Context, domain string) (*storage.DayUsage, error) {
	domain = NormalizeDomain(domain)

	// Stop the timer before taking the domain lock: a mid-flight tick holds
	// the lock and the stop waits for it to finish.
	e.tracker.Stop(domain)

	unlock := e.machine.Locks().Lock(domain)
	defer unlock()

	rec, err := e.ledger.GetOrCreate(ctx, domain)
	if err != nil {
		return nil, err
	}

	if err := e.machine.ToLocked(ctx, rec, lockstate.ReasonUserLock); err != nil {
		return nil, err
	}

	e.hub.Publish(notify.Event{
		Type:   notify.EventLocked,
		Domain: domain,
		Reason: string(lockstate.ReasonUserLock),
		At:     e.clock.Now(),
	})
	return rec, nil
}

// PutTimeLock replaces the stored window schedule.
func (e *Engine) PutTimeLock(ctx context.Context, policy storage.TimeLockPolicy) error {
	return e.timeLock.Put(ctx, policy)
}

// CheckTimeLock reports whether the window schedule is blocking right now,
// along with the policy itself.
func (e *Engine) CheckTimeLock(ctx context.Context) (*TimeLockStatus, error) {
	tlp, err := e.timeLockPolicy(ctx)
	if err != nil {
		return nil, err
	}
	return &TimeLockStatus{
		Locked: tlp.Enabled && timewindow.IsWithinAny(tlp.Windows, e.clock.Now()),
		Policy: *tlp,
	}, nil
}
