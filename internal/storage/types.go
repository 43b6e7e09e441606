package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the access status of a monitored domain.
type Status string

const (
	StatusActive  Status = "active"
	StatusPending Status = "pending"
	StatusLocked  Status = "locked"
)

// UnmarshalJSON implements json.Unmarshaler to normalize status to lowercase.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	normalized := Status(strings.ToLower(raw))

	switch normalized {
	case StatusActive, StatusPending, StatusLocked:
		*s = normalized
		return nil
	default:
		return fmt.Errorf("invalid status: %s (must be active, pending, or locked)", raw)
	}
}

// MarshalJSON implements json.Marshaler to ensure lowercase output.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// Site is the configuration for a single monitored website.
type Site struct {
	ID                string    `json:"id"`
	Domain            string    `json:"domain"` // normalized: lowercase, no www. prefix
	DisplayName       string    `json:"display_name"`
	DailyLimitSeconds int64     `json:"daily_limit_seconds"`
	Enabled           bool      `json:"enabled"`
	CreatedAt         time.Time `json:"created_at"`
}

// DayUsage is the per-domain, per-day usage and lock-state record.
type DayUsage struct {
	Domain                   string     `json:"domain"`
	Date                     string     `json:"date"` // YYYY-MM-DD
	UsedSeconds              int64      `json:"used_seconds"`
	Status                   Status     `json:"status"`
	PendingStartedAt         *time.Time `json:"pending_started_at,omitempty"`
	EmergencyGrantsUsedToday int        `json:"emergency_grants_used_today"`
	RestartedToday           bool       `json:"restarted_today"`
	RestartedAt              *time.Time `json:"restarted_at,omitempty"`
	TimeLockExemptToday      bool       `json:"time_lock_exempt_today"`
	LastUpdatedAt            time.Time  `json:"last_updated_at"`
}

// TimeWindow is a single blackout span. Times are HH:MM; a window with
// StartTime later than EndTime crosses midnight.
type TimeWindow struct {
	ID        string `json:"id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Enabled   bool   `json:"enabled"`
	Label     string `json:"label,omitempty"`
}

// TimeLockMode selects which navigations a time-lock policy applies to.
type TimeLockMode string

const (
	// ModeRestricted applies windows only to monitored sites.
	ModeRestricted TimeLockMode = "restricted"
	// ModeAll applies windows to every HTTP/HTTPS navigation.
	ModeAll TimeLockMode = "all"
)

// TimeLockPolicy is the scheduled-blackout configuration.
type TimeLockPolicy struct {
	Enabled bool         `json:"enabled"`
	Mode    TimeLockMode `json:"mode"`
	Windows []TimeWindow `json:"windows"`
}

// GlobalPolicy holds settings shared across all monitored domains.
// The emergency-restart allowance is global: one use per calendar day,
// consumed for every domain at once.
type GlobalPolicy struct {
	DailyResetTime            string `json:"daily_reset_time"` // HH:MM
	EmergencyExtraSeconds     int64  `json:"emergency_extra_seconds"`
	PendingGraceSeconds       int64  `json:"pending_grace_seconds"`
	EmergencyRestartUsedToday bool   `json:"emergency_restart_used_today"`
	EmergencyRestartUsedDate  string `json:"emergency_restart_used_date"` // YYYY-MM-DD
}

// Defaults applied when no global policy has been stored yet.
const (
	DefaultDailyResetTime        = "06:00"
	DefaultEmergencyExtraSeconds = 600
	DefaultPendingGraceSeconds   = 30
)

// DefaultGlobalPolicy returns the built-in global policy.
func DefaultGlobalPolicy() GlobalPolicy {
	return GlobalPolicy{
		DailyResetTime:        DefaultDailyResetTime,
		EmergencyExtraSeconds: DefaultEmergencyExtraSeconds,
		PendingGraceSeconds:   DefaultPendingGraceSeconds,
	}
}

// NewDayUsage returns a fresh record for a domain and day.
func NewDayUsage(domain, date string, now time.Time) DayUsage {
	return DayUsage{
		Domain:        domain,
		Date:          date,
		UsedSeconds:   0,
		Status:        StatusActive,
		LastUpdatedAt: now,
	}
}
