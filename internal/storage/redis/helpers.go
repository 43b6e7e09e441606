package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/sitewarden/internal/storage"
)

// parseDayUsage converts a Redis hash to a DayUsage record
func parseDayUsage(data map[string]string) (*storage.DayUsage, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	usedSeconds, err := strconv.ParseInt(data["used_seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse used_seconds: %w", err)
	}

	grants, err := strconv.Atoi(data["emergency_grants_used_today"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse emergency_grants_used_today: %w", err)
	}

	rec := &storage.DayUsage{
		Domain:                   data["domain"],
		Date:                     data["date"],
		UsedSeconds:              usedSeconds,
		Status:                   storage.Status(data["status"]),
		EmergencyGrantsUsedToday: grants,
		RestartedToday:           data["restarted_today"] == "1",
		TimeLockExemptToday:      data["time_lock_exempt_today"] == "1",
	}

	if raw := data["pending_started_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pending_started_at: %w", err)
		}
		rec.PendingStartedAt = &t
	}

	if raw := data["restarted_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse restarted_at: %w", err)
		}
		rec.RestartedAt = &t
	}

	if raw := data["last_updated_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_updated_at: %w", err)
		}
		rec.LastUpdatedAt = t
	}

	return rec, nil
}

// dayUsageFields flattens a DayUsage record to Redis hash fields
func dayUsageFields(rec storage.DayUsage) map[string]interface{} {
	pendingStartedAt := ""
	if rec.PendingStartedAt != nil {
		pendingStartedAt = rec.PendingStartedAt.Format(time.RFC3339Nano)
	}
	restartedAt := ""
	if rec.RestartedAt != nil {
		restartedAt = rec.RestartedAt.Format(time.RFC3339Nano)
	}

	return map[string]interface{}{
		"domain":                      rec.Domain,
		"date":                        rec.Date,
		"used_seconds":                rec.UsedSeconds,
		"status":                      string(rec.Status),
		"pending_started_at":          pendingStartedAt,
		"emergency_grants_used_today": rec.EmergencyGrantsUsedToday,
		"restarted_today":             boolField(rec.RestartedToday),
		"restarted_at":                restartedAt,
		"time_lock_exempt_today":      boolField(rec.TimeLockExemptToday),
		"last_updated_at":             rec.LastUpdatedAt.Format(time.RFC3339Nano),
	}
}

// parseGlobalPolicy converts a Redis hash to a GlobalPolicy
func parseGlobalPolicy(data map[string]string) (*storage.GlobalPolicy, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	extra, err := strconv.ParseInt(data["emergency_extra_seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse emergency_extra_seconds: %w", err)
	}

	grace, err := strconv.ParseInt(data["pending_grace_seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pending_grace_seconds: %w", err)
	}

	return &storage.GlobalPolicy{
		DailyResetTime:            data["daily_reset_time"],
		EmergencyExtraSeconds:     extra,
		PendingGraceSeconds:       grace,
		EmergencyRestartUsedToday: data["emergency_restart_used_today"] == "1",
		EmergencyRestartUsedDate:  data["emergency_restart_used_date"],
	}, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
