package timewindow

import (
	"testing"
	"time"

	"github.com/goodtune/sitewarden/internal/storage"
)

func at(hour, min int) time.Time {
	return time.Date(2024, 1, 2, hour, min, 0, 0, time.Local)
}

func window(start, end string) storage.TimeWindow {
	return storage.TimeWindow{ID: "w1", StartTime: start, EndTime: end, Enabled: true}
}

func TestIsWithinAnyCrossingMidnight(t *testing.T) {
	windows := []storage.TimeWindow{window("22:00", "06:00")}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before start", at(12, 0), false},
		{"just before start", at(21, 59), false},
		{"at start", at(22, 0), true},
		{"late evening", at(23, 30), true},
		{"after midnight", at(2, 0), true},
		{"just before end", at(5, 59), true},
		{"at end", at(6, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWithinAny(windows, tt.now); got != tt.want {
				t.Errorf("IsWithinAny(%s) = %v, want %v", tt.now.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestIsWithinAnySameDay(t *testing.T) {
	windows := []storage.TimeWindow{window("09:00", "17:00")}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before", at(8, 59), false},
		{"at start", at(9, 0), true},
		{"midday", at(12, 0), true},
		{"just before end", at(16, 59), true},
		{"at end", at(17, 0), false},
		{"after", at(20, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWithinAny(windows, tt.now); got != tt.want {
				t.Errorf("IsWithinAny(%s) = %v, want %v", tt.now.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestZeroWidthWindowNeverMatches(t *testing.T) {
	windows := []storage.TimeWindow{window("10:00", "10:00")}

	for _, now := range []time.Time{at(0, 0), at(10, 0), at(12, 0), at(23, 59)} {
		if IsWithinAny(windows, now) {
			t.Errorf("zero-width window matched at %s", now.Format("15:04"))
		}
	}
}

func TestDisabledWindowsIgnored(t *testing.T) {
	w := window("00:00", "23:59")
	w.Enabled = false

	if IsWithinAny([]storage.TimeWindow{w}, at(12, 0)) {
		t.Error("disabled window should never match")
	}
}

func TestActiveWindowFirstMatchWins(t *testing.T) {
	first := storage.TimeWindow{ID: "first", StartTime: "09:00", EndTime: "17:00", Enabled: true}
	second := storage.TimeWindow{ID: "second", StartTime: "10:00", EndTime: "18:00", Enabled: true}

	got := ActiveWindow([]storage.TimeWindow{first, second}, at(12, 0))
	if got == nil || got.ID != "first" {
		t.Fatalf("expected first window to win, got %+v", got)
	}
}

func TestNextBoundary(t *testing.T) {
	tests := []struct {
		name     string
		window   storage.TimeWindow
		now      time.Time
		wantDay  int
		wantHour int
		wantOK   bool
	}{
		{"same day end", window("09:00", "17:00"), at(12, 0), 2, 17, true},
		{"crossing midnight, evening side", window("22:00", "06:00"), at(23, 30), 3, 6, true},
		{"crossing midnight, morning side", window("22:00", "06:00"), at(2, 0), 2, 6, true},
		{"not inside any window", window("09:00", "17:00"), at(20, 0), 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boundary, ok := NextBoundary([]storage.TimeWindow{tt.window}, tt.now)
			if ok != tt.wantOK {
				t.Fatalf("NextBoundary ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if boundary.Day() != tt.wantDay || boundary.Hour() != tt.wantHour {
				t.Errorf("NextBoundary = %v, want day %d hour %d", boundary, tt.wantDay, tt.wantHour)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		end     string
		wantErr bool
	}{
		{"valid", "09:00", "17:30", false},
		{"valid midnight", "00:00", "23:59", false},
		{"bad hour", "24:00", "06:00", true},
		{"bad minute", "09:60", "17:00", true},
		{"missing colon", "0900", "17:00", true},
		{"single digit hour", "9:00", "17:00", true},
		{"zero width allowed by format", "10:00", "10:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(storage.TimeWindow{ID: "w", StartTime: tt.start, EndTime: tt.end})
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%s-%s) error = %v, wantErr %v", tt.start, tt.end, err, tt.wantErr)
			}
		})
	}
}
