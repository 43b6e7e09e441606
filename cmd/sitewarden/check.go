package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goodtune/sitewarden/internal/clock"
	"github.com/goodtune/sitewarden/internal/config"
	"github.com/goodtune/sitewarden/internal/engine"
	"github.com/goodtune/sitewarden/internal/ledger"
	"github.com/goodtune/sitewarden/internal/lockstate"
	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/goodtune/sitewarden/internal/timewindow"
)

var (
	checkDate string
	checkTime string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check tracking decisions interactively",
	Long:  `Check what decision SiteWarden would make for a navigation without changing any state.`,
}

var checkURLCmd = &cobra.Command{
	Use:   "url [flags] URL",
	Short: "Check the navigation decision for a URL",
	Long:  `Check what action SiteWarden would take for a navigation to the given URL.`,
	Example: `  sitewarden -c config.yaml check url https://www.youtube.com/watch
  sitewarden check url -time 23:30 https://news.ycombinator.com/`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckURL,
}

var checkWindowCmd = &cobra.Command{
	Use:   "window [flags]",
	Short: "Check the time-lock window state",
	Long:  `Check whether a time-lock window is in effect at the given (or current) time.`,
	Example: `  sitewarden check window
  sitewarden check window -time 22:30`,
	RunE: runCheckWindow,
}

func init() {
	checkURLCmd.Flags().StringVar(&checkDate, "date", "", "Date (YYYY-MM-DD) - defaults to today")
	checkURLCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")

	checkWindowCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")

	checkCmd.AddCommand(checkURLCmd)
	checkCmd.AddCommand(checkWindowCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckURL(cmd *cobra.Command, args []string) error {
	urlStr := args[0]

	checkAt, err := parseCheckTime(checkDate, checkTime)
	if err != nil {
		return fmt.Errorf("invalid time specification: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	store, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	clk := &clock.TestClock{CurrentTime: checkAt}
	machine := lockstate.NewMachine(store.Usage(), clk, logger)

	if !engine.IsHTTPURL(urlStr) {
		printCheckHeader(checkAt)
		fmt.Printf("URL:        %s\n", urlStr)
		fmt.Println()
		cyan := color.New(color.FgCyan, color.Bold)
		cyan.Print("Decision:   ")
		fmt.Println("IGNORE")
		fmt.Println("            → Not an http(s) navigation, no tracking applies")
		printCheckFooter()
		return nil
	}

	domain, err := engine.ExtractDomain(urlStr)
	if err != nil {
		return fmt.Errorf("cannot extract domain: %w", err)
	}

	site, err := findMonitoredSite(ctx, store, domain)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	timeLock, err := store.TimeLock().Get(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		timeLock = &storage.TimeLockPolicy{}
	}
	windowActive := timeLock.Enabled && timewindow.IsWithinAny(timeLock.Windows, checkAt)

	printCheckHeader(checkAt)
	fmt.Printf("URL:        %s\n", urlStr)
	fmt.Printf("Domain:     %s\n", domain)
	fmt.Println()

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	cyan.Print("Decision:   ")

	if site == nil {
		if windowActive && timeLock.Mode == storage.ModeAll {
			red.Println("REDIRECT")
			fmt.Println("            → A time-lock window is in effect for all sites")
		} else {
			green.Println("ALLOW")
			fmt.Println("            → Domain is not monitored, no tracking applies")
		}
		printCheckFooter()
		return nil
	}

	rec, err := store.Usage().Get(ctx, site.Domain, clock.DateKey(checkAt))
	if errors.Is(err, storage.ErrNotFound) {
		fresh := storage.NewDayUsage(site.Domain, clock.DateKey(checkAt), checkAt)
		rec = &fresh
	} else if err != nil {
		return err
	}

	policy, err := store.Policy().Get(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		defaults := storage.DefaultGlobalPolicy()
		policy = &defaults
	}

	remaining := ledger.Remaining(site, rec)

	status := rec.Status
	if status == storage.StatusPending && machine.GraceElapsed(rec, policy.PendingGraceSeconds) {
		status = storage.StatusLocked
	}

	switch {
	case status == storage.StatusLocked:
		red.Println("REDIRECT")
		fmt.Println("            → Site is locked for the rest of the day")
	case status == storage.StatusPending:
		yellow.Println("TRACK (pending)")
		fmt.Printf("            → Grace countdown is running (%d seconds total)\n", policy.PendingGraceSeconds)
	case windowActive && !rec.TimeLockExemptToday:
		yellow.Println("TRACK (entering grace)")
		fmt.Println("            → A time-lock window is in effect")
	case remaining <= 0:
		yellow.Println("TRACK (entering grace)")
		fmt.Println("            → Daily budget is exhausted")
	default:
		green.Println("TRACK")
		fmt.Println("            → Usage will be credited while the tab stays active")
	}

	fmt.Println()
	fmt.Printf("Site:       %s (%s)\n", site.DisplayName, site.Domain)
	fmt.Printf("Status:     %s\n", status)
	fmt.Printf("Used:       %ds of %ds\n", rec.UsedSeconds, site.DailyLimitSeconds)
	fmt.Printf("Remaining:  %ds\n", remaining)
	if windowActive {
		fmt.Printf("Time Lock:  active (mode %s)\n", timeLock.Mode)
	}

	printCheckFooter()
	return nil
}

func runCheckWindow(cmd *cobra.Command, args []string) error {
	checkAt, err := parseCheckTime("", checkTime)
	if err != nil {
		return fmt.Errorf("invalid time specification: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	timeLock, err := store.TimeLock().Get(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		timeLock = &storage.TimeLockPolicy{}
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	printCheckHeader(checkAt)

	if !timeLock.Enabled {
		green.Println("Time lock is disabled")
		printCheckFooter()
		return nil
	}

	fmt.Printf("Mode:       %s\n", timeLock.Mode)
	fmt.Println()

	active := timewindow.ActiveWindow(timeLock.Windows, checkAt)
	if active != nil {
		cyan.Print("State:      ")
		red.Println("LOCKED")
		label := active.Label
		if label == "" {
			label = active.ID
		}
		fmt.Printf("Window:     %s (%s - %s)\n", label, active.StartTime, active.EndTime)
	} else {
		cyan.Print("State:      ")
		green.Println("OPEN")
	}

	if next, ok := timewindow.NextBoundary(timeLock.Windows, checkAt); ok {
		fmt.Printf("Next edge:  %s\n", next.Format("2006-01-02 15:04"))
	}

	fmt.Println()
	for _, w := range timeLock.Windows {
		state := "enabled"
		if !w.Enabled {
			state = "disabled"
		}
		fmt.Printf("  %s - %s  %-8s  %s\n", w.StartTime, w.EndTime, state, w.Label)
	}

	printCheckFooter()
	return nil
}

// findMonitoredSite resolves a host to a monitored site, walking up the
// label chain so subdomains match their parent entry.
func findMonitoredSite(ctx context.Context, store storage.Store, host string) (*storage.Site, error) {
	candidate := host
	for candidate != "" {
		site, err := store.Sites().GetByDomain(ctx, candidate)
		if err == nil {
			return site, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		idx := -1
		for i, c := range candidate {
			if c == '.' {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		candidate = candidate[idx+1:]
	}
	return nil, storage.ErrNotFound
}

func printCheckHeader(at time.Time) {
	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("SITEWARDEN CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Printf("Check Time: %s (%s)\n", at.Format("2006-01-02 15:04"), at.Weekday())
}

func printCheckFooter() {
	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// parseCheckTime combines optional date and time flags into a time.Time
func parseCheckTime(dateStr, timeStr string) (time.Time, error) {
	now := time.Now()

	year, month, day := now.Date()
	if dateStr != "" {
		d, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("date must be in YYYY-MM-DD format")
		}
		year, month, day = d.Date()
	}

	hour := now.Hour()
	minute := now.Minute()
	if timeStr != "" {
		m, err := timewindow.ParseMinutes(timeStr)
		if err != nil {
			return time.Time{}, err
		}
		hour = m / 60
		minute = m % 60
	}

	return time.Date(year, month, day, hour, minute, 0, 0, time.Local), nil
}
