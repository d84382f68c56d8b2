package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"candlefeed/internal/config"
	"candlefeed/internal/config/loader"
	"candlefeed/internal/fanout"
)

type StartupSummary struct {
	Providers ProviderSummary
	Store     StoreSummary
	Live      LiveSummary
	Fanout    FanoutSummary
	Export    ExportSummary
	Watchlist []string
}

type ProviderSummary struct {
	Enabled   []string
	Period    string
	Retries   int
	DropLast  bool
	Breaker   string
	RateLimit map[string]int
}

type StoreSummary struct {
	Driver  string
	DataDir string
	Journal string
	Mirror  string
}

type LiveSummary struct {
	Poll    string
	Aligned bool
	Offset  string
}

type FanoutSummary struct {
	Sinks     []string
	QueueSize int
}

type ExportSummary struct {
	Enabled bool
	Dir     string
	Cron    string
}

func buildSummary(cfg *config.Config, providers []string, dispatcher *fanout.Dispatcher, watched []loader.Target) *StartupSummary {
	s := &StartupSummary{
		Providers: ProviderSummary{
			Enabled:  providers,
			Period:   cfg.Backfill.Period,
			Retries:  cfg.Backfill.MaxRetries,
			DropLast: cfg.Backfill.DropFormingBar,
			Breaker:  fmt.Sprintf("%d failures / %ds", cfg.Backfill.BreakerThreshold, cfg.Backfill.BreakerCooldownSecond),
			RateLimit: map[string]int{
				"binance": cfg.Providers.Binance.RateLimitPerMinute,
				"yahoo":   cfg.Providers.Yahoo.RateLimitPerMinute,
			},
		},
		Store: StoreSummary{
			Driver:  cfg.Store.Driver,
			DataDir: cfg.Store.DataDir,
			Journal: cfg.Store.JournalPath,
			Mirror:  cfg.Store.MirrorPath,
		},
		Live: LiveSummary{
			Poll:    fmt.Sprintf("%ds", cfg.Live.PollSeconds),
			Aligned: cfg.Live.Align,
			Offset:  fmt.Sprintf("%ds", cfg.Live.AlignOffsetSeconds),
		},
		Fanout: FanoutSummary{QueueSize: cfg.Fanout.QueueSize},
		Export: ExportSummary{
			Enabled: cfg.Export.Enabled,
			Dir:     cfg.Export.Dir,
			Cron:    cfg.Export.Cron,
		},
	}
	if dispatcher != nil {
		for _, st := range dispatcher.Stats() {
			s.Fanout.Sinks = append(s.Fanout.Sinks, st.Sink)
		}
	}
	for _, t := range watched {
		s.Watchlist = append(s.Watchlist, fmt.Sprintf("%s@%s/%s", t.Symbol, t.Provider, t.Interval))
	}
	return s
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

func (s *StartupSummary) Fprint(w io.Writer) {
	title := "STARTUP SUMMARY"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[PROVIDERS]")
	fmt.Fprintf(w, "  enabled:    %s\n", formatList(s.Providers.Enabled))
	for _, name := range s.Providers.Enabled {
		fmt.Fprintf(w, "  %-10s  %d req/min\n", name+":", s.Providers.RateLimit[name])
	}
	fmt.Fprintf(w, "  period:     %s\n", s.Providers.Period)
	fmt.Fprintf(w, "  retries:    %d\n", s.Providers.Retries)
	fmt.Fprintf(w, "  breaker:    %s\n", s.Providers.Breaker)
	fmt.Fprintf(w, "  drop last:  %t\n", s.Providers.DropLast)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[STORE]")
	fmt.Fprintf(w, "  driver:     %s\n", s.Store.Driver)
	if s.Store.Driver != "memory" {
		fmt.Fprintf(w, "  data dir:   %s\n", s.Store.DataDir)
	}
	fmt.Fprintf(w, "  journal:    %s\n", s.Store.Journal)
	fmt.Fprintf(w, "  mirror:     %s\n", orDash(s.Store.Mirror))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[LIVE]")
	fmt.Fprintf(w, "  poll:       %s\n", s.Live.Poll)
	if s.Live.Aligned {
		fmt.Fprintf(w, "  aligned:    bar close + %s\n", s.Live.Offset)
	}
	fmt.Fprintf(w, "  watchlist:  %s\n", formatList(s.Watchlist))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[FAN-OUT]")
	fmt.Fprintf(w, "  sinks:      %s\n", formatList(s.Fanout.Sinks))
	fmt.Fprintf(w, "  queue:      %d\n", s.Fanout.QueueSize)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[EXPORT]")
	if s.Export.Enabled {
		fmt.Fprintf(w, "  dir:        %s\n", s.Export.Dir)
		fmt.Fprintf(w, "  cron:       %s\n", s.Export.Cron)
	} else {
		fmt.Fprintln(w, "  (disabled)")
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
