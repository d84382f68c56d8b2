package fanout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"candlefeed/internal/market"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset   = "\033[0m"
	ansiRed     = "\033[31m"
	ansiGreen   = "\033[32m"
	ansiYellow  = "\033[33m"
	ansiMagenta = "\033[35m"
	ansiCyan    = "\033[36m"
)

// ConsoleSink prints one colored line per candle. Batches longer than
// MaxLines print their tail and a count of the skipped candles.
type ConsoleSink struct {
	mu       sync.Mutex
	out      io.Writer
	color    bool
	MaxLines int
}

func NewConsoleSink(out io.Writer) *ConsoleSink {
	if out == nil {
		out = os.Stdout
	}
	color := false
	if f, ok := out.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &ConsoleSink{out: out, color: color, MaxLines: 20}
}

func (c *ConsoleSink) Name() string { return "console" }

func (c *ConsoleSink) Deliver(_ context.Context, b Batch) error {
	candles := b.Candles
	skipped := 0
	if c.MaxLines > 0 && len(candles) > c.MaxLines {
		skipped = len(candles) - c.MaxLines
		candles = candles[skipped:]
	}
	var sb strings.Builder
	label := c.label(b.Mode)
	if skipped > 0 {
		fmt.Fprintf(&sb, "%s %s: %d earlier candles not shown\n", label, b.Key, skipped)
	}
	for _, candle := range candles {
		sb.WriteString(c.Line(label, candle))
		sb.WriteByte('\n')
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, sb.String())
	return err
}

// Line renders one candle with an arrow for close against open.
func (c *ConsoleSink) Line(label string, candle market.Candle) string {
	arrow, ocColor := "→", ansiYellow
	switch {
	case candle.Close > candle.Open:
		arrow, ocColor = "↑", ansiGreen
	case candle.Close < candle.Open:
		arrow, ocColor = "↓", ansiRed
	}
	return fmt.Sprintf("%s %s %s | %s %s %s Vol:%.2f",
		label,
		candle.Symbol,
		candle.TimeString(nil),
		c.paint(ocColor, fmt.Sprintf("%s Open:%.2f Close:%.2f", arrow, candle.Open, candle.Close)),
		c.paint(relColor(candle.High, candle.Open), fmt.Sprintf("High:%.2f", candle.High)),
		c.paint(relColor(candle.Low, candle.Open), fmt.Sprintf("Low:%.2f", candle.Low)),
		candle.Volume,
	)
}

func (c *ConsoleSink) label(mode Mode) string {
	switch mode {
	case ModeLive:
		return c.paint(ansiCyan, "[LIVE]")
	case ModeTrain:
		return c.paint(ansiMagenta, "[TRAIN]")
	case ModeBackfill:
		return c.paint(ansiMagenta, "[BACKFILL]")
	default:
		return "[" + strings.ToUpper(string(mode)) + "]"
	}
}

func (c *ConsoleSink) paint(code, s string) string {
	if !c.color {
		return s
	}
	return code + s + ansiReset
}

func relColor(v, open float64) string {
	switch {
	case v > open:
		return ansiGreen
	case v < open:
		return ansiRed
	default:
		return ansiYellow
	}
}
