package series

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"candlefeed/internal/market"
)

// Header is the column layout of every persisted or exported series file.
var Header = []string{"timestamp", "symbol", "open", "high", "low", "close", "prev_close", "volume", "color"}

var errEmptyKey = errors.New("empty series key")

// WriteCSV writes candles with timestamps rendered in loc.
func WriteCSV(w io.Writer, candles []market.Candle, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, c := range candles {
		prev := ""
		if c.PrevClose != nil {
			prev = floatStr(*c.PrevClose)
		}
		if err := cw.Write([]string{
			c.TimeString(loc),
			c.Symbol,
			floatStr(c.Open),
			floatStr(c.High),
			floatStr(c.Low),
			floatStr(c.Close),
			prev,
			floatStr(c.Volume),
			string(c.Color),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a series file. Provider and interval come from key since
// the file does not carry them.
func ReadCSV(r io.Reader, key market.SeriesKey, loc *time.Location) ([]market.Candle, error) {
	if loc == nil {
		loc = time.UTC
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if strings.Join(head, ",") != strings.Join(Header, ",") {
		return nil, fmt.Errorf("unexpected header %q", strings.Join(head, ","))
	}
	var out []market.Candle
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		c, err := parseRecord(rec, key, loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
}

func parseRecord(rec []string, key market.SeriesKey, loc *time.Location) (market.Candle, error) {
	ts, err := time.ParseInLocation(market.TimestampLayout, rec[0], loc)
	if err != nil {
		return market.Candle{}, err
	}
	c := market.Candle{
		Symbol:    rec[1],
		Provider:  key.Provider,
		Interval:  key.Interval,
		Timestamp: ts.UTC(),
	}
	for i, dst := range []*float64{&c.Open, &c.High, &c.Low, &c.Close} {
		if *dst, err = strconv.ParseFloat(rec[2+i], 64); err != nil {
			return market.Candle{}, fmt.Errorf("%s: %w", Header[2+i], err)
		}
	}
	if rec[6] != "" {
		pc, err := strconv.ParseFloat(rec[6], 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("prev_close: %w", err)
		}
		c.PrevClose = &pc
	}
	if c.Volume, err = strconv.ParseFloat(rec[7], 64); err != nil {
		return market.Candle{}, fmt.Errorf("volume: %w", err)
	}
	switch col := market.Color(rec[8]); col {
	case market.ColorGreen, market.ColorRed, market.ColorNeutral:
		c.Color = col
	default:
		c.Color = market.ColorOf(c.Close, c.Reference())
	}
	return c, nil
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
