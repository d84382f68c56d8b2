package fanout

import (
	"candlefeed/internal/market"
)

// CandlePayload is the wire shape of a candle on the webhook and the
// stream: the timestamp uses the series layout in UTC.
type CandlePayload struct {
	Timestamp string   `json:"timestamp"`
	Symbol    string   `json:"symbol"`
	Open      float64  `json:"open"`
	High      float64  `json:"high"`
	Low       float64  `json:"low"`
	Close     float64  `json:"close"`
	PrevClose *float64 `json:"prev_close"`
	Volume    float64  `json:"volume"`
	Color     string   `json:"color"`
}

// Payload converts a candle to its wire shape.
func Payload(c market.Candle) CandlePayload {
	return CandlePayload{
		Timestamp: c.TimeString(nil),
		Symbol:    c.Symbol,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		PrevClose: c.PrevClose,
		Volume:    c.Volume,
		Color:     string(c.Color),
	}
}

// Payloads converts a batch.
func Payloads(cs []market.Candle) []CandlePayload {
	out := make([]CandlePayload, len(cs))
	for i, c := range cs {
		out[i] = Payload(c)
	}
	return out
}

