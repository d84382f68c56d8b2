package gormstore

import (
	"encoding/json"
	"time"

	"candlefeed/internal/market"

	"gorm.io/datatypes"
)

type candleModel struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	Provider  string    `gorm:"column:provider;uniqueIndex:idx_candle_key,priority:1"`
	Symbol    string    `gorm:"column:symbol;uniqueIndex:idx_candle_key,priority:2"`
	Interval  string    `gorm:"column:interval;uniqueIndex:idx_candle_key,priority:3"`
	TS        int64     `gorm:"column:ts;uniqueIndex:idx_candle_key,priority:4"`
	Open      float64   `gorm:"column:open"`
	High      float64   `gorm:"column:high"`
	Low       float64   `gorm:"column:low"`
	Close     float64   `gorm:"column:close"`
	PrevClose *float64  `gorm:"column:prev_close"`
	Volume    float64   `gorm:"column:volume"`
	Color     string    `gorm:"column:color"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (candleModel) TableName() string { return "candles" }

func toModel(key market.SeriesKey, c market.Candle, now time.Time) candleModel {
	return candleModel{
		Provider:  key.Provider,
		Symbol:    key.Symbol,
		Interval:  key.Interval,
		TS:        c.Timestamp.UnixMilli(),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		PrevClose: c.PrevClose,
		Volume:    c.Volume,
		Color:     string(c.Color),
		UpdatedAt: now,
	}
}

func (m candleModel) toCandle() market.Candle {
	return market.Candle{
		Symbol:    m.Symbol,
		Provider:  m.Provider,
		Interval:  m.Interval,
		Timestamp: time.UnixMilli(m.TS).UTC(),
		Open:      m.Open,
		High:      m.High,
		Low:       m.Low,
		Close:     m.Close,
		PrevClose: m.PrevClose,
		Volume:    m.Volume,
		Color:     market.Color(m.Color),
	}
}

type manifestModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Provider      string         `gorm:"column:provider;uniqueIndex:idx_manifest_key,priority:1"`
	Symbol        string         `gorm:"column:symbol;uniqueIndex:idx_manifest_key,priority:2"`
	Interval      string         `gorm:"column:interval;uniqueIndex:idx_manifest_key,priority:3"`
	Rows          int64          `gorm:"column:row_count"`
	MinTS         int64          `gorm:"column:min_ts"`
	MaxTS         int64          `gorm:"column:max_ts"`
	LastSyncAt    time.Time      `gorm:"column:last_sync_at"`
	FailedWindows datatypes.JSON `gorm:"column:failed_windows;type:TEXT"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (manifestModel) TableName() string { return "series_manifest" }

// Manifest summarizes one mirrored series.
type Manifest struct {
	Key           market.SeriesKey     `json:"key"`
	Rows          int64                `json:"rows"`
	First         time.Time            `json:"first,omitempty"`
	Last          time.Time            `json:"last,omitempty"`
	LastSyncAt    time.Time            `json:"last_sync_at"`
	FailedWindows []market.FetchWindow `json:"failed_windows"`
}

func (m manifestModel) toManifest() Manifest {
	out := Manifest{
		Key:        market.SeriesKey{Provider: m.Provider, Symbol: m.Symbol, Interval: m.Interval},
		Rows:       m.Rows,
		LastSyncAt: m.LastSyncAt.UTC(),
	}
	if m.Rows > 0 {
		out.First = time.UnixMilli(m.MinTS).UTC()
		out.Last = time.UnixMilli(m.MaxTS).UTC()
	}
	if len(m.FailedWindows) > 0 {
		_ = json.Unmarshal(m.FailedWindows, &out.FailedWindows)
	}
	return out
}
