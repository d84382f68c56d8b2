// Package gormstore mirrors persisted series into SQLite for range queries
// and keeps a per-series manifest.
package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"candlefeed/internal/market"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore is the query mirror. The CSV files stay the source of truth.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&candleModel{}, &manifestModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db, now: time.Now}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert writes candles keyed by (provider, symbol, interval, ts) and
// refreshes the manifest row counts.
func (s *GormStore) Upsert(ctx context.Context, key market.SeriesKey, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	models := make([]candleModel, 0, len(candles))
	now := s.now()
	for _, c := range candles {
		models = append(models, toModel(key, c, now))
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "symbol"}, {Name: "interval"}, {Name: "ts"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"open", "high", "low", "close", "prev_close", "volume", "color", "updated_at",
			}),
		}).CreateInBatches(&models, 500).Error; err != nil {
			return err
		}
		return refreshManifest(tx, key, now)
	})
	if err != nil {
		return &market.PersistenceError{Key: key, Op: "mirror", Err: err}
	}
	return nil
}

// Range returns candles with from <= ts < to, ascending. Zero bounds are
// open. limit > 0 keeps the newest limit rows.
func (s *GormStore) Range(ctx context.Context, key market.SeriesKey, from, to time.Time, limit int) ([]market.Candle, error) {
	q := s.db.WithContext(ctx).Model(&candleModel{}).
		Where("provider = ? AND symbol = ? AND interval = ?", key.Provider, key.Symbol, key.Interval)
	if !from.IsZero() {
		q = q.Where("ts >= ?", from.UnixMilli())
	}
	if !to.IsZero() {
		q = q.Where("ts < ?", to.UnixMilli())
	}
	var rows []candleModel
	if limit > 0 {
		q = q.Order("ts DESC").Limit(limit)
	} else {
		q = q.Order("ts ASC")
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, &market.PersistenceError{Key: key, Op: "query", Err: err}
	}
	if limit > 0 {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	out := make([]market.Candle, len(rows))
	for i, r := range rows {
		out[i] = r.toCandle()
	}
	return out, nil
}

// RecordFailedWindows replaces the manifest's failed-window list for key.
func (s *GormStore) RecordFailedWindows(ctx context.Context, key market.SeriesKey, windows []market.FetchWindow) error {
	payload, err := json.Marshal(windowsOrEmpty(windows))
	if err != nil {
		return err
	}
	m := manifestModel{
		Provider:      key.Provider,
		Symbol:        key.Symbol,
		Interval:      key.Interval,
		FailedWindows: datatypes.JSON(payload),
		UpdatedAt:     s.now(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "symbol"}, {Name: "interval"}},
		DoUpdates: clause.AssignmentColumns([]string{"failed_windows", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return &market.PersistenceError{Key: key, Op: "manifest", Err: err}
	}
	return nil
}

func (s *GormStore) Manifest(ctx context.Context, key market.SeriesKey) (Manifest, bool, error) {
	var m manifestModel
	res := s.db.WithContext(ctx).
		Where("provider = ? AND symbol = ? AND interval = ?", key.Provider, key.Symbol, key.Interval).
		Limit(1).Find(&m)
	if res.Error != nil {
		return Manifest{}, false, &market.PersistenceError{Key: key, Op: "manifest", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return Manifest{}, false, nil
	}
	return m.toManifest(), true, nil
}

func (s *GormStore) Manifests(ctx context.Context) ([]Manifest, error) {
	var rows []manifestModel
	if err := s.db.WithContext(ctx).Order("provider, symbol, interval").Find(&rows).Error; err != nil {
		return nil, &market.PersistenceError{Op: "manifest", Err: err}
	}
	out := make([]Manifest, len(rows))
	for i, r := range rows {
		out[i] = r.toManifest()
	}
	return out, nil
}

func refreshManifest(tx *gorm.DB, key market.SeriesKey, now time.Time) error {
	var agg struct {
		RowCount int64
		MinTS    *int64
		MaxTS    *int64
	}
	if err := tx.Model(&candleModel{}).
		Select("COUNT(*) AS row_count, MIN(ts) AS min_ts, MAX(ts) AS max_ts").
		Where("provider = ? AND symbol = ? AND interval = ?", key.Provider, key.Symbol, key.Interval).
		Scan(&agg).Error; err != nil {
		return err
	}
	m := manifestModel{
		Provider:      key.Provider,
		Symbol:        key.Symbol,
		Interval:      key.Interval,
		Rows:          agg.RowCount,
		LastSyncAt:    now,
		UpdatedAt:     now,
		FailedWindows: datatypes.JSON("[]"),
	}
	if agg.MinTS != nil {
		m.MinTS = *agg.MinTS
	}
	if agg.MaxTS != nil {
		m.MaxTS = *agg.MaxTS
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "symbol"}, {Name: "interval"}},
		DoUpdates: clause.AssignmentColumns([]string{"row_count", "min_ts", "max_ts", "last_sync_at", "updated_at"}),
	}).Create(&m).Error
}

func windowsOrEmpty(ws []market.FetchWindow) []market.FetchWindow {
	if ws == nil {
		return []market.FetchWindow{}
	}
	return ws
}
