package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"candlefeed/internal/logger"
	"candlefeed/internal/market"
	"candlefeed/internal/store/series"

	"github.com/parquet-go/parquet-go"
	"github.com/robfig/cron/v3"
)

const exportStampLayout = "2006-01-02_15-04-05"

// ExportFileName is <SYMBOL>-<interval>-<provider>-<stamp>.<ext>.
func ExportFileName(key market.SeriesKey, at time.Time, ext string) string {
	return fmt.Sprintf("%s-%s-%s-%s.%s",
		strings.ToUpper(key.Symbol), key.Interval, key.Provider, at.UTC().Format(exportStampLayout), ext)
}

type parquetRow struct {
	Timestamp int64    `parquet:"timestamp"`
	Symbol    string   `parquet:"symbol"`
	Open      float64  `parquet:"open"`
	High      float64  `parquet:"high"`
	Low       float64  `parquet:"low"`
	Close     float64  `parquet:"close"`
	PrevClose *float64 `parquet:"prev_close,optional"`
	Volume    float64  `parquet:"volume"`
	Color     string   `parquet:"color"`
}

// Exporter writes series snapshots under <dir>/<provider>/.
type Exporter struct {
	dir      string
	store    series.Store
	location series.LocationFunc
	now      func() time.Time
	create   func(path string) (io.WriteCloser, error)
}

func NewExporter(dir string, store series.Store, location series.LocationFunc) *Exporter {
	if location == nil {
		location = func(market.SeriesKey) *time.Location { return time.UTC }
	}
	return &Exporter{
		dir:      dir,
		store:    store,
		location: location,
		now:      time.Now,
		create:   func(path string) (io.WriteCloser, error) { return os.Create(path) },
	}
}

func (e *Exporter) path(key market.SeriesKey, ext string) (string, error) {
	dir := filepath.Join(e.dir, key.Provider)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, ExportFileName(key, e.now(), ext)), nil
}

// ExportCSV writes candles in the series file layout.
func (e *Exporter) ExportCSV(key market.SeriesKey, candles []market.Candle) (string, error) {
	wrap := func(err error) error { return &market.PersistenceError{Key: key, Op: "export", Err: err} }
	path, err := e.path(key, "csv")
	if err != nil {
		return "", wrap(err)
	}
	f, err := e.create(path)
	if err != nil {
		return "", wrap(err)
	}
	if err := series.WriteCSV(f, candles, e.location(key)); err != nil {
		_ = f.Close()
		return "", wrap(err)
	}
	if err := f.Close(); err != nil {
		return "", wrap(err)
	}
	return path, nil
}

// ExportParquet writes candles with millisecond UTC timestamps.
func (e *Exporter) ExportParquet(key market.SeriesKey, candles []market.Candle) (string, error) {
	path, err := e.path(key, "parquet")
	if err != nil {
		return "", &market.PersistenceError{Key: key, Op: "export", Err: err}
	}
	rows := make([]parquetRow, len(candles))
	for i, c := range candles {
		rows[i] = parquetRow{
			Timestamp: c.Timestamp.UnixMilli(),
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
	if err := parquet.WriteFile(path, rows); err != nil {
		return "", &market.PersistenceError{Key: key, Op: "export", Err: err}
	}
	return path, nil
}

// ExportAll snapshots every persisted series to parquet. One failing key
// does not stop the others.
func (e *Exporter) ExportAll(ctx context.Context) ([]string, error) {
	keys, err := e.store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	var firstErr error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		candles, err := e.store.Load(ctx, key)
		if err == nil && len(candles) == 0 {
			continue
		}
		var path string
		if err == nil {
			path, err = e.ExportParquet(key, candles)
		}
		if err != nil {
			logger.Warnf("export %s failed: %v", key, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		paths = append(paths, path)
	}
	return paths, firstErr
}

// ExportScheduler runs ExportAll on a cron spec with a seconds field.
type ExportScheduler struct {
	cron     *cron.Cron
	exporter *Exporter
	spec     string

	mu  sync.Mutex
	ctx context.Context
}

func NewExportScheduler(spec string, exporter *Exporter) (*ExportScheduler, error) {
	s := &ExportScheduler{
		cron:     cron.New(cron.WithSeconds()),
		exporter: exporter,
		spec:     spec,
		ctx:      context.Background(),
	}
	if _, err := s.cron.AddFunc(spec, s.exportTask); err != nil {
		return nil, fmt.Errorf("register export task %q: %w", spec, err)
	}
	return s, nil
}

// Run starts the cron and blocks until ctx ends, then waits for a running
// export to finish.
func (s *ExportScheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	logger.Infof("export scheduler started spec=%q", s.spec)
	<-ctx.Done()
	<-s.cron.Stop().Done()
	logger.Infof("export scheduler stopped")
	return nil
}

func (s *ExportScheduler) exportTask() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	start := time.Now()
	paths, err := s.exporter.ExportAll(ctx)
	if err != nil {
		logger.Warnf("scheduled export finished with errors: %v", err)
	}
	logger.Infof("scheduled export wrote %d files in %s", len(paths), time.Since(start).Truncate(time.Millisecond))
}
