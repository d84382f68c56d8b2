package series

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"candlefeed/internal/market"
)

// LocationFunc picks the zone a key's timestamps are rendered in.
type LocationFunc func(key market.SeriesKey) *time.Location

// FileStore keeps one CSV per key under <dir>/<provider>/<SYMBOL>-<interval>.csv.
// Saves rewrite the whole file through a temp file and rename.
type FileStore struct {
	dir      string
	location LocationFunc
}

func NewFileStore(dir string, location LocationFunc) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("series: data dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("series: create data dir: %w", err)
	}
	if location == nil {
		location = func(market.SeriesKey) *time.Location { return time.UTC }
	}
	return &FileStore{dir: dir, location: location}, nil
}

func (s *FileStore) Dir() string { return s.dir }

// Path is where key's series lives.
func (s *FileStore) Path(key market.SeriesKey) string {
	return filepath.Join(s.dir, key.Provider, fileName(key.Symbol, key.Interval))
}

func (s *FileStore) Load(_ context.Context, key market.SeriesKey) ([]market.Candle, error) {
	f, err := os.Open(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &market.PersistenceError{Key: key, Op: "load", Err: err}
	}
	defer f.Close()
	out, err := ReadCSV(f, key, s.location(key))
	if err != nil {
		return nil, &market.PersistenceError{Key: key, Op: "load", Err: err}
	}
	return out, nil
}

func (s *FileStore) Save(_ context.Context, key market.SeriesKey, candles []market.Candle) error {
	if key.IsZero() {
		return &market.PersistenceError{Key: key, Op: "save", Err: errEmptyKey}
	}
	if err := writeAtomic(s.Path(key), func(f *os.File) error {
		return WriteCSV(f, candles, s.location(key))
	}); err != nil {
		return &market.PersistenceError{Key: key, Op: "save", Err: err}
	}
	return nil
}

func (s *FileStore) Keys(_ context.Context) ([]market.SeriesKey, error) {
	var out []market.SeriesKey
	providers, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &market.PersistenceError{Op: "keys", Err: err}
	}
	for _, p := range providers {
		if !p.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.dir, p.Name()))
		if err != nil {
			return nil, &market.PersistenceError{Op: "keys", Err: err}
		}
		for _, f := range files {
			if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
				continue
			}
			sym, interval, ok := parseFileName(f.Name())
			if !ok {
				continue
			}
			out = append(out, market.NewSeriesKey(sym, p.Name(), interval))
		}
	}
	sortKeys(out)
	return out, nil
}

func fileName(symbol, interval string) string {
	return fmt.Sprintf("%s-%s.csv", strings.ToUpper(symbol), interval)
}

// parseFileName splits on the last dash; symbols like BTC-USD keep theirs.
func parseFileName(name string) (string, string, bool) {
	base, ok := strings.CutSuffix(name, ".csv")
	if !ok {
		return "", "", false
	}
	i := strings.LastIndex(base, "-")
	if i <= 0 || i == len(base)-1 {
		return "", "", false
	}
	return base[:i], base[i+1:], true
}

// writeAtomic writes path via a synced temp file in the same directory.
func writeAtomic(path string, write func(*os.File) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
