// Package store persists candle series between bot restarts.
//
// The store writes the whole series as one JSON document, replacing the
// previous snapshot atomically. Candle history is cheap to refetch, so the
// store is a warm-start optimization, not a system of record: a missing or
// corrupt file means a fresh backfill, never data loss.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"crossbot/internal/series"
)

// ErrNotFound indicates no snapshot exists for the requested timeframe.
var ErrNotFound = errors.New("no stored series found")

// FileStore saves one JSON snapshot file per timeframe under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir, creating the directory when
// needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// path returns the snapshot file for one timeframe, e.g. klines-1m.json.
func (fs *FileStore) path(timeframe string) string {
	return filepath.Join(fs.dir, fmt.Sprintf("klines-%s.json", timeframe))
}

// Load reads the stored series for a timeframe. Returns ErrNotFound when no
// snapshot exists.
func (fs *FileStore) Load(timeframe string) (*series.Series, error) {
	data, err := os.ReadFile(fs.path(timeframe))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: timeframe %q", ErrNotFound, timeframe)
		}
		return nil, fmt.Errorf("read series snapshot: %w", err)
	}

	var s series.Series
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode series snapshot: %w", err)
	}
	if s.Timeframe != timeframe {
		return nil, fmt.Errorf("%w: snapshot is %q, requested %q",
			series.ErrTimeframeMismatch, s.Timeframe, timeframe)
	}
	log.Debug().Str("timeframe", timeframe).Int("candles", s.Len()).Msg("loaded series snapshot")
	return &s, nil
}

// Save writes the series snapshot atomically: the document lands in a temp
// file first and is renamed over the previous snapshot, so a crash mid-write
// never leaves a truncated file behind.
func (fs *FileStore) Save(s *series.Series) error {
	if s == nil || s.Timeframe == "" {
		return errors.New("cannot save series without a timeframe")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode series snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(fs.dir, "klines-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, fs.path(s.Timeframe)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	log.Debug().Str("timeframe", s.Timeframe).Int("candles", s.Len()).Msg("saved series snapshot")
	return nil
}
