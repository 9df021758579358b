package data

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var barsBucket = []byte("bars")

// Store persists MinuteBars to one bbolt database file per (product, date),
// keyed by big-endian Unix-nanosecond timestamp so cursor iteration returns
// bars in chronological order.
type Store struct {
	dataDir string
}

// NewStore creates a Store rooted at dataDir, creating the directory if
// it does not exist.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data: create data dir: %w", err)
	}
	return &Store{dataDir: dataDir}, nil
}

func (s *Store) dbPath(product, date string) string {
	return filepath.Join(s.dataDir, product, date+".db")
}

func keyOf(ts time.Time) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(ts.UnixNano()))
	return key
}

// SaveDay writes bars for product on date, overwriting any prior snapshot
// for the same (product, date).
func (s *Store) SaveDay(product, date string, bars []MinuteBar) error {
	path := s.dbPath(product, date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("data: create product dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("data: open %s: %w", path, err)
	}
	defer db.Close()

	return db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(barsBucket); err != nil && err != bbolt.ErrBucketNotFound {
			return fmt.Errorf("clear bars bucket: %w", err)
		}
		b, err := tx.CreateBucket(barsBucket)
		if err != nil {
			return fmt.Errorf("create bars bucket: %w", err)
		}
		for _, bar := range bars {
			data, err := json.Marshal(bar)
			if err != nil {
				return fmt.Errorf("marshal bar: %w", err)
			}
			if err := b.Put(keyOf(bar.Timestamp), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadDay reads back the bars previously saved for (product, date) in
// ascending timestamp order. Returns an empty slice, not an error, if no
// snapshot exists.
func (s *Store) LoadDay(product, date string) ([]MinuteBar, error) {
	path := s.dbPath(product, date)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("data: open %s: %w", path, err)
	}
	defer db.Close()

	var bars []MinuteBar
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(barsBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var bar MinuteBar
			if err := json.Unmarshal(v, &bar); err != nil {
				continue
			}
			bars = append(bars, bar)
		}
		return nil
	})
	return bars, err
}

// CleanupOlderThan deletes per-product snapshot files dated more than
// maxAge before now.
func (s *Store) CleanupOlderThan(now time.Time, maxAge time.Duration) error {
	cutoff := now.Add(-maxAge)

	products, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, product := range products {
		if !product.IsDir() {
			continue
		}
		dir := filepath.Join(s.dataDir, product.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			ext := filepath.Ext(f.Name())
			if ext != ".db" {
				continue
			}
			dateStr := f.Name()[:len(f.Name())-len(ext)]
			day, err := time.Parse("2006-01-02", dateStr)
			if err != nil {
				continue
			}
			if day.Before(cutoff) {
				_ = os.Remove(filepath.Join(dir, f.Name()))
			}
		}
	}
	return nil
}
