// Package journal keeps a bounded history of finished sessions. Transcript text is
// never stored.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"dictabridge/internal/domain"
)

const keyPrefix = "session/"

// DefaultRetention bounds how long outcomes are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Journal implements ports.Journal on badger.
type Journal struct {
	db        *badger.DB
	retention time.Duration
}

// Open opens the journal in dir. An empty dir keeps it in memory.
func Open(dir string, retention time.Duration, logger *slog.Logger) (*Journal, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger: logger.With("component", "journal")})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db, retention: retention}, nil
}

// Record stores one outcome.
func (j *Journal) Record(ctx context.Context, outcome domain.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	key := outcomeKey(outcome)
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, value).WithTTL(j.retention))
	})
}

// Recent returns up to n outcomes, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]domain.Outcome, error) {
	if n <= 0 {
		return nil, nil
	}

	var outcomes []domain.Outcome
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration has to start past the last key carrying the prefix.
		for it.Seek([]byte(keyPrefix + "\xff")); it.Valid() && len(outcomes) < n; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var outcome domain.Outcome
			if err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &outcome)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// Close flushes and closes the store.
func (j *Journal) Close() error {
	return j.db.Close()
}

func outcomeKey(outcome domain.Outcome) []byte {
	ended := outcome.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	return []byte(fmt.Sprintf("%s%020d/%s", keyPrefix, ended.UnixNano(), outcome.SessionID))
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
