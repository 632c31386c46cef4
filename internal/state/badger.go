package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// BadgerStorage keeps the checkpoint under one key in an embedded BadgerDB.
type BadgerStorage struct {
	db  *badger.DB
	key []byte
}

var _ Storage = (*BadgerStorage)(nil)

// badgerLogger routes badger's own logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBadgerStorage opens (creating if needed) a database in dir.
// An empty dir opens an in-memory database.
func OpenBadgerStorage(dir, key string, logger *slog.Logger) (*BadgerStorage, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStorage{db: db, key: []byte("checkpoint/" + key)}, nil
}

func (s *BadgerStorage) Save(_ context.Context, cp Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, data)
	})
}

func (s *BadgerStorage) Retrieve(_ context.Context) (Checkpoint, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint from badger: %w", err)
	}
	return decode(data)
}

func (s *BadgerStorage) CleanUp(_ context.Context) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key)
	})
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}
