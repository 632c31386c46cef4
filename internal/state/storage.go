// Package state persists pipeline progress between runs.
//
// A Storage keeps one Checkpoint, always written as a whole. State sits on
// top of it, holds the in-memory copy and knows the keys the pipeline uses.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Checkpoint is the persisted mapping. Values must survive a JSON round trip.
type Checkpoint map[string]interface{}

// Storage is a durable home for a single Checkpoint.
type Storage interface {
	// Save replaces whatever is stored with cp.
	Save(ctx context.Context, cp Checkpoint) error
	// Retrieve returns the stored checkpoint, or an empty one if nothing is stored.
	Retrieve(ctx context.Context) (Checkpoint, error)
	// CleanUp removes all stored state.
	CleanUp(ctx context.Context) error
	Close() error
}

const (
	BackendFile   = "file"
	BackendMongo  = "mongo"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// ErrUnknownBackend is returned by Open for an unrecognised backend name.
var ErrUnknownBackend = errors.New("unknown checkpoint backend")

// Options selects and configures a Storage backend.
type Options struct {
	Backend string
	// Path is the file for file/sqlite and the directory for badger.
	Path string
	// Key names the checkpoint inside shared stores (mongo, badger, sqlite).
	Key string

	MongoURI        string
	MongoDatabase   string
	MongoCollection string
}

// Open constructs the configured backend.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Storage, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStorage(opts.Path), nil
	case BackendMongo:
		return OpenMongoStorage(ctx, opts.MongoURI, opts.MongoDatabase, opts.MongoCollection, opts.Key)
	case BackendBadger:
		return OpenBadgerStorage(opts.Path, opts.Key, logger)
	case BackendSQLite:
		return OpenSQLiteStorage(ctx, opts.Path, opts.Key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

func encode(cp Checkpoint) ([]byte, error) {
	if cp == nil {
		cp = Checkpoint{}
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Checkpoint, error) {
	cp := Checkpoint{}
	if len(data) == 0 {
		return cp, nil
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp == nil {
		cp = Checkpoint{}
	}
	return cp, nil
}
