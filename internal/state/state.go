package state

import (
	"context"
	"fmt"
	"time"

	"github.com/BartekS5/moviesync/pkg/utils"
)

// Keys the pipeline keeps in the checkpoint.
const (
	// KeyModified holds the watermark: source changes up to this instant are indexed.
	KeyModified = "modified"
	// KeyPreparedQuery holds a bulk payload that was built but not yet confirmed.
	KeyPreparedQuery = "prepared_query"
)

// State is the in-memory copy of a Checkpoint. Every mutation re-saves the
// whole mapping through the underlying Storage. Not safe for concurrent use;
// a pipeline run owns its State exclusively.
type State struct {
	storage Storage
	data    Checkpoint
}

// Load reads the current checkpoint from storage.
func Load(ctx context.Context, storage Storage) (*State, error) {
	cp, err := storage.Retrieve(ctx)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		cp = Checkpoint{}
	}
	return &State{storage: storage, data: cp}, nil
}

// Get returns the raw value stored under key.
func (s *State) Get(key string) (interface{}, bool) {
	v, ok := s.data[key]
	return v, ok && v != nil
}

// Set stores value under key and persists the full checkpoint.
func (s *State) Set(ctx context.Context, key string, value interface{}) error {
	s.data[key] = value
	return s.storage.Save(ctx, s.data)
}

// Delete drops key and persists the full checkpoint.
func (s *State) Delete(ctx context.Context, key string) error {
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.storage.Save(ctx, s.data)
}

// Snapshot returns a shallow copy of the checkpoint.
func (s *State) Snapshot() Checkpoint {
	out := make(Checkpoint, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Watermark returns the stored watermark, if any.
func (s *State) Watermark() (time.Time, bool, error) {
	v, ok := s.Get(KeyModified)
	if !ok {
		return time.Time{}, false, nil
	}
	t, err := utils.ConvertDateTime(v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("checkpoint %q: %w", KeyModified, err)
	}
	return t, true, nil
}

// SetWatermark persists t as the new watermark.
func (s *State) SetWatermark(ctx context.Context, t time.Time) error {
	return s.Set(ctx, KeyModified, utils.FormatDateTime(t))
}

// PreparedQuery returns the in-flight bulk payload, if any.
func (s *State) PreparedQuery() ([]byte, bool, error) {
	v, ok := s.Get(KeyPreparedQuery)
	if !ok {
		return nil, false, nil
	}
	str, err := utils.ConvertToString(v)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint %q: %w", KeyPreparedQuery, err)
	}
	if str == "" {
		return nil, false, nil
	}
	return []byte(str), true, nil
}

// SetPreparedQuery persists payload as in flight.
func (s *State) SetPreparedQuery(ctx context.Context, payload []byte) error {
	return s.Set(ctx, KeyPreparedQuery, string(payload))
}

// ClearPreparedQuery marks the in-flight payload as delivered.
func (s *State) ClearPreparedQuery(ctx context.Context) error {
	return s.Delete(ctx, KeyPreparedQuery)
}

// Finish ends an indexing cycle: everything stored is cleaned up and only
// the watermark is written back.
func (s *State) Finish(ctx context.Context) error {
	wm, hasWM := s.data[KeyModified]
	if err := s.storage.CleanUp(ctx); err != nil {
		return err
	}
	s.data = Checkpoint{}
	if !hasWM || wm == nil {
		return nil
	}
	return s.Set(ctx, KeyModified, wm)
}

// Reset drops all stored progress, watermark included.
func (s *State) Reset(ctx context.Context) error {
	if err := s.storage.CleanUp(ctx); err != nil {
		return err
	}
	s.data = Checkpoint{}
	return nil
}
