package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/BartekS5/moviesync/internal/state"
	"github.com/BartekS5/moviesync/pkg/elastic"
	"github.com/BartekS5/moviesync/pkg/logger"
	"github.com/BartekS5/moviesync/pkg/models"
	"github.com/BartekS5/moviesync/pkg/retry"
)

var baseTime = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func fastRetry() retry.Policy {
	return retry.New(
		retry.WithJitter(retry.NoJitter),
		retry.WithBackoff(time.Millisecond, time.Millisecond),
		retry.WithLogger(logger.Discard()),
	)
}

func transientErr() error {
	return &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
}

func makeRows(n int, from time.Time) []models.SourceRow {
	rows := make([]models.SourceRow, n)
	for i := range rows {
		rows[i] = models.SourceRow{
			ID:       fmt.Sprintf("fw-%03d", i),
			Title:    fmt.Sprintf("Film %d", i),
			Modified: from.Add(time.Duration(i) * time.Minute),
			Genres:   []string{"Drama"},
		}
	}
	return rows
}

// fakeSource serves rows from memory and can fail chosen calls.
type fakeSource struct {
	mu sync.Mutex

	rows        []models.SourceRow
	personIDs   []string
	minPersonTS *time.Time

	// fail maps an operation name to errors returned on successive calls.
	fail map[string][]error

	opens  int
	closes int
	calls  map[string]int
	// sinceSeen records the watermark passed to ChangedWorkIDs.
	sinceSeen []time.Time
	fetched   [][]string
}

func newFakeSource(rows []models.SourceRow) *fakeSource {
	return &fakeSource{rows: rows, fail: map[string][]error{}, calls: map[string]int{}}
}

func (f *fakeSource) Open(context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextFailure("open"); err != nil {
		return nil, err
	}
	f.opens++
	return &fakeSession{src: f}, nil
}

func (f *fakeSource) nextFailure(op string) error {
	f.calls[op]++
	errs := f.fail[op]
	if len(errs) == 0 {
		return nil
	}
	f.fail[op] = errs[1:]
	return errs[0]
}

type fakeSession struct {
	src    *fakeSource
	closed bool
}

func (s *fakeSession) MinPersonModified(context.Context) (*time.Time, error) {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if err := s.src.nextFailure("min"); err != nil {
		return nil, err
	}
	return s.src.minPersonTS, nil
}

func (s *fakeSession) ChangedPersonIDs(_ context.Context, _ time.Time) ([]string, error) {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if err := s.src.nextFailure("persons"); err != nil {
		return nil, err
	}
	return s.src.personIDs, nil
}

func (s *fakeSession) ChangedWorkIDs(_ context.Context, since time.Time, _ []string) ([]string, error) {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if err := s.src.nextFailure("works"); err != nil {
		return nil, err
	}
	s.src.sinceSeen = append(s.src.sinceSeen, since)
	var ids []string
	for _, r := range s.src.rows {
		if !r.Modified.Before(since) {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func (s *fakeSession) FetchWorks(_ context.Context, ids []string) ([]models.SourceRow, error) {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if err := s.src.nextFailure("fetch"); err != nil {
		return nil, err
	}
	s.src.fetched = append(s.src.fetched, append([]string(nil), ids...))
	byID := make(map[string]models.SourceRow, len(s.src.rows))
	for _, r := range s.src.rows {
		byID[r.ID] = r
	}
	out := make([]models.SourceRow, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeSession) Close() {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.src.closes++
	}
}

// fakeSink records payloads and answers with per-document results.
type fakeSink struct {
	mu sync.Mutex

	payloads [][]byte
	// fail holds errors returned by successive calls before any success.
	fail []error
	// reject lists document ids the sink refuses.
	reject map[string]bool
	// onBulk runs before the response is produced.
	onBulk func(payload []byte)
}

func newFakeSink() *fakeSink {
	return &fakeSink{reject: map[string]bool{}}
}

func (s *fakeSink) Bulk(_ context.Context, payload []byte) (*elastic.BulkResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	if s.onBulk != nil {
		s.onBulk(payload)
	}
	if len(s.fail) > 0 {
		err := s.fail[0]
		s.fail = s.fail[1:]
		return nil, err
	}

	resp := &elastic.BulkResponse{}
	lines := strings.Split(strings.TrimSuffix(string(payload), "\n"), "\n")
	for i := 0; i+1 < len(lines); i += 2 {
		var action elastic.Action
		if err := json.Unmarshal([]byte(lines[i]), &action); err != nil {
			return nil, err
		}
		item := elastic.BulkItemRes{Index: action.Index.Index, ID: action.Index.ID, Status: 201}
		if s.reject[action.Index.ID] {
			item.Status = 400
			item.Error = json.RawMessage(`{"type":"mapper_parsing_exception","reason":"failed to parse"}`)
			resp.Errors = true
		}
		resp.Items = append(resp.Items, map[string]elastic.BulkItemRes{"index": item})
	}
	return resp, nil
}

func (s *fakeSink) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloads
}

func newMemoryState() (*state.State, *state.FileStorage) {
	storage := state.NewFileStorage("")
	st, err := state.Load(context.Background(), storage)
	if err != nil {
		panic(err)
	}
	return st, storage
}
