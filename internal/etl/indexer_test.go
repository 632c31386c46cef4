package etl

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BartekS5/moviesync/internal/state"
	"github.com/BartekS5/moviesync/pkg/elastic"
	"github.com/BartekS5/moviesync/pkg/logger"
	"github.com/BartekS5/moviesync/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBulkPayload(t *testing.T) {
	docs := NewTransformer().TransformBatch(makeRows(2, baseTime))

	payload, err := BuildBulkPayload("movies", docs)
	require.NoError(t, err)

	lines := strings.Split(string(payload), "\n")
	require.Len(t, lines, 5, "four lines plus the trailing terminator")
	assert.Equal(t, `{"index":{"_index":"movies","_id":"fw-000"}}`, lines[0])
	assert.Contains(t, lines[1], `"id":"fw-000"`)
	assert.Equal(t, `{"index":{"_index":"movies","_id":"fw-001"}}`, lines[2])
	assert.Empty(t, lines[4])
}

func TestIndex_PersistsPayloadBeforeSending(t *testing.T) {
	st, _ := newMemoryState()
	sink := newFakeSink()
	var persisted []byte
	sink.onBulk = func([]byte) {
		persisted, _, _ = st.PreparedQuery()
	}
	ix := NewIndexer(sink, st, "movies", fastRetry(), logger.Discard())

	res, err := ix.Index(context.Background(), NewTransformer().TransformBatch(makeRows(3, baseTime)))
	require.NoError(t, err)

	require.Len(t, sink.sent(), 1)
	assert.Equal(t, sink.sent()[0], persisted, "payload is in the checkpoint while in flight")
	assert.Equal(t, 3, res.Items)
	assert.False(t, res.Resent)

	_, pending, err := st.PreparedQuery()
	require.NoError(t, err)
	assert.False(t, pending, "payload cleared after delivery")
}

func TestIndex_ResendsExactBytes(t *testing.T) {
	ctx := context.Background()
	st, _ := newMemoryState()
	sink := newFakeSink()
	sink.fail = []error{transientErr(), transientErr(), transientErr()}
	ix := NewIndexer(sink, st, "movies", fastRetry(), logger.Discard())

	_, err := ix.Index(ctx, NewTransformer().TransformBatch(makeRows(3, baseTime)))
	require.Error(t, err)
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, sink.sent(), 3)

	first, pending, err := st.PreparedQuery()
	require.NoError(t, err)
	require.True(t, pending, "payload survives exhaustion")

	// different documents: the persisted payload still wins
	res, err := ix.Index(ctx, NewTransformer().TransformBatch(makeRows(1, baseTime.AddDate(1, 0, 0))))
	require.NoError(t, err)
	assert.True(t, res.Resent)

	sent := sink.sent()
	require.Len(t, sent, 4)
	assert.Equal(t, first, sent[3])
	for _, p := range sent {
		assert.Equal(t, sent[0], p)
	}
}

func TestIndex_PartialFailureIsReportedNotFatal(t *testing.T) {
	st, _ := newMemoryState()
	sink := newFakeSink()
	sink.reject["fw-001"] = true
	sink.reject["fw-003"] = true
	ix := NewIndexer(sink, st, "movies", fastRetry(), logger.Discard())

	res, err := ix.Index(context.Background(), NewTransformer().TransformBatch(makeRows(5, baseTime)))
	require.NoError(t, err)

	assert.Equal(t, 5, res.Items)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, "fw-001", res.Rejected[0].ID)
	assert.Equal(t, "fw-003", res.Rejected[1].ID)
	assert.Equal(t, 400, res.Rejected[0].Status)

	_, pending, err := st.PreparedQuery()
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestIndex_NonTransientErrorNotRetried(t *testing.T) {
	st, _ := newMemoryState()
	sink := newFakeSink()
	sink.fail = []error{&elastic.StatusError{StatusCode: 400, Body: "bad"}}
	ix := NewIndexer(sink, st, "movies", fastRetry(), logger.Discard())

	_, err := ix.Index(context.Background(), NewTransformer().TransformBatch(makeRows(1, baseTime)))
	require.Error(t, err)
	assert.Len(t, sink.sent(), 1)

	_, pending, err := st.PreparedQuery()
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestIndex_EmptyBatch(t *testing.T) {
	st, _ := newMemoryState()
	sink := newFakeSink()
	ix := NewIndexer(sink, st, "", fastRetry(), logger.Discard())

	res, err := ix.Index(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Items)
	assert.Empty(t, sink.sent())
}

func TestIndex_CheckpointErrorAborts(t *testing.T) {
	ctx := context.Background()
	st, err := state.Load(ctx, brokenStorage{state.NewFileStorage("")})
	require.NoError(t, err)
	sink := newFakeSink()
	ix := NewIndexer(sink, st, "movies", fastRetry(), logger.Discard())

	_, err = ix.Index(ctx, NewTransformer().TransformBatch(makeRows(1, baseTime)))
	require.Error(t, err)
	assert.Empty(t, sink.sent(), "nothing is sent unless the payload was persisted")
}

func TestFlush(t *testing.T) {
	ctx := context.Background()
	st, _ := newMemoryState()
	sink := newFakeSink()
	ix := NewIndexer(sink, st, "movies", fastRetry(), logger.Discard())

	res, err := ix.Flush(ctx)
	require.NoError(t, err)
	assert.Nil(t, res, "nothing pending")
	assert.Empty(t, sink.sent())

	payload := []byte(`{"index":{"_index":"movies","_id":"x"}}` + "\n" + `{"id":"x"}` + "\n")
	require.NoError(t, st.SetPreparedQuery(ctx, payload))

	res, err = ix.Flush(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Resent)
	assert.Equal(t, payload, sink.sent()[0])

	_, pending, err := st.PreparedQuery()
	require.NoError(t, err)
	assert.False(t, pending)
}

type brokenStorage struct{ state.Storage }

func (brokenStorage) Save(context.Context, state.Checkpoint) error {
	return errors.New("checkpoint backend unavailable")
}
