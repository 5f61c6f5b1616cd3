package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-detect/internal/logger"
)

func TestReader_ClampLimit(t *testing.T) {
	r := NewReader(nil, 50, 200, logger.NewNopLogger())

	assert.Equal(t, 50, r.ClampLimit(0))
	assert.Equal(t, 50, r.ClampLimit(-3))
	assert.Equal(t, 10, r.ClampLimit(10))
	assert.Equal(t, 200, r.ClampLimit(200))
	assert.Equal(t, 200, r.ClampLimit(100000))
}

func TestReader_MaxLimitCannotExceed200(t *testing.T) {
	r := NewReader(nil, 50, 5000, logger.NewNopLogger())
	assert.Equal(t, 200, r.ClampLimit(100000))
}

func TestReader_GetNeverExceedsMax(t *testing.T) {
	store := openMemoryStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 230; i++ {
		insertAt(t, store, base.Add(time.Duration(i)*time.Second), "success")
	}

	r := NewReader(store, 50, 200, logger.NewNopLogger())

	docs := r.Get(context.Background(), 100000, 0)
	assert.Len(t, docs, 200)

	docs = r.Get(context.Background(), 0, 0)
	assert.Len(t, docs, 50)

	docs = r.Get(context.Background(), 100, 200)
	assert.Len(t, docs, 30)
}

func TestReader_DegradedReturnsEmpty(t *testing.T) {
	r := NewReader(nil, 50, 200, logger.NewNopLogger())

	docs := r.Get(context.Background(), 10, 0)
	require.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestReader_StoreErrorReturnsEmpty(t *testing.T) {
	r := NewReader(&stubStore{err: errors.New("database is locked")}, 50, 200, logger.NewNopLogger())

	docs := r.Get(context.Background(), 10, -5)
	require.NotNil(t, docs)
	assert.Empty(t, docs)
}
