package history

import (
	"context"

	"github.com/vzahanych/view-guard-detect/internal/logger"
)

// Pagination defaults
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Reader serves paginated, newest-first history queries
type Reader struct {
	store        DocumentStore
	defaultLimit int
	maxLimit     int
	logger       *logger.Logger
}

// NewReader creates a history reader. A nil store always yields empty pages.
func NewReader(store DocumentStore, defaultLimit, maxLimit int, log *logger.Logger) *Reader {
	if maxLimit <= 0 || maxLimit > MaxLimit {
		maxLimit = MaxLimit
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = DefaultLimit
		if defaultLimit > maxLimit {
			defaultLimit = maxLimit
		}
	}
	return &Reader{
		store:        store,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		logger:       log,
	}
}

// ClampLimit applies the default for non-positive limits and the server-side cap
func (r *Reader) ClampLimit(limit int) int {
	if limit <= 0 {
		return r.defaultLimit
	}
	if limit > r.maxLimit {
		return r.maxLimit
	}
	return limit
}

// Get returns at most the clamped limit of documents, newest first. Store
// failures are logged and produce an empty page.
func (r *Reader) Get(ctx context.Context, limit, skip int) []Document {
	if r.store == nil {
		return []Document{}
	}
	if skip < 0 {
		skip = 0
	}

	docs, err := r.store.Find(ctx, skip, r.ClampLimit(limit))
	if err != nil {
		r.logger.Warn("Failed to read history, returning empty page", "error", err)
		return []Document{}
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs
}
