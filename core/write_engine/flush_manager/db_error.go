package flushmanager

import "errors"

// --- Error Definitions ---

var (
	ErrNilTable        = errors.New("cannot allocate a page for a nil table")
	ErrBufferPoolFull  = errors.New("buffer pool is full and no pages can be evicted")
	ErrBufferExhausted = errors.New("buffer memory exhausted: no free block and no evictable page")
	ErrWorkersRunning  = errors.New("a worker batch is already running")
	ErrHandleReleased  = errors.New("page handle already released")
	ErrManagerClosed   = errors.New("buffer manager is closed")
	ErrIO              = errors.New("i/o error")
	ErrInvalidPageSize = errors.New("page size must be positive")
	ErrInvalidNumPages = errors.New("number of pages must be positive")
	ErrInvalidPageIdx  = errors.New("page index must not be negative")
)
