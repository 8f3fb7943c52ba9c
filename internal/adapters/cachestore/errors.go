package cachestore

import "errors"

var (
	// ErrCacheClosed is returned by every call after Close.
	ErrCacheClosed = errors.New("cache closed")
	// ErrCommit wraps a failed flush of the dirty set.
	ErrCommit = errors.New("cache commit failed")
)
