package repository

import "errors"

var (
	// ErrVersionConflict means the row changed since the caller read it.
	ErrVersionConflict = errors.New("version conflict")
	// ErrStaleStatus means a status transition lost against another one.
	ErrStaleStatus = errors.New("stale status")
)
