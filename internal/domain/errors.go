package domain

import "errors"

// Adapter errors - remote store layer
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrPermissionDenied indicates insufficient permissions
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFile indicates expected a file but got a folder
	ErrNotFile = errors.New("not a file")

	// ErrInvalidPath indicates a relative path that cannot be stored at the
	// target, such as an empty path or blank segment
	ErrInvalidPath = errors.New("invalid relative path")

	// ErrRateLimited indicates the remote API throttled the request
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrRemoteUnavailable indicates a transient network or server failure
	ErrRemoteUnavailable = errors.New("remote store unavailable")
)

// Watch errors - change detection layer
var (
	// ErrMissingField indicates the listing source returned an entry without
	// a field the watcher depends on. This is a data-integrity error: dropping
	// the entry silently would lose the change once the cursor moves past it.
	ErrMissingField = errors.New("remote entry is missing a required field")

	// ErrAlreadyWatching indicates Watch was called twice on the same watcher
	ErrAlreadyWatching = errors.New("watcher already started")

	// ErrCycleInProgress indicates an overlapping poll cycle was requested
	ErrCycleInProgress = errors.New("poll cycle already in progress")

	// ErrChecksumMismatch indicates downloaded content does not match the
	// checksum reported by the remote store
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Config errors
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")
)
