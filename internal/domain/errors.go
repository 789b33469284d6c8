// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the operation would violate a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates a malformed request body or out-of-range value.
var ErrValidation = errors.New("validation")

// ErrVersionUnavailable indicates the requested GOWA version is not installed.
var ErrVersionUnavailable = errors.New("version unavailable")

// ErrNotRunning indicates the instance exists but has no live child process.
var ErrNotRunning = errors.New("instance is not running")
