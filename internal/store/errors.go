package store

import "errors"

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoDocument       = errors.New("no trip document loaded")
	ErrDayNotFound      = errors.New("day not found")
	ErrItemNotFound     = errors.New("item not found")
	ErrEntryNotFound    = errors.New("entry not found")
	ErrInvalidField     = errors.New("invalid field")
)
