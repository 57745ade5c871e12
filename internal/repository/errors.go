package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyExists indicates a create-if-absent write found an existing record.
	ErrAlreadyExists = errors.New("repository: already exists")
	// ErrConditionFailed indicates a conditional write found a record that no longer satisfies its guard.
	ErrConditionFailed = errors.New("repository: condition failed")
	// ErrThrottled indicates the backing store rejected the request for capacity reasons.
	ErrThrottled = errors.New("repository: throttled")
)
