package domain

import "errors"

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotFound         = errors.New("not found")
	ErrNotReady         = errors.New("not ready")
	ErrArtifactMissing  = errors.New("artifact missing")
	ErrAdapterFailure   = errors.New("adapter failure")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrConflict         = errors.New("conflicting update")
	ErrDuplicateJob     = errors.New("duplicate job id")
)
