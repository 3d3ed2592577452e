package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrBatchTerminal        = errors.New("batch is in a terminal state")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrWorkerFailure        = errors.New("worker failure")
)
