package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrEngineRunning    = errors.New("engine already running")
	ErrEngineNotRunning = errors.New("engine not running")
	ErrEmergencyStopped = errors.New("engine emergency stopped")
	ErrCycleInProgress  = errors.New("cycle already in progress")
	ErrInsufficientData = errors.New("insufficient history")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrLockHeld         = errors.New("lock already held")
)
