package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrLockHeld       = errors.New("lock already held")
	ErrInvalidAmount  = errors.New("invalid decimal amount")
	ErrDivisionByZero = errors.New("division by zero")
	ErrSellInFlight   = errors.New("sell already in flight")
	ErrPositionClosed = errors.New("position already closed")
	ErrBuyUnconfirmed = errors.New("buy not yet confirmed")
	ErrNoRoute        = errors.New("no swap route")
	ErrNoSummary      = errors.New("confirmed swap has no parsed fill")
	ErrSigningFailed  = errors.New("signing failed")
	ErrContextDone    = errors.New("context cancelled")
)
