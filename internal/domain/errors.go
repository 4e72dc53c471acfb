package domain

import "errors"

var (
	ErrItemNotFound      = errors.New("item not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrOpenTaskExists    = errors.New("item already has an open task")
	ErrClaimLost         = errors.New("task claim lost")
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrAlreadyPosted     = errors.New("item already posted")
	ErrSendAttempted     = errors.New("send already attempted, outcome unknown")
)
