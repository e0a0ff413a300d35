package domain

import "errors"

var (
	// ErrSearchNotFound is returned when no saved search has the requested name.
	ErrSearchNotFound = errors.New("saved search not found")
	// ErrDealConflict is returned when a different deal id is already recorded for an announcement.
	ErrDealConflict = errors.New("deal already recorded for announcement")
	// ErrClaimLost is returned when another run holds the pending claim for an announcement.
	ErrClaimLost = errors.New("announcement claimed by another run")
)
