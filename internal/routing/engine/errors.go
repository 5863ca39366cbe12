package engine

import "errors"

var (
	// ErrNoEligibleRep means the candidate pool was empty after the hard
	// gate. Not a failure: the lead is queued and the caller gets a queued
	// decision.
	ErrNoEligibleRep = errors.New("no eligible rep")

	// ErrReservationConflict means every reservation attempt lost its race
	// within the retry budget.
	ErrReservationConflict = errors.New("reservation conflict")

	// ErrReassignmentLimit means the lead has been reassigned the maximum
	// number of times and must be escalated to a human.
	ErrReassignmentLimit = errors.New("reassignment limit reached")
)
