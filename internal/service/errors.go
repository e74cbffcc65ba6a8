package service

import "errors"

var (
	// ErrInvalidInput marks a request that fails field validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden is returned when the actor may not see or touch the target.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition is returned for instance status changes other
	// than pending to completed or skipped.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNoFamily is returned for family-scoped operations by a user
	// without a family.
	ErrNoFamily = errors.New("user has no family")
	// ErrPlanExists is returned when the family already has an open plan
	// for the week.
	ErrPlanExists = errors.New("open plan already exists")
)
