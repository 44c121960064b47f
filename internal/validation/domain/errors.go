package domain

import "errors"

var (
	ErrOpportunityNotFound  = errors.New("opportunity not found")
	ErrOpportunityImmutable = errors.New("opportunity is immutable in terminal status")
	ErrMilestoneNotFound    = errors.New("milestone not found")
	ErrDuplicateRule        = errors.New("duplicate rule id")
	ErrInvalidRule          = errors.New("invalid rule")
	ErrInvalidOpportunity   = errors.New("invalid opportunity")
	ErrVersionConflict      = errors.New("opportunity modified concurrently")
)
