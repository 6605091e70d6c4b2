package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into domain errors.
//
//   - ErrNotFound: row does not exist
//   - ErrConflict: conditional write matched zero rows because the row left the expected state
//   - ErrAlreadyUsed: unique key already taken (duplicate workflow, claimed execution)
//   - ErrInvalidState: entity in wrong state for the requested operation
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
