package service

import "errors"

// Common service errors
var (
	// ErrNotFound is returned when a resource is not found
	ErrNotFound = errors.New("resource not found")

	// ErrSessionExpired is returned when an edit session passed its expiry
	ErrSessionExpired = errors.New("edit session expired")

	// ErrSaveInFlight is returned when a save is requested while another
	// save for the same session is still running
	ErrSaveInFlight = errors.New("save already in progress for this session")

	// ErrOverBudget is returned when a BOQ batch save would exceed the
	// approved project budget; no upstream call is made
	ErrOverBudget = errors.New("total project cost exceeds approved budget")

	// ErrNothingToSave is returned when a batch save is requested for an
	// empty change set
	ErrNothingToSave = errors.New("no pending changes to save")

	// ErrEvidenceRequired is returned when scope completion is requested
	// without a completion-evidence document on record
	ErrEvidenceRequired = errors.New("completion evidence document required before scope can reach 100")

	// ErrInvalidTransition is returned when a deliverable status would
	// move backward
	ErrInvalidTransition = errors.New("deliverable status cannot move backward")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstream wraps failures of the PM store; the change set stays
	// intact so the save can be retried manually
	ErrUpstream = errors.New("pm store request failed")
)
