package service

import "errors"

// Typed failures surfaced to callers. Business outcomes (match zones) are not
// errors; they are MatchOutcome variants.
var (
	ErrTemplateNotFound  = errors.New("template not found")
	ErrInstanceNotFound  = errors.New("instance not found")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrCandidateNotFound = errors.New("candidate not found")

	// ErrValidation wraps input problems rejected before any state mutation.
	ErrValidation = errors.New("validation failed")

	// ErrTemplateExists means an active template already owns this
	// fingerprint+bucket combination.
	ErrTemplateExists = errors.New("active template already exists for fingerprint")

	// ErrDocumentBound means the document is bound to another instance;
	// unlink it first.
	ErrDocumentBound = errors.New("document already bound to an instance")

	// ErrInstanceOccupied means the instance already has a matched document.
	ErrInstanceOccupied = errors.New("instance already has a matched document")

	// ErrDateOutOfWindow means the document due date falls outside the
	// instance's tolerance window.
	ErrDateOutOfWindow = errors.New("document due date outside tolerance window")
)
