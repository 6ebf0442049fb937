package sqlite

import "errors"

var (
	// ErrDuplicateID means a response id was reused; with uuid generation
	// this indicates a caller bug rather than a race.
	ErrDuplicateID = errors.New("response id already exists")

	// ErrUnknownResponse means the referenced response record does not exist.
	ErrUnknownResponse = errors.New("unknown response id")

	// ErrDuplicateFeedback means a rating already exists for the response
	// and replacement is not the configured policy.
	ErrDuplicateFeedback = errors.New("feedback already recorded for response")

	// ErrIntegrity means an aggregate update failed after the feedback write
	// itself succeeded. The transaction is rolled back, but the condition is
	// surfaced loudly because it would otherwise break the invariant that
	// aggregates always match the ledger.
	ErrIntegrity = errors.New("aggregate update failed")
)
