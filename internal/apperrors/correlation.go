package apperrors

import "github.com/google/uuid"

// newCorrelationID stamps internal errors with a time-ordered id so a
// client-visible failure can be cross-referenced against server logs.
func newCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Extremely unlikely (entropy failure); fall back to a random v4
		// rather than fail the error path itself.
		return uuid.NewString()
	}
	return id.String()
}
