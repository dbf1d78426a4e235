package psystem

import "github.com/google/uuid"

// NewRandomID returns a random identifier for environments, runs and
// notifiers created without an explicit id.
func NewRandomID() string {
	return uuid.NewString()
}
