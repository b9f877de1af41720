package utils

import "github.com/google/uuid"

// NewID returns a random identifier for a stored entity.
func NewID() string {
	return uuid.NewString()
}
