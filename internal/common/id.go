package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a random export job ID
func NewJobID() string {
	return uuid.New().String()
}
