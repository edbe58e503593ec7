package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string for request and query identifiers.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SubRequestID names the n-th backend call of a logical request. The first
// call keeps the logical id.
func SubRequestID(requestID string, n int) string {
	if n <= 1 {
		return requestID
	}
	return fmt.Sprintf("%s.%d", requestID, n)
}
