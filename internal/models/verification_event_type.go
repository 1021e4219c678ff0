package models

import (
	"fmt"
	"strings"
)

// VerificationEventType represents the type of an inbound provider event
type VerificationEventType string

const (
	UserStatusChanged  VerificationEventType = "user.status_changed"
	UserAccountUpdated VerificationEventType = "user.account_updated"
	UserVAIRevoked     VerificationEventType = "user.vai_revoked"
	UserVAISuspended   VerificationEventType = "user.vai_suspended"
)

// ParseVerificationEventType parses a string into a VerificationEventType
// Returns an error if the event type is unknown
func ParseVerificationEventType(name string) (VerificationEventType, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	validTypes := []VerificationEventType{
		UserStatusChanged,
		UserAccountUpdated,
		UserVAIRevoked,
		UserVAISuspended,
	}

	for _, eventType := range validTypes {
		if string(eventType) == name {
			return eventType, nil
		}
	}

	return "", fmt.Errorf("unknown verification event type: %s", name)
}
