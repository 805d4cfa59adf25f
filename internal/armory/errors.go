package armory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the character or realm does not exist, or the profile is hidden.
	ErrNotFound = errors.New("character not found")
	// ErrUnauthorized means the client credentials were rejected.
	ErrUnauthorized = errors.New("battle.net credentials rejected")
)

// StatusError reports an unexpected HTTP status from the profile API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("battle.net: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("battle.net: unexpected status %d: %s", e.StatusCode, e.Body)
}
