package application

import (
	"errors"
	"fmt"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
)

var (
	// ErrUnknownEvent is returned by the router for (service, event) pairs it
	// has no route for. Callers answer it with a 200 skip.
	ErrUnknownEvent = errors.New("unknown webhook event")

	// ErrUnknownHook is returned when a Bitbucket delivery carries a hook UUID
	// that does not match the one registered for the repository.
	ErrUnknownHook = errors.New("unknown webhook uuid")

	// ErrEventForbidden marks events that are authenticated but not allowed
	// in the current deployment mode, such as GitLab system hooks outside
	// enterprise installs.
	ErrEventForbidden = errors.New("webhook event not allowed")

	// ErrStateConflict reports a lost race between two writers of the same
	// row. The state mutator resolves it last-write-wins and only logs it.
	ErrStateConflict = errors.New("state conflict")

	// ErrMalformedPayload wraps payload decoding failures.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// AuthenticationError is returned when a delivery fails signature or token
// verification.
type AuthenticationError struct {
	Service model.Service
	Reason  string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s webhook authentication failed: %s", e.Service, e.Reason)
}

// UnresolvedRepositoryError is returned when an event targets a repository
// that is not tracked and the event cannot create it.
type UnresolvedRepositoryError struct {
	Service   model.Service
	ServiceID string
}

func (e *UnresolvedRepositoryError) Error() string {
	if e.ServiceID == "" {
		return fmt.Sprintf("%s webhook names no repository", e.Service)
	}
	return fmt.Sprintf("%s repository %s is not tracked", e.Service, e.ServiceID)
}

// ProviderAPIError carries a provider failure to API callers. StatusCode is
// the upstream HTTP status, or 502 when the provider could not be reached.
type ProviderAPIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("provider api error (status %d): %s", e.StatusCode, e.Message)
}

func (e *ProviderAPIError) Unwrap() error {
	return e.Err
}
