package idp

import (
	"context"
	"errors"
	"fmt"
)

// Provider type identifiers, also used as the {provider} route segment.
const (
	ProviderGoogle = "google"
	ProviderSlack  = "slack"
	ProviderEmail  = "email"
)

// Identity is the canonical identity produced by every provider exchange.
// It is serialised verbatim into the permissions cookie.
type Identity struct {
	Email      string         `json:"email"`
	Name       string         `json:"name,omitempty"`
	Provider   string         `json:"provider"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Credential carries the provider-specific proof of identity taken from a
// callback request. Each provider reads only the fields it understands.
type Credential struct {
	Code      string
	Payload   string
	Signature string
	UserAgent string
}

// Provider abstracts identity provider operations.
type Provider interface {
	// Type returns the provider type identifier ("google", "slack", "email").
	Type() string

	// AuthURL returns where the browser is sent to start signing in.
	AuthURL() string

	// Exchange turns a credential into an admitted identity. Failures are
	// reported as *ExchangeFailure.
	Exchange(ctx context.Context, cred Credential) (*Identity, error)
}

// FailureReason classifies why an exchange did not produce an identity.
type FailureReason int

const (
	// RetryAuth means no usable token or identity came back; the browser
	// is sent through the provider sign-in again.
	RetryAuth FailureReason = iota + 1
	// Forbidden means the identity resolved but admission refused it.
	Forbidden
	// Expired means a self-issued token is past its embedded expiry.
	Expired
)

func (r FailureReason) String() string {
	switch r {
	case RetryAuth:
		return "retry_auth"
	case Forbidden:
		return "forbidden"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// ExchangeFailure is the error returned by Provider.Exchange.
type ExchangeFailure struct {
	Reason FailureReason
	Err    error
}

func (e *ExchangeFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *ExchangeFailure) Unwrap() error {
	return e.Err
}

func failure(reason FailureReason, format string, args ...any) *ExchangeFailure {
	return &ExchangeFailure{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// ReasonOf extracts the failure reason from err. Errors that are not an
// ExchangeFailure count as RetryAuth, the nearest match for a transport
// failure.
func ReasonOf(err error) FailureReason {
	var failure *ExchangeFailure
	if errors.As(err, &failure) {
		return failure.Reason
	}
	return RetryAuth
}
