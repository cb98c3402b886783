package errors

import "fmt"

// FlowErrorCode classifies a failed OAuth integration flow step.
type FlowErrorCode string

// Flow error codes. Every internal distinction that could act as an oracle
// for an attacker (malformed state, ownership mismatch, replayed state)
// collapses to InvalidState at the API boundary; the full detail lives only
// in the audit log.
const (
	InvalidState   FlowErrorCode = "INVALID_STATE"
	StateExpired   FlowErrorCode = "STATE_EXPIRED"
	ProviderError  FlowErrorCode = "PROVIDER_ERROR"
	PKCEInvalid    FlowErrorCode = "PKCE_INVALID"
	ExchangeFailed FlowErrorCode = "EXCHANGE_FAILED"
)

// FlowError is a classified OAuth flow failure. Message is what callers may
// see; the internal detail is kept separate for audit records.
type FlowError struct {
	Code        FlowErrorCode `json:"error"`
	Message     string        `json:"error_description,omitempty"`
	description string
	cause       error
}

func (e *FlowError) Error() string {
	if e.description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.description)
	}
	return string(e.Code)
}

func (e *FlowError) Unwrap() error { return e.cause }

// Detail returns the internal description, for audit records only.
func (e *FlowError) Detail() string { return e.description }

// NewInvalidState classifies any state-token or ownership failure. The
// caller-visible message is fixed so the two cases are indistinguishable.
func NewInvalidState(detail string, cause error) *FlowError {
	return &FlowError{
		Code:        InvalidState,
		Message:     "invalid or unknown state parameter",
		description: detail,
		cause:       cause,
	}
}

// NewStateExpired classifies a state token past its TTL.
func NewStateExpired() *FlowError {
	return &FlowError{
		Code:        StateExpired,
		Message:     "authorization request expired, restart the flow",
		description: "state token past TTL",
	}
}

// NewProviderError classifies an error the provider sent on the callback
// itself (user denied consent, etc.). The provider's error code and
// description are retained internally, never surfaced.
func NewProviderError(providerCode, providerDescription string) *FlowError {
	return &FlowError{
		Code:        ProviderError,
		Message:     "authorization was not completed",
		description: fmt.Sprintf("provider returned %q: %s", providerCode, providerDescription),
	}
}

// NewPKCEInvalid classifies failed proof-key validation.
func NewPKCEInvalid(issues []string) *FlowError {
	return &FlowError{
		Code:        PKCEInvalid,
		Message:     "proof key validation failed",
		description: fmt.Sprintf("pkce issues: %v", issues),
	}
}

// NewExchangeFailed classifies a failed token-endpoint call. The provider's
// status code stays in the internal detail only; the authorization code is
// spent, so the caller must restart the flow.
func NewExchangeFailed(detail string, cause error) *FlowError {
	return &FlowError{
		Code:        ExchangeFailed,
		Message:     "token exchange failed, restart the flow",
		description: detail,
		cause:       cause,
	}
}
