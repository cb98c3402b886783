// Package pkce validates RFC 7636 proof-key parameters carried on a pending
// integration's metadata.
package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"github.com/skybridge-io/skybridge/domain"
)

// Flow tells whether an integration runs the authorization-code grant with
// or without a proof key.
type Flow string

const (
	FlowPKCE        Flow = "pkce"
	FlowTraditional Flow = "traditional"
)

// Verifier length bounds from RFC 7636 §4.1.
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// Result is the outcome of validating an integration's PKCE parameters.
// Valid is the conjunction of every check; all issues accumulate.
type Result struct {
	Flow   Flow
	Valid  bool
	Issues []string
}

// DetectFlow reports PKCE when the metadata signals it explicitly or carries
// a code verifier. Integrations with no PKCE metadata are traditional.
func DetectFlow(integration *domain.Integration) Flow {
	if integration.HasPKCE() {
		return FlowPKCE
	}
	return FlowTraditional
}

// Validate checks the pending integration's proof-key parameters.
// Non-PKCE integrations always validate successfully.
func Validate(integration *domain.Integration) Result {
	if DetectFlow(integration) == FlowTraditional {
		return Result{Flow: FlowTraditional, Valid: true}
	}

	var issues []string

	verifier := integration.CodeVerifier()
	if verifier == "" {
		issues = append(issues, "Missing code_verifier for PKCE flow")
	} else {
		if n := utf8.RuneCountInString(verifier); n < MinVerifierLength || n > MaxVerifierLength {
			issues = append(issues, fmt.Sprintf("length must be %d-%d characters (actual: %d)",
				MinVerifierLength, MaxVerifierLength, n))
		}
		if !isUnreserved(verifier) {
			issues = append(issues, "contains invalid characters")
		}
	}

	method, _ := integration.Metadata[domain.MetaCodeChallengeMethod].(string)
	if method != "" && method != "S256" && method != "plain" {
		issues = append(issues, fmt.Sprintf("Invalid code_challenge_method: %s", method))
	}

	// When the original request's challenge was stored alongside the
	// verifier, check the derivation too.
	if challenge, ok := integration.Metadata[domain.MetaCodeChallenge].(string); ok && challenge != "" && len(issues) == 0 {
		if !VerifyChallenge(challenge, verifier, method) {
			issues = append(issues, "code_verifier does not match code_challenge")
		}
	}

	return Result{Flow: FlowPKCE, Valid: len(issues) == 0, Issues: issues}
}

// VerifyChallenge checks a verifier against a stored challenge. An explicit
// method pins the transformation; with no method recorded, either the plain
// or the S256 derivation matches.
func VerifyChallenge(challenge, verifier, method string) bool {
	switch method {
	case "S256":
		return challenge == s256Challenge(verifier)
	case "plain":
		return challenge == verifier
	default:
		return challenge == verifier || challenge == s256Challenge(verifier)
	}
}

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// isUnreserved reports whether s consists solely of the unreserved URL
// characters allowed in a code verifier: A-Z a-z 0-9 - . _ ~
func isUnreserved(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '.' || r == '_' || r == '~':
		default:
			return false
		}
	}
	return true
}
