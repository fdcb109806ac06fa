package msgprovider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSendFailed means every send attempt was exhausted without a usable
	// message id.
	ErrSendFailed = errors.New("send_failed: all send attempts failed")
	// ErrConversationCreateFailed means every conversation-create attempt
	// was exhausted.
	ErrConversationCreateFailed = errors.New("conversation_create_failed: all create attempts failed")
	// ErrInviteFailed means every invitation attempt was exhausted.
	ErrInviteFailed = errors.New("invite_failed: all invite attempts failed")
)

// AttemptFailure captures one failed request shape for diagnostics. The
// whole chain is retained — the first rejection is often the most
// diagnostic one.
type AttemptFailure struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status"`
	BodySent string `json:"body_sent,omitempty"`
	Error    string `json:"error"`
}

// RequestError is returned when a whole fallback chain fails. It wraps the
// operation's sentinel error so errors.Is keeps working, and carries every
// per-attempt failure plus a classified user-facing reason.
type RequestError struct {
	Op       string
	Sentinel error
	Failures []AttemptFailure
	Reason   FailureReason
}

func (e *RequestError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s -> %d: %s", f.Name, f.Endpoint, f.Status, f.Error))
	}
	return fmt.Sprintf("%s (%s): %s", e.Op, e.Reason, strings.Join(parts, "; "))
}

func (e *RequestError) Unwrap() error { return e.Sentinel }

// FailureReason is the small set of user-facing explanations distilled from
// provider failure text. The upstream API exposes no stable error code
// taxonomy, so classification is substring-based.
type FailureReason string

const (
	ReasonAccountDisconnected FailureReason = "account_disconnected"
	ReasonInvalidRecipient    FailureReason = "invalid_recipient"
	ReasonNotReachable        FailureReason = "recipient_not_reachable"
	ReasonUnknown             FailureReason = "unknown"
)

// UserMessage translates a reason into a sentence fit for the dashboard.
func (r FailureReason) UserMessage() string {
	switch r {
	case ReasonAccountDisconnected:
		return "The linked account is disconnected or unauthorized. Reconnect it and try again."
	case ReasonInvalidRecipient:
		return "The recipient's provider identity is invalid or missing."
	case ReasonNotReachable:
		return "The recipient cannot be messaged: they have not accepted a connection or require a premium messaging product."
	default:
		return "The provider rejected the request for an unknown reason."
	}
}

// classifyFailures inspects a failure chain and picks the most plausible
// user-facing reason. Order matters: authorization problems are checked
// before reachability so a 401 with chatty body text is not misread.
func classifyFailures(failures []AttemptFailure) FailureReason {
	for _, f := range failures {
		if f.Status == 401 || f.Status == 403 {
			return ReasonAccountDisconnected
		}
	}

	joined := strings.ToLower(joinFailureText(failures))
	switch {
	case containsAny(joined, "unauthorized", "invalid token", "disconnected", "credentials", "expired session"):
		return ReasonAccountDisconnected
	case containsAny(joined, "invalid recipient", "invalid provider", "provider_id", "unknown user", "cannot be found", "no such user"):
		return ReasonInvalidRecipient
	case containsAny(joined, "not a 1st", "first-degree", "connection required", "not connected", "premium", "inmail", "cannot message", "not reachable"):
		return ReasonNotReachable
	default:
		return ReasonUnknown
	}
}

func joinFailureText(failures []AttemptFailure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, f.Error)
	}
	return strings.Join(parts, " | ")
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
