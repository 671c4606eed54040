package llm

import (
	"context"
	"errors"
)

// Failure classes of the text-generation service. Rate limiting and
// unavailability are transient and worth retrying; an authentication failure
// never heals on retry.
var (
	ErrRateLimited    = errors.New("generation rate limited")
	ErrUnavailable    = errors.New("generation service unavailable")
	ErrAuthentication = errors.New("generation authentication failed")
)

// Retryable reports whether the error class is transient.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// Message is one entry of a generation request conversation.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client produces text for a prompt. Implementations classify their failures
// with the sentinel errors above.
type Client interface {
	Generate(ctx context.Context, system string, messages []Message) (string, error)
}
