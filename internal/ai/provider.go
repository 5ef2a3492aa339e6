// Package ai runs the AI-assisted side channel of a room: the completion
// provider and the coordinator that sequences user and assistant turns.
package ai

import (
	"context"
	"errors"
	"fmt"
)

// ErrProviderFailure wraps every completion failure, including timeouts.
var ErrProviderFailure = errors.New("completion provider failed")

// Turn roles sent to the provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the prompt history.
type Turn struct {
	Role    string
	Content string
}

// CompletionProvider turns a prompt history into the next assistant message.
// Implementations must honor ctx cancellation.
type CompletionProvider interface {
	Complete(ctx context.Context, turns []Turn) (string, error)
}

// DisabledProvider fails every call. It stands in when no API key is set.
type DisabledProvider struct{}

func (DisabledProvider) Complete(context.Context, []Turn) (string, error) {
	return "", fmt.Errorf("%w: no completion provider configured", ErrProviderFailure)
}
