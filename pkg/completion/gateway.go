// Package completion turns a transcript snapshot into one assistant reply.
//
// Gateways are stateless. Retries and timeouts are their business; callers see
// a single blocking Complete call that either returns an assistant message or
// a *GenerationError.
package completion

import (
	"context"
	"fmt"

	"github.com/go-go-golems/convrelay/pkg/transcript"
	"github.com/pkg/errors"
)

// Gateway is the boundary to the language-model backend.
type Gateway interface {
	Complete(ctx context.Context, msgs []transcript.Message) (transcript.Message, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, msgs []transcript.Message) (transcript.Message, error)

func (f GatewayFunc) Complete(ctx context.Context, msgs []transcript.Message) (transcript.Message, error) {
	return f(ctx, msgs)
}

type Kind string

const (
	KindUnreachable    Kind = "unreachable"
	KindBackend        Kind = "backend"
	KindMalformed      Kind = "malformed"
	KindTimeout        Kind = "timeout"
	KindCanceled       Kind = "canceled"
	KindInvalidRequest Kind = "invalid_request"
)

// GenerationError reports that no usable assistant message was produced.
type GenerationError struct {
	Kind     Kind
	Attempts int
	Err      error

	retryable bool
}

func (e *GenerationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("generation failed (%s)", e.Kind)
	}
	return fmt.Sprintf("generation failed (%s): %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func newGenerationError(kind Kind, err error, retryable bool) *GenerationError {
	return &GenerationError{Kind: kind, Err: err, retryable: retryable}
}

// AsGenerationError returns err as a *GenerationError, classifying plain
// errors by their context cause. A nil err stays nil.
func AsGenerationError(err error) *GenerationError {
	if err == nil {
		return nil
	}
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return gerr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newGenerationError(KindTimeout, err, false)
	case errors.Is(err, context.Canceled):
		return newGenerationError(KindCanceled, err, false)
	default:
		return newGenerationError(KindUnreachable, err, false)
	}
}

// ValidateRequest checks the request shape: exactly one system message, in first position.
func ValidateRequest(msgs []transcript.Message) error {
	if len(msgs) == 0 {
		return newGenerationError(KindInvalidRequest, errors.New("empty transcript"), false)
	}
	if msgs[0].Role != transcript.RoleSystem {
		return newGenerationError(KindInvalidRequest, errors.New("first message must be the system instruction"), false)
	}
	for i, m := range msgs[1:] {
		if m.Role == transcript.RoleSystem {
			return newGenerationError(KindInvalidRequest, errors.Errorf("unexpected system message at index %d", i+1), false)
		}
	}
	return nil
}
