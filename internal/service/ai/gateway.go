package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// ErrGateway marks failures of the language-model gateway.
var ErrGateway = errors.New("language model gateway failed")

// Gateway is the single entry point to a chat-completion model.
type Gateway interface {
	// Complete produces the assistant reply for an ordered message sequence.
	Complete(ctx context.Context, messages []*schema.Message) (*schema.Message, error)
	// CompleteStructured asks the model for a JSON object matching s and
	// decodes it into out.
	CompleteStructured(ctx context.Context, messages []*schema.Message, s Schema, out any) error
}

// Schema names a JSON schema for structured output.
type Schema struct {
	Name       string
	Definition json.RawMessage
}

// GatewayError wraps a provider failure with the operation that failed.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrGateway) match any GatewayError.
func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// AsGatewayError wraps err in a *GatewayError unless it already is one.
func AsGatewayError(op string, err error) error {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return err
	}
	return &GatewayError{Op: op, Err: err}
}
