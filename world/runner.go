package world

import (
	"context"

	"talespinner/gateway"
	. "talespinner/types"
)

// Stream yields run events until the server ends it or Close is called.
type Stream interface {
	Next() (RunEvent, error)
	Close() error
}

type Runner interface {
	StartWorldRun(ctx context.Context, owner string, payload WorldArchitectStart) (string, error)
	SubmitAnswers(ctx context.Context, owner, runID string, answers map[string]HitlAnswer) error
	Subscribe(ctx context.Context, runID string) (Stream, error)
}

// UserSource resolves the acting user; an empty id means nobody is selected.
type UserSource interface {
	CurrentUserID() string
}

type gatewayRunner struct {
	*gateway.Client
}

// NewGatewayRunner adapts the backend client to Runner.
func NewGatewayRunner(client *gateway.Client) Runner {
	return gatewayRunner{Client: client}
}

func (r gatewayRunner) Subscribe(ctx context.Context, runID string) (Stream, error) {
	stream, err := r.Client.Subscribe(ctx, runID)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
