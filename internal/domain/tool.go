package domain

import "context"

// Tool is a capability the agent can call while producing a reply.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}
