package domain

import "context"

// Plugin is a unit invoked by the dispatch loop.
// Init runs once at startup; Run runs once per inbound update.
type Plugin interface {
	Name() string
	Init(ctx context.Context) error
	Run(ctx context.Context, msg CanonicalMessage) error
}
