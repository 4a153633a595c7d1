// Package gateway defines the interface for long-running entry points.
package gateway

import "context"

// Gateway is a long-running surface: the CLI REPL, the assistant HTTP API
// or the order store server.
type Gateway interface {
	// Start runs the gateway and blocks until it exits or ctx is canceled.
	// Returns an error only on failure.
	Start(ctx context.Context) error

	// Stop performs graceful shutdown within the deadline carried by ctx.
	Stop(ctx context.Context) error
}
