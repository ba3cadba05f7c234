// Package channels bridges outside transports into the agent queues.
package channels

import "context"

// Channel is an ingress/egress adapter feeding messages into the system and
// delivering answers back out.
type Channel interface {
	// Name returns the channel name (e.g. "slack").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
}
