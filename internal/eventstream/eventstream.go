// Package eventstream is the reference EventStream consumer: not part of
// the core transfer state machine, it pushes remote-change notifications
// that cause load_files to be re-issued, and is opaque to the transfer
// engine. The engine and internal/repofiles never import this package
// directly — they only ever see an EventStream's RemoteChange values
// through internal/events.EventBus, same as any other consumer.
package eventstream

import "context"

// RemoteChange is one push notification from the server: repoID's tree
// under path may have changed server-side. An empty Path means the
// whole repo's tree may have changed (e.g. right after reconnecting,
// when missed notifications can't be replayed).
type RemoteChange struct {
	RepoID string
	Path string
}

// EventStream is the capability a remote-change consumer depends on.
// Implementations run their own connection lifecycle internally; Changes
// is the only thing a caller needs to drive load_files re-issuance.
type EventStream interface {
	// Changes returns a channel of remote-change notifications. The
	// channel is closed once the stream is permanently stopped (after
	// Close, or a non-recoverable setup failure).
	Changes() <-chan RemoteChange

	// Close stops the stream and releases its connection.
	Close() error
}

// Starter is implemented by EventStream implementations that need an
// explicit Start call before Changes begins delivering (as opposed to
// connecting eagerly in a constructor).
type Starter interface {
	Start(ctx context.Context) error
}
