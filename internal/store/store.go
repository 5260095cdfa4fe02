// Package store is the durable side-effect collaborator of the
// signaling core. The core calls it fire-and-forget: a failed write is
// logged and counted, never retried, and never rolls back the in-memory
// transition that already happened.
package store

import (
	"context"
	"time"
)

// Recorder persists the two facts the core emits: when an identity was
// last seen online, and calls that ended before being accepted.
type Recorder interface {
	RecordLastSeen(ctx context.Context, userID string, at time.Time) error
	RecordMissedCall(ctx context.Context, orderID, callerName, callerRole string, at time.Time) error
}

// Noop discards all writes. Used in tests and store-less deployments.
type Noop struct{}

func (Noop) RecordLastSeen(context.Context, string, time.Time) error { return nil }

func (Noop) RecordMissedCall(context.Context, string, string, string, time.Time) error {
	return nil
}
