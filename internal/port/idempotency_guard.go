package port

import "context"

// IdempotencyGuard screens out redelivered intake messages. The messaging
// transport is at-least-once, so the same source message can arrive twice.
type IdempotencyGuard interface {
	// FirstSeen marks the key and reports whether this is its first
	// occurrence inside the guard's retention window.
	FirstSeen(ctx context.Context, key string) (bool, error)
}
