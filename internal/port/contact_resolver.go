package port

import "context"

// ContactResolver resolves an originator's best-effort display name from
// the messaging channel. Used only to enrich recovered orders; failures are
// logged and swallowed, never propagated.
type ContactResolver interface {
	DisplayName(ctx context.Context, originatorID string) (string, error)
}
