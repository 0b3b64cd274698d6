package authcode

import (
	"context"
	"time"
)

// Store persists authorization codes. Consume is the one correctness-critical
// operation: it must run as an atomic check-and-update (exclusive row lock or
// compare-and-swap) so concurrent redemptions of the same code yield exactly
// one winner.
type Store interface {
	Create(ctx context.Context, c *Code) error

	// Consume locks the row matching (code, clientID) that is unused and
	// unexpired at now, verifies the redirect URI and marks it used in the
	// same transaction. Outcomes:
	//   - no such code for the client, or expired: ErrCodeExpiredOrInvalid
	//   - row exists but already used:             ErrCodeReplayed
	//   - redirect mismatch: ErrRedirectMismatch, row returned for audit and
	//     left unconsumed
	//   - success: row returned with Used=true.
	Consume(ctx context.Context, code, clientID, redirectURI string, now time.Time) (*Code, error)

	// PurgeExpired deletes codes whose expiry is before the cutoff and
	// returns how many rows went away.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
