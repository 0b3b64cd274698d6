package consent

import "context"

// Store persists consent records. Save is a compare-and-swap: it inserts when
// expectedVersion is zero and no record exists, otherwise replaces the record
// only if its stored version equals expectedVersion; a mismatch returns
// ErrVersionConflict so racing writers cannot silently lose updates.
type Store interface {
	Find(ctx context.Context, userID, clientID, organizationID string) (*Consent, error)
	Save(ctx context.Context, c *Consent, expectedVersion int64) error
	ListByUser(ctx context.Context, userID string) ([]Consent, error)
}
