package audit

import (
	"errors"
	"time"
)

// EventType enumerates the closed set of auditable events. Adding a value here
// is a schema change; stores reject unknown types.
type EventType string

const (
	// Client lifecycle.
	EventClientRegistered EventType = "client_registered"
	EventClientUpdated    EventType = "client_updated"
	EventClientDeleted    EventType = "client_deleted"

	// Authorization flow.
	EventAuthorizationGranted EventType = "authorization_granted"
	EventAuthorizationDenied  EventType = "authorization_denied"
	EventInsufficientScope    EventType = "insufficient_scope"
	EventConsentRequired      EventType = "consent_required"

	// Token exchange.
	EventCodeExchanged EventType = "code_exchanged"
	EventCodeExpired   EventType = "code_expired"

	// Consent lifecycle.
	EventConsentGranted EventType = "consent_granted"
	EventConsentRevoked EventType = "consent_revoked"

	// Security.
	EventCodeReplayAttempt   EventType = "code_replay_attempt"
	EventRedirectURIMismatch EventType = "redirect_uri_mismatch"
	EventPKCEFailed          EventType = "pkce_validation_failed"
)

var knownTypes = map[EventType]struct{}{
	EventClientRegistered:     {},
	EventClientUpdated:        {},
	EventClientDeleted:        {},
	EventAuthorizationGranted: {},
	EventAuthorizationDenied:  {},
	EventInsufficientScope:    {},
	EventConsentRequired:      {},
	EventCodeExchanged:        {},
	EventCodeExpired:          {},
	EventConsentGranted:       {},
	EventConsentRevoked:       {},
	EventCodeReplayAttempt:    {},
	EventRedirectURIMismatch:  {},
	EventPKCEFailed:           {},
}

// Known reports whether t belongs to the closed event enum.
func Known(t EventType) bool {
	_, ok := knownTypes[t]
	return ok
}

// Entry carries the caller-supplied fields of an audit event. The ledger fills
// in identity, sequence, timestamp and chain hashes on append.
type Entry struct {
	Type            EventType
	UserID          string
	ClientID        string
	OrganizationID  string
	RequestedScopes []string
	GrantedScopes   []string
	Details         map[string]string
	Success         bool
	ErrorMessage    string
}

// Event is a persisted, hash-chained audit record. Never mutated after append.
type Event struct {
	ID              string            `json:"id"`
	Seq             uint64            `json:"seq"`
	Type            EventType         `json:"event_type"`
	UserID          string            `json:"user_id,omitempty"`
	ClientID        string            `json:"client_id,omitempty"`
	OrganizationID  string            `json:"organization_id,omitempty"`
	RequestedScopes []string          `json:"requested_scopes,omitempty"`
	GrantedScopes   []string          `json:"granted_scopes,omitempty"`
	Details         map[string]string `json:"details,omitempty"`
	Success         bool              `json:"success"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	PrevHash        string            `json:"prev_hash"`
	Hash            string            `json:"this_hash"`
}

var (
	ErrUnknownType      = errors.New("audit: unknown event type")
	ErrSequenceConflict = errors.New("audit: sequence conflict")
	ErrChainBroken      = errors.New("audit: chain verification failed")
)
