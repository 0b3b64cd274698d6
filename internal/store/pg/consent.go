package pg

import (
	"context"
	"database/sql"
	"errors"

	"grantor.org/internal/consent"
)

// ConsentStore persists consent records.
type ConsentStore struct {
	db *sql.DB
}

func (s *ConsentStore) Find(ctx context.Context, userID, clientID, organizationID string) (*consent.Consent, error) {
	var (
		c         consent.Consent
		scopes    []byte
		expiresAt sql.NullTime
		revokedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select user_id, client_id, organization_id, granted_scopes,
		       granted_at, expires_at, revoked_at, version
		from consents
		where user_id = $1 and client_id = $2 and organization_id = $3
	`, userID, clientID, organizationID).Scan(
		&c.UserID, &c.ClientID, &c.OrganizationID, &scopes,
		&c.GrantedAt, &expiresAt, &revokedAt, &c.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, consent.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.GrantedScopes, err = decodeStrings(scopes); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		c.RevokedAt = &t
	}
	return &c, nil
}

// Save is a compare-and-swap keyed on the version counter. Insert when
// expectedVersion is zero, replace when the stored version still matches;
// anything else is a conflict the service retries.
func (s *ConsentStore) Save(ctx context.Context, c *consent.Consent, expectedVersion int64) error {
	scopes, err := encodeStrings(c.GrantedScopes)
	if err != nil {
		return err
	}
	var expiresAt, revokedAt sql.NullTime
	if c.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *c.ExpiresAt, Valid: true}
	}
	if c.RevokedAt != nil {
		revokedAt = sql.NullTime{Time: *c.RevokedAt, Valid: true}
	}

	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx, `
			insert into consents (
				user_id, client_id, organization_id, granted_scopes,
				granted_at, expires_at, revoked_at, version
			) values ($1,$2,$3,$4,$5,$6,$7,$8)
		`, c.UserID, c.ClientID, c.OrganizationID, scopes,
			c.GrantedAt, expiresAt, revokedAt, c.Version)
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return consent.ErrVersionConflict
		}
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		update consents set
			granted_scopes = $4, granted_at = $5, expires_at = $6,
			revoked_at = $7, version = $8
		where user_id = $1 and client_id = $2 and organization_id = $3
		  and version = $9
	`, c.UserID, c.ClientID, c.OrganizationID, scopes,
		c.GrantedAt, expiresAt, revokedAt, c.Version, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return consent.ErrVersionConflict
	}
	return nil
}

func (s *ConsentStore) ListByUser(ctx context.Context, userID string) ([]consent.Consent, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, client_id, organization_id, granted_scopes,
		       granted_at, expires_at, revoked_at, version
		from consents
		where user_id = $1
		order by client_id, organization_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []consent.Consent
	for rows.Next() {
		var (
			c         consent.Consent
			scopes    []byte
			expiresAt sql.NullTime
			revokedAt sql.NullTime
		)
		if err := rows.Scan(&c.UserID, &c.ClientID, &c.OrganizationID, &scopes,
			&c.GrantedAt, &expiresAt, &revokedAt, &c.Version); err != nil {
			return nil, err
		}
		if c.GrantedScopes, err = decodeStrings(scopes); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			c.ExpiresAt = &t
		}
		if revokedAt.Valid {
			t := revokedAt.Time
			c.RevokedAt = &t
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
