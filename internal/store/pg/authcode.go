package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"grantor.org/internal/authcode"
)

// CodeStore persists authorization codes. Consume runs as a single
// transaction with an exclusive row lock so concurrent redemptions of the
// same code settle with exactly one winner.
type CodeStore struct {
	db *sql.DB
}

func (s *CodeStore) Create(ctx context.Context, c *authcode.Code) error {
	scopes, err := encodeStrings(c.Scopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into auth_codes (
			code, client_id, user_id, organization_id, redirect_uri, scopes,
			code_challenge, code_challenge_method, nonce, used,
			expires_at, created_at
		) values ($1,$2,$3,nullif($4,''),$5,$6,$7,$8,nullif($9,''),false,$10,$11)
	`, c.Code, c.ClientID, c.UserID, c.OrganizationID, c.RedirectURI, scopes,
		c.CodeChallenge, string(c.CodeChallengeMethod), c.Nonce,
		c.ExpiresAt, c.CreatedAt)
	return err
}

func (s *CodeStore) Consume(ctx context.Context, code, clientID, redirectURI string, now time.Time) (*authcode.Code, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		row    authcode.Code
		orgID  sql.NullString
		nonce  sql.NullString
		method string
		scopes []byte
		usedAt sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `
		select code, client_id, user_id, coalesce(organization_id,''),
		       redirect_uri, scopes, code_challenge, code_challenge_method,
		       nonce, used, used_at, expires_at, created_at
		from auth_codes
		where code = $1 and client_id = $2
		for update
	`, code, clientID).Scan(&row.Code, &row.ClientID, &row.UserID, &orgID,
		&row.RedirectURI, &scopes, &row.CodeChallenge, &method,
		&nonce, &row.Used, &usedAt, &row.ExpiresAt, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authcode.ErrCodeExpiredOrInvalid
	}
	if err != nil {
		return nil, err
	}
	row.OrganizationID = orgID.String
	row.Nonce = nonce.String
	row.CodeChallengeMethod = authcode.ChallengeMethod(method)
	if row.Scopes, err = decodeStrings(scopes); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		row.UsedAt = &t
	}

	if row.Used {
		return nil, authcode.ErrCodeReplayed
	}
	if !now.Before(row.ExpiresAt) {
		return nil, authcode.ErrCodeExpiredOrInvalid
	}
	if row.RedirectURI != redirectURI {
		// Leave the row unconsumed; the caller audits the mismatch.
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &row, authcode.ErrRedirectMismatch
	}

	if _, err := tx.ExecContext(ctx, `
		update auth_codes set used = true, used_at = $2 where code = $1
	`, code, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	used := now
	row.Used = true
	row.UsedAt = &used
	return &row, nil
}

func (s *CodeStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from auth_codes where expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
