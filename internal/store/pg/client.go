package pg

import (
	"context"
	"database/sql"
	"errors"

	"grantor.org/internal/client"
)

// ClientStore persists client registrations.
type ClientStore struct {
	db *sql.DB
}

func (s *ClientStore) Create(ctx context.Context, c *client.Client) error {
	redirects, err := encodeStrings(c.RedirectURIs)
	if err != nil {
		return err
	}
	scopes, err := encodeStrings(c.AllowedScopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into clients (
			id, type, name, secret_digest, redirect_uris, allowed_scopes,
			require_pkce, require_consent, is_first_party, created_by,
			created_at, updated_at
		) values ($1,$2,$3,nullif($4,''),$5,$6,$7,$8,$9,nullif($10,''),$11,$12)
	`, c.ID, string(c.Type), c.Name, c.SecretDigest, redirects, scopes,
		c.RequirePKCE, c.RequireConsent, c.IsFirstParty, c.CreatedBy,
		c.CreatedAt, c.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return client.ErrAlreadyExists
	}
	return err
}

func (s *ClientStore) Find(ctx context.Context, id string) (*client.Client, error) {
	var (
		c         client.Client
		typ       string
		digest    sql.NullString
		createdBy sql.NullString
		redirects []byte
		scopes    []byte
		deletedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, type, name, coalesce(secret_digest,''), redirect_uris,
		       allowed_scopes, require_pkce, require_consent, is_first_party,
		       coalesce(created_by,''), created_at, updated_at, deleted_at
		from clients where id = $1
	`, id).Scan(&c.ID, &typ, &c.Name, &digest, &redirects, &scopes,
		&c.RequirePKCE, &c.RequireConsent, &c.IsFirstParty,
		&createdBy, &c.CreatedAt, &c.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, client.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Type = client.Type(typ)
	c.SecretDigest = digest.String
	c.CreatedBy = createdBy.String
	if c.RedirectURIs, err = decodeStrings(redirects); err != nil {
		return nil, err
	}
	if c.AllowedScopes, err = decodeStrings(scopes); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		c.DeletedAt = &t
	}
	return &c, nil
}

func (s *ClientStore) List(ctx context.Context) ([]client.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, type, name, is_first_party, created_at
		from clients
		where deleted_at is null
		order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []client.Summary
	for rows.Next() {
		var (
			sm  client.Summary
			typ string
		)
		if err := rows.Scan(&sm.ID, &typ, &sm.Name, &sm.IsFirstParty, &sm.CreatedAt); err != nil {
			return nil, err
		}
		sm.Type = client.Type(typ)
		result = append(result, sm)
	}
	return result, rows.Err()
}

func (s *ClientStore) Update(ctx context.Context, c *client.Client) error {
	redirects, err := encodeStrings(c.RedirectURIs)
	if err != nil {
		return err
	}
	scopes, err := encodeStrings(c.AllowedScopes)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update clients set
			type = $2, name = $3, secret_digest = nullif($4,''),
			redirect_uris = $5, allowed_scopes = $6,
			require_pkce = $7, require_consent = $8, is_first_party = $9,
			updated_at = $10
		where id = $1 and deleted_at is null
	`, c.ID, string(c.Type), c.Name, c.SecretDigest, redirects, scopes,
		c.RequirePKCE, c.RequireConsent, c.IsFirstParty, c.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return client.ErrNotFound
	}
	return nil
}

func (s *ClientStore) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update clients set deleted_at = now(), updated_at = now()
		where id = $1 and deleted_at is null
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return client.ErrNotFound
	}
	return nil
}
