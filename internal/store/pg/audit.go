package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"grantor.org/internal/audit"
)

// AuditStore persists the hash chain. The unique index on seq is the
// multi-writer backstop: a second process appending at the same head loses
// with ErrSequenceConflict and the ledger retries on the fresh head.
type AuditStore struct {
	db *sql.DB
}

func (s *AuditStore) Append(ctx context.Context, e *audit.Event) error {
	requested, err := encodeStrings(e.RequestedScopes)
	if err != nil {
		return err
	}
	granted, err := encodeStrings(e.GrantedScopes)
	if err != nil {
		return err
	}
	details := []byte("{}")
	if len(e.Details) > 0 {
		if details, err = json.Marshal(e.Details); err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_events (
			id, seq, event_type, user_id, client_id, organization_id,
			requested_scopes, granted_scopes, details, success,
			error_message, ts, prev_hash, this_hash
		) values ($1,$2,$3,nullif($4,''),nullif($5,''),nullif($6,''),
		          $7,$8,$9,$10,nullif($11,''),$12,$13,$14)
	`, e.ID, e.Seq, string(e.Type), e.UserID, e.ClientID, e.OrganizationID,
		requested, granted, details, e.Success,
		e.ErrorMessage, e.Timestamp, e.PrevHash, e.Hash)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return audit.ErrSequenceConflict
	}
	return err
}

func (s *AuditStore) Last(ctx context.Context) (*audit.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, seq, event_type, coalesce(user_id,''), coalesce(client_id,''),
		       coalesce(organization_id,''), requested_scopes, granted_scopes,
		       details, success, coalesce(error_message,''), ts, prev_hash, this_hash
		from audit_events
		order by seq desc
		limit 1
	`)
	e, err := scanAuditEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *AuditStore) List(ctx context.Context, sinceSeq uint64, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, seq, event_type, coalesce(user_id,''), coalesce(client_id,''),
		       coalesce(organization_id,''), requested_scopes, granted_scopes,
		       details, success, coalesce(error_message,''), ts, prev_hash, this_hash
		from audit_events
		where seq >= $1
		order by seq asc
		limit $2
	`, sinceSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Event
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditEvent(row rowScanner) (*audit.Event, error) {
	var (
		e         audit.Event
		typ       string
		requested []byte
		granted   []byte
		details   []byte
	)
	if err := row.Scan(&e.ID, &e.Seq, &typ, &e.UserID, &e.ClientID,
		&e.OrganizationID, &requested, &granted, &details, &e.Success,
		&e.ErrorMessage, &e.Timestamp, &e.PrevHash, &e.Hash); err != nil {
		return nil, err
	}
	e.Type = audit.EventType(typ)
	var err error
	if e.RequestedScopes, err = decodeStrings(requested); err != nil {
		return nil, err
	}
	if e.GrantedScopes, err = decodeStrings(granted); err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
		if len(e.Details) == 0 {
			e.Details = nil
		}
	}
	return &e, nil
}
