// Package pg backs every domain store with PostgreSQL through database/sql
// and the pgx stdlib driver.
package pg

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"grantor.org/internal/audit"
	"grantor.org/internal/authcode"
	"grantor.org/internal/client"
	"grantor.org/internal/consent"
	"grantor.org/internal/rbac"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store owns the connection pool. Domain stores share it and satisfy one
// store interface each; the interface method names overlap, so each gets its
// own receiver type.
type Store struct {
	db *sql.DB
}

var (
	_ client.Store   = (*ClientStore)(nil)
	_ rbac.Store     = (*RBACStore)(nil)
	_ consent.Store  = (*ConsentStore)(nil)
	_ authcode.Store = (*CodeStore)(nil)
	_ audit.Store    = (*AuditStore)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (used by tests with sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Clients() *ClientStore   { return &ClientStore{db: s.db} }
func (s *Store) RBAC() *RBACStore        { return &RBACStore{db: s.db} }
func (s *Store) Consents() *ConsentStore { return &ConsentStore{db: s.db} }
func (s *Store) Codes() *CodeStore       { return &CodeStore{db: s.db} }
func (s *Store) Audit() *AuditStore      { return &AuditStore{db: s.db} }

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func encodeStrings(vals []string) ([]byte, error) {
	if vals == nil {
		vals = []string{}
	}
	raw, err := json.Marshal(vals)
	if err != nil {
		return nil, fmt.Errorf("encode string list: %w", err)
	}
	return raw, nil
}

func decodeStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var vals []string
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}
	return vals, nil
}
