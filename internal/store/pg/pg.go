// Package pg is the Postgres-backed UserProvider. Records live in the
// users and user_roles tables (see migrations/); credential decisions are
// delegated to the shared checks in internal/store.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ssohub.org/internal/sso"
	"ssohub.org/internal/store"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ sso.UserProvider = (*Store)(nil)

// Open connects to Postgres via the pgx stdlib driver.
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
	return NewStore(db), nil
}

// NewStore wraps an existing connection pool (tests inject sqlmock here).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock overrides the time source (useful for TFA tests).
func (s *Store) WithClock(fn func() time.Time) *Store {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) GetUser(ctx context.Context, email string) (*sso.Identity, error) {
	rec, err := s.load(ctx, email)
	if err != nil {
		return nil, err
	}
	return rec.Identity(), nil
}

func (s *Store) GetAuthenticated(ctx context.Context, email, password, tfaCode string) (*sso.Identity, error) {
	rec, err := s.load(ctx, email)
	if errors.Is(err, sso.ErrNotFound) {
		return nil, sso.ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return store.Authenticate(rec, password, tfaCode, s.now())
}

func (s *Store) GetAuthenticatedByAPIKey(ctx context.Context, accessKey, apiKey string) (*sso.Identity, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `select email from users where access_key=$1`, accessKey).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sso.ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, email)
	if err != nil {
		return nil, sso.ErrUnauthenticated
	}
	return store.AuthenticateAPIKey(rec, accessKey, apiKey)
}

// CreateUser inserts a user row plus its role assignments. The derived
// access key is stored alongside so api-key lookups stay a single index hit.
func (s *Store) CreateUser(ctx context.Context, rec store.Record) error {
	email := normalize(rec.Email)
	if email == "" {
		return errors.New("pg: email is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users(email, password_hash, api_key, access_key, default_organization, tfa_enabled, tfa_secret, banned, created_at)
		values ($1,$2,nullif($3,''),$4,nullif($5,''),$6,nullif($7,''),$8,now())
	`, email, rec.PasswordHash, rec.APIKey, sso.AccessKeyOf(email), rec.DefaultOrganization, rec.TfaEnabled, rec.TfaSecret, rec.Banned); err != nil {
		return err
	}

	for realm, role := range rec.Roles {
		account := rec.DefaultAccounts[realm]
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles(user_email, organization_id, role_name, default_account)
			values ($1,$2,$3,nullif($4,''))
		`, email, realm, role, account); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AssignRole grants (or replaces) a role in an organization.
func (s *Store) AssignRole(ctx context.Context, email, organizationID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles(user_email, organization_id, role_name)
		values ($1,$2,$3)
		on conflict (user_email, organization_id) do update set role_name = excluded.role_name
	`, normalize(email), organizationID, role)
	return err
}

// SetBanned flips the ban flag.
func (s *Store) SetBanned(ctx context.Context, email string, banned bool) error {
	res, err := s.db.ExecContext(ctx, `update users set banned=$2 where email=$1`, normalize(email), banned)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sso.ErrNotFound
	}
	return nil
}

// SetAPIKey stores (or clears) a user's api key.
func (s *Store) SetAPIKey(ctx context.Context, email, apiKey string) error {
	res, err := s.db.ExecContext(ctx, `update users set api_key=nullif($2,'') where email=$1`, normalize(email), apiKey)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sso.ErrNotFound
	}
	return nil
}

func (s *Store) load(ctx context.Context, email string) (store.Record, error) {
	email = normalize(email)

	var rec store.Record
	err := s.db.QueryRowContext(ctx, `
		select email, password_hash, coalesce(api_key,''), coalesce(default_organization,''), tfa_enabled, coalesce(tfa_secret,''), banned
		from users where email=$1
	`, email).Scan(&rec.Email, &rec.PasswordHash, &rec.APIKey, &rec.DefaultOrganization, &rec.TfaEnabled, &rec.TfaSecret, &rec.Banned)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, sso.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select organization_id, role_name, coalesce(default_account,'')
		from user_roles where user_email=$1
	`, email)
	if err != nil {
		return store.Record{}, err
	}
	defer rows.Close()

	rec.Roles = map[string]string{}
	rec.DefaultAccounts = map[string]string{}
	for rows.Next() {
		var realm, role, account string
		if err := rows.Scan(&realm, &role, &account); err != nil {
			return store.Record{}, err
		}
		rec.Roles[realm] = role
		if account != "" {
			rec.DefaultAccounts[realm] = account
		}
	}
	if err := rows.Err(); err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
