package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const userColumns = `id, email, full_name, role, is_active, password_hash, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.FullName, &user.Role, &user.IsActive, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, strings.TrimSpace(email)))
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, full_name, role, password_hash)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5)
		RETURNING `+userColumns,
		user.ID, user.Email, user.FullName, user.Role, user.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

// EnsureUserProfile inserts a users row when none exists for id and returns the stored row.
func (s *PostgresStore) EnsureUserProfile(ctx context.Context, user User) (User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, full_name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, user.ID, user.Email, user.FullName, user.Role)
	if err != nil {
		return User{}, fmt.Errorf("ensure user profile: %w", err)
	}
	return s.GetUserByID(ctx, user.ID)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUserGlobalRole(ctx context.Context, userID, role string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1 RETURNING `+userColumns, userID, role))
	if err != nil {
		return User{}, err
	}
	return user, nil
}

var orgColumns = orgColumnsAs("")

func orgColumnsAs(alias string) string {
	if alias != "" {
		alias += "."
	}
	return fmt.Sprintf(`%[1]sid, %[1]sname, %[1]sdescription, %[1]sstatus, %[1]stimezone, COALESCE(%[1]screated_by::text, ''), COALESCE(%[1]supdated_by::text, ''), %[1]screated_at, %[1]supdated_at`, alias)
}

func scanOrganization(row interface{ Scan(...any) error }) (Organization, error) {
	var org Organization
	err := row.Scan(&org.ID, &org.Name, &org.Description, &org.Status, &org.Timezone, &org.CreatedBy, &org.UpdatedBy, &org.CreatedAt, &org.UpdatedAt)
	return org, err
}

func (s *PostgresStore) CreateOrganization(ctx context.Context, org Organization) (Organization, error) {
	created, err := scanOrganization(s.db.QueryRowContext(ctx, `
		INSERT INTO organizations (name, description, status, timezone, created_by, updated_by)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, NULLIF($5, '')::uuid)
		RETURNING `+orgColumns,
		org.Name, org.Description, org.Status, org.Timezone, org.CreatedBy))
	if err != nil {
		return Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	org, err := scanOrganization(s.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id=$1`, orgID))
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	return s.queryOrganizations(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY name`)
}

func (s *PostgresStore) ListOrganizationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list organization ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan organization id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) ListOrganizationsForUser(ctx context.Context, userID string) ([]Organization, error) {
	return s.queryOrganizations(ctx, `
		SELECT `+orgColumnsAs("o")+`
		FROM organizations o
		JOIN user_organizations uo ON uo.organization_id = o.id
		WHERE uo.user_id=$1 AND uo.is_active
		ORDER BY o.name
	`, userID)
}

func (s *PostgresStore) queryOrganizations(ctx context.Context, query string, args ...any) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()
	var orgs []Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

func (s *PostgresStore) UpdateOrganization(ctx context.Context, orgID string, patch OrganizationPatch) (Organization, error) {
	update := psql.Update("organizations").
		Set("updated_at", sq.Expr("NOW()")).
		Set("updated_by", sq.Expr("NULLIF(?, '')::uuid", patch.UpdatedBy)).
		Where(sq.Eq{"id": orgID}).
		Suffix("RETURNING " + orgColumns)
	if patch.Name != nil {
		update = update.Set("name", *patch.Name)
	}
	if patch.Description != nil {
		update = update.Set("description", *patch.Description)
	}
	if patch.Status != nil {
		update = update.Set("status", *patch.Status)
	}
	if patch.Timezone != nil {
		update = update.Set("timezone", *patch.Timezone)
	}
	query, args, err := update.ToSql()
	if err != nil {
		return Organization{}, fmt.Errorf("build organization update: %w", err)
	}
	org, err := scanOrganization(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

const membershipColumns = `uo.id, uo.user_id, uo.organization_id, uo.role, uo.permissions, uo.is_active, uo.joined_at, uo.created_at, uo.updated_at`

func scanMembership(row interface{ Scan(...any) error }, extra ...any) (UserOrganization, error) {
	var m UserOrganization
	var permissions []byte
	dest := []any{&m.ID, &m.UserID, &m.OrganizationID, &m.Role, &permissions, &m.IsActive, &m.JoinedAt, &m.CreatedAt, &m.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return UserOrganization{}, err
	}
	m.Permissions = permissions
	return m, nil
}

// AddUserToOrganization creates an active membership. A previously removed
// membership is reactivated with the new role.
func (s *PostgresStore) AddUserToOrganization(ctx context.Context, userID, orgID, role string) (UserOrganization, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO user_organizations AS uo (user_id, organization_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, organization_id) DO UPDATE
			SET role=EXCLUDED.role, is_active=TRUE, joined_at=NOW(), updated_at=NOW()
			WHERE uo.is_active = FALSE
		RETURNING `+membershipColumns,
		userID, orgID, role)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return UserOrganization{}, ErrMembershipExists
	}
	if err != nil {
		return UserOrganization{}, fmt.Errorf("insert membership: %w", err)
	}
	return m, nil
}

// ErrMembershipExists is returned when an active membership already exists.
var ErrMembershipExists = errors.New("user is already a member of this organization")

func (s *PostgresStore) DeactivateMembership(ctx context.Context, userID, orgID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_organizations SET is_active=FALSE, updated_at=NOW()
		WHERE user_id=$1 AND organization_id=$2 AND is_active
	`, userID, orgID)
	if err != nil {
		return fmt.Errorf("deactivate membership: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) UpdateMembershipRole(ctx context.Context, userID, orgID, role string) (UserOrganization, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx, `
		UPDATE user_organizations AS uo SET role=$3, updated_at=NOW()
		WHERE uo.user_id=$1 AND uo.organization_id=$2 AND uo.is_active
		RETURNING `+membershipColumns, userID, orgID, role))
	if err != nil {
		return UserOrganization{}, err
	}
	return m, nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, userID, orgID string) (UserOrganization, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+` FROM user_organizations uo
		WHERE uo.user_id=$1 AND uo.organization_id=$2 AND uo.is_active
	`, userID, orgID))
	if err != nil {
		return UserOrganization{}, err
	}
	return m, nil
}

func (s *PostgresStore) ListUserMemberships(ctx context.Context, userID string) ([]UserOrganization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+membershipColumns+`, `+orgColumnsAs("o")+`
		FROM user_organizations uo
		JOIN organizations o ON o.id = uo.organization_id
		WHERE uo.user_id=$1 AND uo.is_active
		ORDER BY uo.joined_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user memberships: %w", err)
	}
	defer rows.Close()
	var out []UserOrganization
	for rows.Next() {
		var org Organization
		m, err := scanMembership(rows, &org.ID, &org.Name, &org.Description, &org.Status, &org.Timezone, &org.CreatedBy, &org.UpdatedBy, &org.CreatedAt, &org.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.Organization = &org
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListOrganizationMembers(ctx context.Context, orgID string) ([]UserOrganization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+membershipColumns+`, u.id, u.email, u.full_name, u.role, u.is_active, u.created_at, u.updated_at
		FROM user_organizations uo
		JOIN users u ON u.id = uo.user_id
		WHERE uo.organization_id=$1 AND uo.is_active
		ORDER BY uo.joined_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list organization members: %w", err)
	}
	defer rows.Close()
	var out []UserOrganization
	for rows.Next() {
		var user User
		m, err := scanMembership(rows, &user.ID, &user.Email, &user.FullName, &user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.User = &user
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession returns the user id bound to an unrevoked, unexpired refresh token.
func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
