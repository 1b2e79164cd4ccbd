package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const passwordColumns = `id, organization_id, name, username, password_sealed, password_type, category, url, notes, otp_enabled, archived, COALESCE(created_by::text, ''), created_at, updated_at`

func scanPassword(row interface{ Scan(...any) error }) (Password, error) {
	var p Password
	err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Username, &p.Sealed, &p.PasswordType, &p.Category, &p.URL, &p.Notes, &p.OTPEnabled, &p.Archived, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) InsertPassword(ctx context.Context, p Password) (Password, error) {
	created, err := scanPassword(s.db.QueryRowContext(ctx, `
		INSERT INTO passwords (organization_id, name, username, password_sealed, password_type, category, url, notes, otp_enabled, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, '')::uuid)
		RETURNING `+passwordColumns,
		p.OrganizationID, p.Name, p.Username, p.Sealed, p.PasswordType, p.Category, p.URL, p.Notes, p.OTPEnabled, p.CreatedBy))
	if err != nil {
		return Password{}, fmt.Errorf("insert password: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetPassword(ctx context.Context, passwordID string) (Password, error) {
	p, err := scanPassword(s.db.QueryRowContext(ctx, `SELECT `+passwordColumns+` FROM passwords WHERE id=$1`, passwordID))
	if err != nil {
		return Password{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListPasswords(ctx context.Context, orgID string) ([]Password, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+passwordColumns+` FROM passwords
		WHERE organization_id=$1 AND NOT archived ORDER BY name
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list passwords: %w", err)
	}
	defer rows.Close()
	var out []Password
	for rows.Next() {
		p, err := scanPassword(rows)
		if err != nil {
			return nil, fmt.Errorf("scan password: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeletePassword(ctx context.Context, passwordID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM passwords WHERE id=$1`, passwordID)
	if err != nil {
		return fmt.Errorf("delete password: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) GetSiteSummary(ctx context.Context, orgID string) (SiteSummary, error) {
	var summary SiteSummary
	var content []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT organization_id, content, COALESCE(updated_by::text, ''), created_at, updated_at
		FROM site_summaries WHERE organization_id=$1
	`, orgID).Scan(&summary.OrganizationID, &content, &summary.UpdatedBy, &summary.CreatedAt, &summary.UpdatedAt)
	if err != nil {
		return SiteSummary{}, err
	}
	summary.Content = json.RawMessage(content)
	return summary, nil
}

func (s *PostgresStore) SaveSiteSummary(ctx context.Context, orgID string, content json.RawMessage, updatedBy string) (SiteSummary, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_summaries (organization_id, content, updated_by)
		VALUES ($1, $2, NULLIF($3, '')::uuid)
		ON CONFLICT (organization_id) DO UPDATE
			SET content=EXCLUDED.content, updated_by=EXCLUDED.updated_by, updated_at=NOW()
	`, orgID, []byte(content), updatedBy)
	if err != nil {
		return SiteSummary{}, fmt.Errorf("save site summary: %w", err)
	}
	return s.GetSiteSummary(ctx, orgID)
}

func (s *PostgresStore) GetMicrosoftToken(ctx context.Context, userID, orgID string) (MicrosoftToken, error) {
	token := MicrosoftToken{UserID: userID, OrganizationID: orgID}
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, token_type, expires_at
		FROM microsoft_tokens WHERE user_id=$1 AND organization_id=$2
	`, userID, orgID).Scan(&token.AccessToken, &token.RefreshToken, &token.TokenType, &token.ExpiresAt)
	if err != nil {
		return MicrosoftToken{}, err
	}
	return token, nil
}

func (s *PostgresStore) SaveMicrosoftToken(ctx context.Context, token MicrosoftToken) error {
	if token.ExpiresAt.IsZero() {
		token.ExpiresAt = time.Now().Add(time.Hour)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO microsoft_tokens (user_id, organization_id, access_token, refresh_token, token_type, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, organization_id) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=CASE WHEN EXCLUDED.refresh_token = '' THEN microsoft_tokens.refresh_token ELSE EXCLUDED.refresh_token END,
			token_type=EXCLUDED.token_type,
			expires_at=EXCLUDED.expires_at,
			updated_at=NOW()
	`, token.UserID, token.OrganizationID, token.AccessToken, token.RefreshToken, token.TokenType, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save microsoft token: %w", err)
	}
	return nil
}
