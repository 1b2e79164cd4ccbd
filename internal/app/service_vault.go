package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"msphub/api/internal/rbac"
	"msphub/api/internal/store"
)

// CreatePasswordInput accepts the field names older clients send:
// password_value, password or password_encrypted for the secret and name or
// title for the label.
type CreatePasswordInput struct {
	OrganizationID    string `json:"organization_id"`
	Name              string `json:"name"`
	Title             string `json:"title"`
	Username          string `json:"username"`
	PasswordValue     string `json:"password_value"`
	Password          string `json:"password"`
	PasswordEncrypted string `json:"password_encrypted"`
	PasswordType      string `json:"password_type"`
	Category          string `json:"category"`
	URL               string `json:"url"`
	Notes             string `json:"notes"`
	OTPEnabled        bool   `json:"otp_enabled"`
}

func (in CreatePasswordInput) secret() string {
	for _, v := range []string{in.PasswordValue, in.Password, in.PasswordEncrypted} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (in CreatePasswordInput) label() string {
	if strings.TrimSpace(in.Name) != "" {
		return strings.TrimSpace(in.Name)
	}
	return strings.TrimSpace(in.Title)
}

func requirePasswordAdmin(sess Session) error {
	if sess.Role != rbac.RoleAdmin && sess.Role != rbac.RoleSuperAdmin {
		return errAdminOnly
	}
	return nil
}

// CreatePassword seals the secret before it reaches the store. Only global
// admins and super admins may write.
func (s *Service) CreatePassword(ctx context.Context, sess Session, in CreatePasswordInput) (store.Password, error) {
	name, secret := in.label(), in.secret()
	if name == "" || secret == "" {
		return store.Password{}, badRequest("Name and password are required")
	}
	if err := requirePasswordAdmin(sess); err != nil {
		s.logger.Warn("password write denied", zap.String("user_id", sess.UserID), zap.String("role", string(sess.Role)))
		return store.Password{}, err
	}
	if err := s.requireOrgMember(ctx, sess, in.OrganizationID); err != nil {
		return store.Password{}, err
	}
	if s.vault == nil || !s.vault.Configured() {
		return store.Password{}, errVaultUnavailable
	}
	sealed, err := s.vault.Seal([]byte(secret))
	if err != nil {
		return store.Password{}, err
	}
	passwordType := in.PasswordType
	if passwordType == "" {
		passwordType = "general"
	}
	saved, err := s.store.InsertPassword(ctx, store.Password{
		OrganizationID: in.OrganizationID,
		Name:           name,
		Username:       in.Username,
		Sealed:         sealed,
		PasswordType:   passwordType,
		Category:       in.Category,
		URL:            in.URL,
		Notes:          in.Notes,
		OTPEnabled:     in.OTPEnabled,
		CreatedBy:      sess.UserID,
	})
	if err != nil {
		return store.Password{}, err
	}
	s.logger.Info("password created", zap.String("password_id", saved.ID), zap.String("organization_id", saved.OrganizationID))
	return saved, nil
}

func (s *Service) ListPasswords(ctx context.Context, sess Session, orgID string) ([]store.Password, error) {
	if err := s.requireOrgMember(ctx, sess, orgID); err != nil {
		return nil, err
	}
	out, err := s.store.ListPasswords(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.Password{}
	}
	return out, nil
}

// RevealPassword opens the sealed secret for an admin with access to the
// password's organization.
func (s *Service) RevealPassword(ctx context.Context, sess Session, passwordID string) (string, error) {
	if err := requirePasswordAdmin(sess); err != nil {
		return "", err
	}
	p, err := s.store.GetPassword(ctx, passwordID)
	if err != nil {
		return "", err
	}
	if err := s.requireOrgMember(ctx, sess, p.OrganizationID); err != nil {
		return "", err
	}
	if s.vault == nil || !s.vault.Configured() {
		return "", errVaultUnavailable
	}
	plain, err := s.vault.Open(p.Sealed)
	if err != nil {
		return "", err
	}
	s.logger.Info("password revealed", zap.String("password_id", passwordID), zap.String("user_id", sess.UserID))
	return string(plain), nil
}

func (s *Service) DeletePassword(ctx context.Context, sess Session, passwordID string) error {
	if err := requirePasswordAdmin(sess); err != nil {
		return err
	}
	p, err := s.store.GetPassword(ctx, passwordID)
	if err != nil {
		return err
	}
	if err := s.requireOrgMember(ctx, sess, p.OrganizationID); err != nil {
		return err
	}
	return s.store.DeletePassword(ctx, passwordID)
}

// GetSiteSummary returns an empty object for organizations without one.
func (s *Service) GetSiteSummary(ctx context.Context, sess Session, orgID string) (store.SiteSummary, error) {
	if err := s.requireOrgMember(ctx, sess, orgID); err != nil {
		return store.SiteSummary{}, err
	}
	summary, err := s.store.GetSiteSummary(ctx, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.SiteSummary{OrganizationID: orgID, Content: json.RawMessage(`{}`)}, nil
	}
	return summary, err
}

func (s *Service) SaveSiteSummary(ctx context.Context, sess Session, orgID string, content json.RawMessage) (store.SiteSummary, error) {
	if err := s.requireOrgAdmin(ctx, sess, orgID); err != nil {
		return store.SiteSummary{}, err
	}
	if len(content) == 0 || !json.Valid(content) {
		return store.SiteSummary{}, badRequest("content must be valid JSON")
	}
	return s.store.SaveSiteSummary(ctx, orgID, content, sess.UserID)
}
