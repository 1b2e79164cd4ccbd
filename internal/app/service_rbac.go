package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"msphub/api/internal/email"
	"msphub/api/internal/rbac"
	"msphub/api/internal/store"
)

// HasOrganizationAccess is true for super admins and active members.
func (s *Service) HasOrganizationAccess(ctx context.Context, sess Session, orgID string) (bool, error) {
	if sess.IsSuperAdmin() {
		return true, nil
	}
	_, err := s.store.GetMembership(ctx, sess.UserID, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetUserRole returns the caller's role inside the organization. Super
// admins read as admin everywhere.
func (s *Service) GetUserRole(ctx context.Context, sess Session, orgID string) (rbac.MemberRole, error) {
	if sess.IsSuperAdmin() {
		return rbac.MemberAdmin, nil
	}
	m, err := s.store.GetMembership(ctx, sess.UserID, orgID)
	if err != nil {
		return "", err
	}
	role, _ := rbac.NormalizeMember(m.Role)
	return role, nil
}

func (s *Service) requireOrgMember(ctx context.Context, sess Session, orgID string) error {
	if strings.TrimSpace(orgID) == "" {
		return badRequest("Organization ID is required")
	}
	ok, err := s.HasOrganizationAccess(ctx, sess, orgID)
	if err != nil {
		return err
	}
	if !ok {
		return errNoOrgAccess
	}
	return nil
}

// requireOrgAdmin passes super admins, organization admins and managers.
func (s *Service) requireOrgAdmin(ctx context.Context, sess Session, orgID string) error {
	if strings.TrimSpace(orgID) == "" {
		return badRequest("Organization ID is required")
	}
	role, err := s.GetUserRole(ctx, sess, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNoOrgAccess
	}
	if err != nil {
		return err
	}
	if !rbac.CanManageOrg(role) {
		return errOrgAdminOnly
	}
	return nil
}

func (s *Service) IsSuperAdmin(ctx context.Context, userID string) (bool, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.resolveRole(user) == rbac.RoleSuperAdmin, nil
}

// GetAccessibleOrganizations is every organization for super admins and the
// member organizations otherwise.
func (s *Service) GetAccessibleOrganizations(ctx context.Context, sess Session) ([]store.Organization, error) {
	var (
		orgs []store.Organization
		err  error
	)
	if sess.IsSuperAdmin() {
		orgs, err = s.store.ListOrganizations(ctx)
	} else {
		orgs, err = s.store.ListOrganizationsForUser(ctx, sess.UserID)
	}
	if err != nil {
		return nil, err
	}
	if orgs == nil {
		orgs = []store.Organization{}
	}
	return orgs, nil
}

func (s *Service) GetOrganization(ctx context.Context, sess Session, orgID string) (store.Organization, error) {
	if err := s.requireOrgMember(ctx, sess, orgID); err != nil {
		return store.Organization{}, err
	}
	return s.store.GetOrganization(ctx, orgID)
}

type CreateOrganizationInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Timezone    string `json:"timezone"`
}

// CreateOrganization is super admin only. The new organization's sidebar is
// initialized right away; a failure there is logged, not returned.
func (s *Service) CreateOrganization(ctx context.Context, sess Session, in CreateOrganizationInput) (store.Organization, error) {
	if !sess.IsSuperAdmin() {
		return store.Organization{}, errSuperAdminOnly
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return store.Organization{}, badRequest("Organization name is required")
	}
	status := in.Status
	if status == "" {
		status = "active"
	}
	timezone := in.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	org, err := s.store.CreateOrganization(ctx, store.Organization{
		Name:        name,
		Description: in.Description,
		Status:      status,
		Timezone:    timezone,
		CreatedBy:   sess.UserID,
		UpdatedBy:   sess.UserID,
	})
	if err != nil {
		return store.Organization{}, err
	}
	s.logger.Info("organization created", zap.String("organization_id", org.ID), zap.String("by", sess.UserID))

	if s.sidebar != nil {
		if err := s.sidebar.InitializeDefaultSidebar(ctx, org.ID); err != nil {
			s.logger.Error("initialize sidebar for new organization", zap.String("organization_id", org.ID), zap.Error(err))
		}
	}
	return org, nil
}

func (s *Service) UpdateOrganization(ctx context.Context, sess Session, orgID string, patch store.OrganizationPatch) (store.Organization, error) {
	if err := s.requireOrgAdmin(ctx, sess, orgID); err != nil {
		return store.Organization{}, err
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return store.Organization{}, badRequest("Organization name must not be empty")
	}
	patch.UpdatedBy = sess.UserID
	return s.store.UpdateOrganization(ctx, orgID, patch)
}

// AddUserToOrganization creates an active membership and, when SMTP is
// configured, mails the user a notice.
func (s *Service) AddUserToOrganization(ctx context.Context, userID, orgID, role string) (store.UserOrganization, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(orgID) == "" {
		return store.UserOrganization{}, badRequest("User ID and organization ID are required")
	}
	memberRole, ok := rbac.NormalizeMember(role)
	if !ok {
		return store.UserOrganization{}, badRequest("Invalid role: " + role)
	}
	m, err := s.store.AddUserToOrganization(ctx, userID, orgID, string(memberRole))
	if err != nil {
		return store.UserOrganization{}, err
	}
	s.sendInvitation(ctx, userID, orgID, memberRole)
	return m, nil
}

func (s *Service) sendInvitation(ctx context.Context, userID, orgID string, role rbac.MemberRole) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.Warn("invitation skipped, user lookup failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		s.logger.Warn("invitation skipped, organization lookup failed", zap.String("organization_id", orgID), zap.Error(err))
		return
	}
	err = s.mailer.SendInvitation(user.Email, email.InvitationData{
		UserName:         user.FullName,
		OrganizationName: org.Name,
		Role:             string(role),
		PortalURL:        s.cfg.PortalURL,
	})
	if err != nil {
		s.logger.Warn("send invitation", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) RemoveUserFromOrganization(ctx context.Context, userID, orgID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(orgID) == "" {
		return badRequest("User ID and organization ID are required")
	}
	return s.store.DeactivateMembership(ctx, userID, orgID)
}

func (s *Service) UpdateUserRole(ctx context.Context, userID, orgID, role string) (store.UserOrganization, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(orgID) == "" || strings.TrimSpace(role) == "" {
		return store.UserOrganization{}, badRequest("User ID, organization ID, and role are required")
	}
	memberRole, ok := rbac.NormalizeMember(role)
	if !ok {
		return store.UserOrganization{}, badRequest("Invalid role: " + role)
	}
	return s.store.UpdateMembershipRole(ctx, userID, orgID, string(memberRole))
}

func (s *Service) GetUserOrganizations(ctx context.Context, userID string) ([]store.UserOrganization, error) {
	out, err := s.store.ListUserMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.UserOrganization{}
	}
	return out, nil
}

func (s *Service) GetOrganizationMembers(ctx context.Context, orgID string) ([]store.UserOrganization, error) {
	out, err := s.store.ListOrganizationMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.UserOrganization{}
	}
	return out, nil
}

// EnsureUserProfile creates the users row with role user when missing.
func (s *Service) EnsureUserProfile(ctx context.Context, userID, emailAddr, fullName string) (store.User, error) {
	return s.store.EnsureUserProfile(ctx, store.User{
		ID:       userID,
		Email:    strings.ToLower(strings.TrimSpace(emailAddr)),
		FullName: fullName,
		Role:     string(rbac.RoleUser),
	})
}

// AdminUser is a user with their memberships, as the admin console lists them.
type AdminUser struct {
	store.User
	Organizations []store.UserOrganization `json:"user_organizations"`
}

// ListUsersWithMemberships filters to active members of orgID when set.
func (s *Service) ListUsersWithMemberships(ctx context.Context, orgID string) ([]AdminUser, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AdminUser, 0, len(users))
	for _, u := range users {
		memberships, err := s.store.ListUserMemberships(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		if memberships == nil {
			memberships = []store.UserOrganization{}
		}
		if orgID != "" && !hasMembership(memberships, orgID) {
			continue
		}
		out = append(out, AdminUser{User: u, Organizations: memberships})
	}
	return out, nil
}

func hasMembership(memberships []store.UserOrganization, orgID string) bool {
	for _, m := range memberships {
		if m.OrganizationID == orgID && m.IsActive {
			return true
		}
	}
	return false
}

// UpdateGlobalRole changes users.role.
func (s *Service) UpdateGlobalRole(ctx context.Context, userID, role string) (store.User, error) {
	normalized := rbac.Normalize(role)
	if !strings.EqualFold(strings.TrimSpace(role), string(normalized)) {
		return store.User{}, badRequest("Invalid role: " + role)
	}
	return s.store.UpdateUserGlobalRole(ctx, userID, string(normalized))
}
