package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"msphub/api/internal/auth"
	"msphub/api/internal/authpw"
	"msphub/api/internal/config"
	"msphub/api/internal/documents"
	"msphub/api/internal/email"
	"msphub/api/internal/filestore"
	"msphub/api/internal/metrics"
	"msphub/api/internal/rbac"
	"msphub/api/internal/session"
	"msphub/api/internal/sidebar"
	"msphub/api/internal/store"
	"msphub/api/internal/util"
	"msphub/api/internal/vault"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	FullName     string
	Role         rbac.Role
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) IsSuperAdmin() bool { return s.Role == rbac.RoleSuperAdmin }

// DataStore is the relational side of the API. *store.PostgresStore
// satisfies it.
type DataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	EnsureUserProfile(ctx context.Context, user store.User) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	UpdateUserGlobalRole(ctx context.Context, userID, role string) (store.User, error)

	CreateOrganization(ctx context.Context, org store.Organization) (store.Organization, error)
	GetOrganization(ctx context.Context, orgID string) (store.Organization, error)
	ListOrganizations(ctx context.Context) ([]store.Organization, error)
	ListOrganizationsForUser(ctx context.Context, userID string) ([]store.Organization, error)
	UpdateOrganization(ctx context.Context, orgID string, patch store.OrganizationPatch) (store.Organization, error)

	AddUserToOrganization(ctx context.Context, userID, orgID, role string) (store.UserOrganization, error)
	DeactivateMembership(ctx context.Context, userID, orgID string) error
	UpdateMembershipRole(ctx context.Context, userID, orgID, role string) (store.UserOrganization, error)
	GetMembership(ctx context.Context, userID, orgID string) (store.UserOrganization, error)
	ListUserMemberships(ctx context.Context, userID string) ([]store.UserOrganization, error)
	ListOrganizationMembers(ctx context.Context, orgID string) ([]store.UserOrganization, error)

	InsertPassword(ctx context.Context, p store.Password) (store.Password, error)
	GetPassword(ctx context.Context, passwordID string) (store.Password, error)
	ListPasswords(ctx context.Context, orgID string) ([]store.Password, error)
	DeletePassword(ctx context.Context, passwordID string) error

	GetSiteSummary(ctx context.Context, orgID string) (store.SiteSummary, error)
	SaveSiteSummary(ctx context.Context, orgID string, content json.RawMessage, updatedBy string) (store.SiteSummary, error)
}

// Sidebar is implemented by *sidebar.Service.
type Sidebar interface {
	InitializeDefaultSidebar(ctx context.Context, orgID string) error
	GetDynamicSidebarConfig(ctx context.Context, orgID string) (sidebar.Config, error)
	GetSidebarItem(ctx context.Context, itemID string) (store.SidebarItem, error)
	GetSidebarCategory(ctx context.Context, categoryID string) (store.SidebarCategory, error)
	CreateSidebarItem(ctx context.Context, in sidebar.NewItem) (store.SidebarItem, error)
	UpdateSidebarItem(ctx context.Context, itemID string, patch store.SidebarItemPatch) (store.SidebarItem, error)
	UpdateCategoryName(ctx context.Context, categoryID, name string) (store.SidebarCategory, error)
	DeleteSidebarItem(ctx context.Context, itemID string) error
	RepairAll(ctx context.Context) (int, error)
}

// Mailer is implemented by *email.Service.
type Mailer interface {
	IsConfigured() bool
	SendInvitation(to string, data email.InvitationData) error
}

// MicrosoftAuth runs the delegated consent flow; *filestore.Graph
// implements it.
type MicrosoftAuth interface {
	AuthCodeURL(state string) (string, error)
	Exchange(ctx context.Context, scope filestore.Scope, code string) error
}

type Deps struct {
	Store     DataStore
	Sessions  session.Store
	Passwords *authpw.Service
	Sidebar   Sidebar
	Documents *documents.Service
	Microsoft MicrosoftAuth
	Vault     *vault.Vault
	Mailer    Mailer
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

type Service struct {
	cfg       config.Config
	store     DataStore
	sessions  session.Store
	passwords *authpw.Service
	sidebar   Sidebar
	docs      *documents.Service
	microsoft MicrosoftAuth
	vault     *vault.Vault
	mailer    Mailer
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	sessions := deps.Sessions
	if sessions == nil {
		if ss, ok := deps.Store.(session.Store); ok {
			sessions = ss
		}
	}
	passwords := deps.Passwords
	if passwords == nil && deps.Store != nil {
		passwords = authpw.NewService(deps.Store)
	}
	docs := deps.Documents
	if docs == nil {
		if ds, ok := deps.Store.(documents.Store); ok {
			docs = documents.New(ds, nil, nil, logger)
		}
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  sessions,
		passwords: passwords,
		sidebar:   deps.Sidebar,
		docs:      docs,
		microsoft: deps.Microsoft,
		vault:     deps.Vault,
		mailer:    deps.Mailer,
		logger:    logger.Named("app"),
		metrics:   m,
		now:       time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SignUp creates the account and signs it in. Addresses listed in
// MSPHUB_SUPER_ADMIN_EMAILS are promoted on creation.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	if s.isConfiguredSuperAdmin(user.Email) {
		promoted, err := s.store.UpdateUserGlobalRole(ctx, user.ID, string(rbac.RoleSuperAdmin))
		if err != nil {
			return Session{}, fmt.Errorf("promote super admin: %w", err)
		}
		user = promoted
		s.logger.Info("promoted configured super admin", zap.String("user_id", user.ID))
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token. Any lookup failure reads as an invalid token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			s.logger.Debug("refresh lookup failed", zap.Error(err))
		}
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, authpw.ErrInactive
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID()
	role := s.resolveRole(user)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Role:  string(role),
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		FullName:     user.FullName,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token. The role always comes from
// the users row so promotions apply without a new sign-in.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Profile row missing: fall back to the token's email.
		user = store.User{ID: claims.Sub, Email: claims.Email, IsActive: true}
	case err != nil:
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		FullName:  user.FullName,
		Role:      s.resolveRole(user),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session", zap.Error(err))
		}
	}
	return nil
}

// resolveRole reads users.role. With no stored role the configured
// super-admin list decides, else user.
func (s *Service) resolveRole(user store.User) rbac.Role {
	if strings.TrimSpace(user.Role) != "" {
		return rbac.Normalize(user.Role)
	}
	if s.isConfiguredSuperAdmin(user.Email) {
		return rbac.RoleSuperAdmin
	}
	return rbac.RoleUser
}

func (s *Service) isConfiguredSuperAdmin(emailAddr string) bool {
	return emailAddr != "" && slices.Contains(s.cfg.SuperAdminEmails, strings.ToLower(strings.TrimSpace(emailAddr)))
}

func (s *Service) Can(sess Session, action rbac.Action) bool {
	return rbac.Can(sess.Role, action)
}

// MicrosoftAuthURL starts delegated consent. It fails with 503 when the
// storage backend is not Graph.
func (s *Service) MicrosoftAuthURL(state string) (string, error) {
	if s.microsoft == nil {
		return "", errMicrosoftUnavailable
	}
	return s.microsoft.AuthCodeURL(state)
}

func (s *Service) CompleteMicrosoftAuth(ctx context.Context, sess Session, orgID, code string) error {
	if s.microsoft == nil {
		return errMicrosoftUnavailable
	}
	if err := s.requireOrgMember(ctx, sess, orgID); err != nil {
		return err
	}
	if err := s.microsoft.Exchange(ctx, filestore.Scope{UserID: sess.UserID, OrganizationID: orgID}, code); err != nil {
		return err
	}
	s.logger.Info("microsoft account connected", zap.String("user_id", sess.UserID), zap.String("organization_id", orgID))
	return nil
}
