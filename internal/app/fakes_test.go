package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"msphub/api/internal/auth"
	"msphub/api/internal/config"
	"msphub/api/internal/documents"
	"msphub/api/internal/sidebar"
	"msphub/api/internal/store"
	"msphub/api/internal/vault"
)

const (
	testSecret   = "test-secret"
	testVaultKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

// fakeStore keeps rows in maps. The Fn hooks override the map behavior for
// a single test.
type fakeStore struct {
	mu sync.Mutex

	users       map[string]store.User
	orgs        map[string]store.Organization
	memberships map[string]store.UserOrganization
	passwords   map[string]store.Password
	summaries   map[string]store.SiteSummary
	docs        map[string]store.Document
	refresh     map[string]string
	revoked     map[string]bool
	seq         int

	pingFn          func(context.Context) error
	getUserByIDFn   func(context.Context, string) (store.User, error)
	createOrgFn     func(context.Context, store.Organization) (store.Organization, error)
	insertPasswdFn  func(context.Context, store.Password) (store.Password, error)
	addMembershipFn func(context.Context, string, string, string) (store.UserOrganization, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]store.User{},
		orgs:        map[string]store.Organization{},
		memberships: map[string]store.UserOrganization{},
		passwords:   map[string]store.Password{},
		summaries:   map[string]store.SiteSummary{},
		docs:        map[string]store.Document{},
		refresh:     map[string]string{},
		revoked:     map[string]bool{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func membershipKey(userID, orgID string) string { return userID + "/" + orgID }

func (f *fakeStore) addUser(id, email, role string) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := store.User{ID: id, Email: email, FullName: id, Role: role, IsActive: true}
	f.users[id] = u
	return u
}

func (f *fakeStore) addMember(userID, orgID, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orgs[orgID]; !ok {
		f.orgs[orgID] = store.Organization{ID: orgID, Name: "Org " + orgID, Status: "active"}
	}
	f.memberships[membershipKey(userID, orgID)] = store.UserOrganization{
		ID:             f.nextID("membership"),
		UserID:         userID,
		OrganizationID: orgID,
		Role:           role,
		IsActive:       true,
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.ID == "" {
		user.ID = f.nextID("user")
	}
	user.IsActive = true
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) EnsureUserProfile(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.users[user.ID]; ok {
		return existing, nil
	}
	user.IsActive = true
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) ListUsers(context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeStore) UpdateUserGlobalRole(_ context.Context, userID, role string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	u.Role = role
	f.users[userID] = u
	return u, nil
}

func (f *fakeStore) CreateOrganization(ctx context.Context, org store.Organization) (store.Organization, error) {
	if f.createOrgFn != nil {
		return f.createOrgFn(ctx, org)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	org.ID = f.nextID("org")
	f.orgs[org.ID] = org
	return org, nil
}

func (f *fakeStore) GetOrganization(_ context.Context, orgID string) (store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.orgs[orgID]
	if !ok {
		return store.Organization{}, sql.ErrNoRows
	}
	return org, nil
}

func (f *fakeStore) ListOrganizations(context.Context) ([]store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Organization, 0, len(f.orgs))
	for _, org := range f.orgs {
		out = append(out, org)
	}
	return out, nil
}

func (f *fakeStore) ListOrganizationsForUser(_ context.Context, userID string) ([]store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Organization
	for _, m := range f.memberships {
		if m.UserID == userID && m.IsActive {
			out = append(out, f.orgs[m.OrganizationID])
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateOrganization(_ context.Context, orgID string, patch store.OrganizationPatch) (store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.orgs[orgID]
	if !ok {
		return store.Organization{}, sql.ErrNoRows
	}
	if patch.Name != nil {
		org.Name = *patch.Name
	}
	if patch.Description != nil {
		org.Description = *patch.Description
	}
	org.UpdatedBy = patch.UpdatedBy
	f.orgs[orgID] = org
	return org, nil
}

func (f *fakeStore) AddUserToOrganization(ctx context.Context, userID, orgID, role string) (store.UserOrganization, error) {
	if f.addMembershipFn != nil {
		return f.addMembershipFn(ctx, userID, orgID, role)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := membershipKey(userID, orgID)
	if m, ok := f.memberships[key]; ok && m.IsActive {
		return store.UserOrganization{}, store.ErrMembershipExists
	}
	m := store.UserOrganization{ID: f.nextID("membership"), UserID: userID, OrganizationID: orgID, Role: role, IsActive: true}
	f.memberships[key] = m
	return m, nil
}

func (f *fakeStore) DeactivateMembership(_ context.Context, userID, orgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := membershipKey(userID, orgID)
	m, ok := f.memberships[key]
	if !ok || !m.IsActive {
		return sql.ErrNoRows
	}
	m.IsActive = false
	f.memberships[key] = m
	return nil
}

func (f *fakeStore) UpdateMembershipRole(_ context.Context, userID, orgID, role string) (store.UserOrganization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := membershipKey(userID, orgID)
	m, ok := f.memberships[key]
	if !ok || !m.IsActive {
		return store.UserOrganization{}, sql.ErrNoRows
	}
	m.Role = role
	f.memberships[key] = m
	return m, nil
}

func (f *fakeStore) GetMembership(_ context.Context, userID, orgID string) (store.UserOrganization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memberships[membershipKey(userID, orgID)]
	if !ok || !m.IsActive {
		return store.UserOrganization{}, sql.ErrNoRows
	}
	return m, nil
}

func (f *fakeStore) ListUserMemberships(_ context.Context, userID string) ([]store.UserOrganization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.UserOrganization
	for _, m := range f.memberships {
		if m.UserID == userID && m.IsActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) ListOrganizationMembers(_ context.Context, orgID string) ([]store.UserOrganization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.UserOrganization
	for _, m := range f.memberships {
		if m.OrganizationID == orgID && m.IsActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertPassword(ctx context.Context, p store.Password) (store.Password, error) {
	if f.insertPasswdFn != nil {
		return f.insertPasswdFn(ctx, p)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = f.nextID("password")
	f.passwords[p.ID] = p
	return p, nil
}

func (f *fakeStore) GetPassword(_ context.Context, passwordID string) (store.Password, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.passwords[passwordID]
	if !ok {
		return store.Password{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) ListPasswords(_ context.Context, orgID string) ([]store.Password, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Password
	for _, p := range f.passwords {
		if p.OrganizationID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) DeletePassword(_ context.Context, passwordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.passwords[passwordID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.passwords, passwordID)
	return nil
}

func (f *fakeStore) GetSiteSummary(_ context.Context, orgID string) (store.SiteSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.summaries[orgID]
	if !ok {
		return store.SiteSummary{}, sql.ErrNoRows
	}
	return s, nil
}

func (f *fakeStore) SaveSiteSummary(_ context.Context, orgID string, content json.RawMessage, updatedBy string) (store.SiteSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := store.SiteSummary{OrganizationID: orgID, Content: content, UpdatedBy: updatedBy}
	f.summaries[orgID] = s
	return s, nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) ListDocuments(_ context.Context, filter store.DocumentFilter) ([]store.Document, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Document
	for _, d := range f.docs {
		if filter.OrganizationID != "" && d.OrganizationID != filter.OrganizationID {
			continue
		}
		out = append(out, d)
	}
	return out, len(out), nil
}

func (f *fakeStore) GetDocument(_ context.Context, documentID string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[documentID]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return d, nil
}

func (f *fakeStore) InsertDocument(_ context.Context, d store.Document) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = f.nextID("doc")
	f.docs[d.ID] = d
	return d, nil
}

func (f *fakeStore) UpdateDocument(_ context.Context, documentID string, patch store.DocumentPatch) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[documentID]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	if patch.Title != nil {
		d.Title = *patch.Title
	}
	if patch.UploadStatus != nil {
		d.UploadStatus = *patch.UploadStatus
	}
	f.docs[documentID] = d
	return d, nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[documentID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.docs, documentID)
	return nil
}

func (f *fakeStore) DocumentRemoteIDs(context.Context, string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

type fakeSidebar struct {
	mu         sync.Mutex
	initCalls  []string
	initErr    error
	repaired   int
	items      map[string]store.SidebarItem
	categories map[string]store.SidebarCategory
	deleted    []string
}

func (f *fakeSidebar) addItem(id, orgID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.items == nil {
		f.items = map[string]store.SidebarItem{}
	}
	f.items[id] = store.SidebarItem{ID: id, OrganizationID: orgID, ItemKey: id, ItemLabel: id}
}

func (f *fakeSidebar) addCategory(id, orgID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.categories == nil {
		f.categories = map[string]store.SidebarCategory{}
	}
	f.categories[id] = store.SidebarCategory{ID: id, OrganizationID: orgID, CategoryName: id}
}

func (f *fakeSidebar) GetSidebarItem(_ context.Context, itemID string) (store.SidebarItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return store.SidebarItem{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeSidebar) GetSidebarCategory(_ context.Context, categoryID string) (store.SidebarCategory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.categories[categoryID]
	if !ok {
		return store.SidebarCategory{}, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeSidebar) InitializeDefaultSidebar(_ context.Context, orgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls = append(f.initCalls, orgID)
	return f.initErr
}

func (f *fakeSidebar) GetDynamicSidebarConfig(_ context.Context, orgID string) (sidebar.Config, error) {
	return sidebar.Config{
		Categories: []store.SidebarCategory{{ID: "cat-1", OrganizationID: orgID, CategoryKey: "documentation"}},
		Items:      []store.SidebarItem{},
		Counts:     map[string]int{},
	}, nil
}

func (f *fakeSidebar) CreateSidebarItem(_ context.Context, in sidebar.NewItem) (store.SidebarItem, error) {
	return store.SidebarItem{ID: "item-new", OrganizationID: in.OrganizationID, ItemKey: in.ItemKey}, nil
}

func (f *fakeSidebar) UpdateSidebarItem(_ context.Context, itemID string, patch store.SidebarItemPatch) (store.SidebarItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.items == nil {
		f.items = map[string]store.SidebarItem{}
	}
	item := f.items[itemID]
	if patch.ItemLabel != nil {
		item.ItemLabel = *patch.ItemLabel
	}
	f.items[itemID] = item
	return item, nil
}

func (f *fakeSidebar) UpdateCategoryName(_ context.Context, categoryID, name string) (store.SidebarCategory, error) {
	return store.SidebarCategory{ID: categoryID, CategoryName: name}, nil
}

func (f *fakeSidebar) DeleteSidebarItem(_ context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, itemID)
	return nil
}

func (f *fakeSidebar) RepairAll(context.Context) (int, error) { return f.repaired, nil }

func testConfig() config.Config {
	return config.Config{
		JWTSecret:        testSecret,
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       time.Hour,
		CookieName:       "msphub_session",
		CORSOrigin:       "*",
		PortalURL:        "http://portal.test",
		SuperAdminEmails: []string{"root@msp.test"},
	}
}

func newTestService(t *testing.T, fs *fakeStore, sb *fakeSidebar) *Service {
	t.Helper()
	v, err := vault.New(testVaultKey)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	return New(testConfig(), Deps{
		Store:     fs,
		Sidebar:   sb,
		Documents: documents.New(fs, nil, nil, nil),
		Vault:     v,
	})
}

func newTestServer(t *testing.T, fs *fakeStore, sb *fakeSidebar) *HTTPServer {
	t.Helper()
	return NewHTTPServer(newTestService(t, fs, sb), "*")
}

func tokenFor(t *testing.T, userID, emailAddr string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:   userID,
		Email: emailAddr,
		JTI:   "jti-" + userID,
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
