package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"msphub/api/internal/sidebar"
	"msphub/api/internal/store"
)

func (s *HTTPServer) organizationRoutes(r chi.Router) {
	r.Get("/organizations", s.handleListOrganizations)
	r.Route("/organizations/{orgID}", func(r chi.Router) {
		r.Get("/", s.handleGetOrganization)
		r.Put("/", s.handleUpdateOrganization)
		r.Post("/documents/sync", s.handleSyncDocuments)

		r.Get("/sidebar", s.handleGetSidebar)
		r.Post("/sidebar/initialize", s.handleInitializeSidebar)
		r.Post("/sidebar/items", s.handleCreateSidebarItem)

		r.Get("/site-summary", s.handleGetSiteSummary)
		r.Put("/site-summary", s.handleSaveSiteSummary)
	})

	r.Patch("/sidebar/items/{itemID}", s.handleUpdateSidebarItem)
	r.Delete("/sidebar/items/{itemID}", s.handleDeleteSidebarItem)
	r.Patch("/sidebar/categories/{categoryID}", s.handleUpdateSidebarCategory)

	r.Route("/user-organizations", func(r chi.Router) {
		r.Get("/", s.handleListMemberships)
		r.Post("/", s.handleAddMembership)
		r.Put("/", s.handleUpdateMembership)
		r.Delete("/", s.handleRemoveMembership)
	})
}

func (s *HTTPServer) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.service.GetAccessibleOrganizations(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, orgs)
}

func (s *HTTPServer) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := s.service.GetOrganization(r.Context(), sessionFrom(r), chi.URLParam(r, "orgID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, org)
}

func (s *HTTPServer) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Status      *string `json:"status"`
		Timezone    *string `json:"timezone"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	org, err := s.service.UpdateOrganization(r.Context(), sessionFrom(r), chi.URLParam(r, "orgID"), store.OrganizationPatch{
		Name:        body.Name,
		Description: body.Description,
		Status:      body.Status,
		Timezone:    body.Timezone,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, org)
}

func (s *HTTPServer) handleSyncDocuments(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.SyncDocuments(r.Context(), sessionFrom(r), chi.URLParam(r, "orgID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"success": true,
		"data":    result,
		"message": fmt.Sprintf("Synced %d documents", result.Synced),
	})
}

func (s *HTTPServer) handleGetSidebar(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.service.GetSidebar(r.Context(), sessionFrom(r), chi.URLParam(r, "orgID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, cfg)
}

func (s *HTTPServer) handleInitializeSidebar(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.service.InitializeSidebar(r.Context(), sessionFrom(r), chi.URLParam(r, "orgID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "data": cfg, "message": "Sidebar initialized"})
}

func (s *HTTPServer) handleCreateSidebarItem(w http.ResponseWriter, r *http.Request) {
	var body sidebar.NewItem
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.OrganizationID = chi.URLParam(r, "orgID")
	item, err := s.service.CreateSidebarItem(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleUpdateSidebarItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CategoryID   *string `json:"category_id"`
		ItemLabel    *string `json:"item_label"`
		ItemHref     *string `json:"item_href"`
		IconName     *string `json:"icon_name"`
		DisplayOrder *int    `json:"display_order"`
		IsVisible    *bool   `json:"is_visible"`
		CountSource  *string `json:"count_source"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.UpdateSidebarItem(r.Context(), sessionFrom(r), chi.URLParam(r, "itemID"), store.SidebarItemPatch{
		CategoryID:   body.CategoryID,
		ItemLabel:    body.ItemLabel,
		ItemHref:     body.ItemHref,
		IconName:     body.IconName,
		DisplayOrder: body.DisplayOrder,
		IsVisible:    body.IsVisible,
		CountSource:  body.CountSource,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteSidebarItem(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSidebarItem(r.Context(), sessionFrom(r), chi.URLParam(r, "itemID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "message": "Sidebar item deleted"})
}

func (s *HTTPServer) handleUpdateSidebarCategory(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CategoryName string `json:"category_name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	category, err := s.service.UpdateSidebarCategory(r.Context(), sessionFrom(r), chi.URLParam(r, "categoryID"), body.CategoryName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, category)
}

func (s *HTTPServer) handleGetSiteSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.GetSiteSummary(r.Context(), sessionFrom(r), chi.URLParam(r, "orgID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleSaveSiteSummary(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content json.RawMessage `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	summary, err := s.service.SaveSiteSummary(r.Context(), sessionFrom(r), chi.URLParam(r, "orgID"), body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, summary)
}

// handleListMemberships answers three shapes: the members of
// organization_id, the memberships of user_id, or the caller's own.
func (s *HTTPServer) handleListMemberships(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	q := r.URL.Query()
	orgID := strings.TrimSpace(q.Get("organization_id"))
	userID := strings.TrimSpace(q.Get("user_id"))

	if orgID != "" {
		if err := s.service.requireOrgMember(r.Context(), sess, orgID); err != nil {
			s.fail(w, r, err)
			return
		}
		members, err := s.service.GetOrganizationMembers(r.Context(), orgID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, members)
		return
	}

	if userID == "" {
		userID = sess.UserID
	}
	if userID != sess.UserID && !sess.IsSuperAdmin() {
		s.fail(w, r, errAdminOnly)
		return
	}
	memberships, err := s.service.GetUserOrganizations(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, memberships)
}

type membershipBody struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

func (s *HTTPServer) decodeMembership(w http.ResponseWriter, r *http.Request) (membershipBody, bool) {
	var body membershipBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return body, false
	}
	if err := s.service.requireOrgAdmin(r.Context(), sessionFrom(r), body.OrganizationID); err != nil {
		s.fail(w, r, err)
		return body, false
	}
	return body, true
}

func (s *HTTPServer) handleAddMembership(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeMembership(w, r)
	if !ok {
		return
	}
	m, err := s.service.AddUserToOrganization(r.Context(), body.UserID, body.OrganizationID, body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, m)
}

func (s *HTTPServer) handleUpdateMembership(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeMembership(w, r)
	if !ok {
		return
	}
	m, err := s.service.UpdateUserRole(r.Context(), body.UserID, body.OrganizationID, body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, m)
}

func (s *HTTPServer) handleRemoveMembership(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	orgID := r.URL.Query().Get("organization_id")
	if err := s.service.requireOrgAdmin(r.Context(), sessionFrom(r), orgID); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.RemoveUserFromOrganization(r.Context(), userID, orgID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "message": "User removed from organization"})
}
