package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// requireSuperAdmin guards the admin console routes.
func (s *HTTPServer) requireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		if !sess.IsSuperAdmin() {
			s.logger.Warn("admin route denied",
				zap.String("user_id", sess.UserID),
				zap.String("role", string(sess.Role)),
				zap.String("path", r.URL.Path),
			)
			s.fail(w, r, errSuperAdminOnly)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) adminRoutes(r chi.Router) {
	r.Use(s.requireSuperAdmin)

	r.Get("/organizations", s.handleListOrganizations)
	r.Post("/organizations", s.handleAdminCreateOrganization)

	r.Get("/users", s.handleAdminUsers)
	r.Post("/users", s.handleAddMembership)
	r.Put("/users", s.handleAdminUpdateUser)

	r.Get("/documents", s.handleAdminDocuments)
	r.Post("/documents", s.handleCreateDocument)
	r.Put("/documents", s.handleUpdateDocumentByBody)
	r.Delete("/documents", s.handleDeleteDocumentByQuery)

	r.Post("/sidebar/repair", s.handleAdminSidebarRepair)
}

func (s *HTTPServer) handleAdminCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var body CreateOrganizationInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	org, err := s.service.CreateOrganization(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, org)
}

func (s *HTTPServer) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsersWithMemberships(r.Context(), strings.TrimSpace(r.URL.Query().Get("organization_id")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "data": users, "total": len(users)})
}

// handleAdminUpdateUser changes the organization role when organization_id
// is given and the global role otherwise.
func (s *HTTPServer) handleAdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	var body membershipBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.UserID) == "" || strings.TrimSpace(body.Role) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "User ID and role are required", nil)
		return
	}
	if body.OrganizationID != "" {
		m, err := s.service.UpdateUserRole(r.Context(), body.UserID, body.OrganizationID, body.Role)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, m)
		return
	}
	user, err := s.service.UpdateGlobalRole(r.Context(), body.UserID, body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (s *HTTPServer) handleAdminDocuments(w http.ResponseWriter, r *http.Request) {
	page, err := s.service.ListAllDocuments(r.Context(), sessionFrom(r), r.URL.Query().Get("organization_id"), documentFilter(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(w, page)
}

func (s *HTTPServer) handleAdminSidebarRepair(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrganizationID string `json:"organization_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.OrganizationID == "" {
		body.OrganizationID = r.URL.Query().Get("organization_id")
	}
	n, err := s.service.RepairSidebars(r.Context(), sessionFrom(r), strings.TrimSpace(body.OrganizationID))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "data": map[string]int{"repaired": n}})
}

func (s *HTTPServer) passwordRoutes(r chi.Router) {
	r.Get("/passwords", s.handleListPasswords)
	r.Post("/passwords/create", s.handleCreatePassword)
	r.Get("/passwords/{passwordID}/reveal", s.handleRevealPassword)
	r.Delete("/passwords/{passwordID}", s.handleDeletePassword)
}

func (s *HTTPServer) handleCreatePassword(w http.ResponseWriter, r *http.Request) {
	var body CreatePasswordInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	saved, err := s.service.CreatePassword(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, saved)
}

func (s *HTTPServer) handleListPasswords(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.ListPasswords(r.Context(), sessionFrom(r), r.URL.Query().Get("organization_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *HTTPServer) handleRevealPassword(w http.ResponseWriter, r *http.Request) {
	secret, err := s.service.RevealPassword(r.Context(), sessionFrom(r), chi.URLParam(r, "passwordID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"password": secret})
}

func (s *HTTPServer) handleDeletePassword(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeletePassword(r.Context(), sessionFrom(r), chi.URLParam(r, "passwordID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "message": "Password deleted"})
}
