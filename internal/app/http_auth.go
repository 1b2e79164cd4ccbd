package app

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"msphub/api/internal/authpw"
	"msphub/api/internal/util"
)

const microsoftStateCookie = "msphub_ms_state"

func (s *HTTPServer) refreshCookieName() string {
	return s.service.cfg.CookieName + "_refresh"
}

func (s *HTTPServer) setSessionCookies(w http.ResponseWriter, sess Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.service.cfg.CookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.service.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName(),
		Value:    sess.RefreshToken,
		Path:     "/api/auth",
		Expires:  time.Now().Add(s.service.cfg.RefreshTTL),
		HttpOnly: true,
		Secure:   s.service.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) clearSessionCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{
		{s.service.cfg.CookieName, "/"},
		{s.refreshCookieName(), "/api/auth"},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.service.cfg.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func sessionUser(sess Session) map[string]any {
	return map[string]any{
		"id":        sess.UserID,
		"email":     sess.Email,
		"full_name": sess.FullName,
		"role":      sess.Role,
	}
}

func sessionPayload(sess Session) map[string]any {
	return map[string]any{
		"user":          sessionUser(sess),
		"access_token":  sess.Token,
		"refresh_token": sess.RefreshToken,
		"expires_at":    sess.ExpiresAt,
	}
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body authpw.SignUpRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, err := s.service.SignUp(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setSessionCookies(w, sess)
	writeData(w, http.StatusCreated, sessionPayload(sess))
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Email) == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Email and password are required", nil)
		return
	}
	sess, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setSessionCookies(w, sess)
	writeData(w, http.StatusOK, sessionPayload(sess))
}

// refreshTokenFrom reads the body first, then the refresh cookie.
func (s *HTTPServer) refreshTokenFrom(r *http.Request) string {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = decodeBody(r, &body)
	if body.RefreshToken != "" {
		return body.RefreshToken
	}
	if c, err := r.Cookie(s.refreshCookieName()); err == nil {
		return c.Value
	}
	return ""
}

func (s *HTTPServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Refresh(r.Context(), s.refreshTokenFrom(r))
	if err != nil {
		s.clearSessionCookies(w)
		s.fail(w, r, err)
		return
	}
	s.setSessionCookies(w, sess)
	writeData(w, http.StatusOK, sessionPayload(sess))
}

// handleAuthSignOut always succeeds; an expired session still gets its
// cookies cleared.
func (s *HTTPServer) handleAuthSignOut(w http.ResponseWriter, r *http.Request) {
	sess := Session{}
	if token := s.sessionToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			sess = parsed
		}
	}
	_ = s.service.Logout(r.Context(), sess, s.refreshTokenFrom(r))
	s.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, envelope{"success": true, "message": "Signed out"})
}

func (s *HTTPServer) handleAuthSession(w http.ResponseWriter, r *http.Request) {
	token := s.sessionToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, envelope{"success": true, "data": map[string]any{"authenticated": false, "user": nil}, "is_super_admin": false})
		return
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, envelope{"success": true, "data": map[string]any{"authenticated": false, "user": nil}, "is_super_admin": false})
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"success":        true,
		"data":           map[string]any{"authenticated": true, "user": sessionUser(sess)},
		"is_super_admin": sess.IsSuperAdmin(),
	})
}

// handleMicrosoftLogin redirects to the Microsoft consent page. The state
// cookie binds the callback to this browser and carries the organization.
func (s *HTTPServer) handleMicrosoftLogin(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(r.URL.Query().Get("organization_id"))
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Organization ID is required", nil)
		return
	}
	state := util.NewToken()
	target, err := s.service.MicrosoftAuthURL(state)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     microsoftStateCookie,
		Value:    state + "." + orgID,
		Path:     "/api/auth/microsoft",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   s.service.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *HTTPServer) handleMicrosoftCallback(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(microsoftStateCookie)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_STATE", "Missing Microsoft sign-in state", nil)
		return
	}
	state, orgID, ok := strings.Cut(c.Value, ".")
	if !ok || state == "" || state != r.URL.Query().Get("state") {
		writeError(w, http.StatusBadRequest, "INVALID_STATE", "Microsoft sign-in state mismatch", nil)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: microsoftStateCookie, Path: "/api/auth/microsoft", MaxAge: -1})

	sess := sessionFrom(r)
	code := r.URL.Query().Get("code")
	result := "connected"
	if code == "" {
		s.logger.Warn("microsoft consent denied",
			zap.String("user_id", sess.UserID),
			zap.String("error", r.URL.Query().Get("error_description")),
		)
		result = "error"
	} else if err := s.service.CompleteMicrosoftAuth(r.Context(), sess, orgID, code); err != nil {
		s.logger.Error("microsoft token exchange", zap.String("user_id", sess.UserID), zap.Error(err))
		result = "error"
	}
	http.Redirect(w, r, strings.TrimRight(s.service.cfg.PortalURL, "/")+"/documents?microsoft="+result, http.StatusFound)
}
