package filestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"msphub/api/internal/metrics"
	"msphub/api/internal/store"
)

type memTokens struct {
	mu     sync.Mutex
	tokens map[string]store.MicrosoftToken
	saved  []store.MicrosoftToken
}

func newMemTokens() *memTokens {
	return &memTokens{tokens: map[string]store.MicrosoftToken{}}
}

func (m *memTokens) put(tok store.MicrosoftToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tok.UserID+"/"+tok.OrganizationID] = tok
}

func (m *memTokens) GetMicrosoftToken(_ context.Context, userID, orgID string) (store.MicrosoftToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[userID+"/"+orgID]
	if !ok {
		return store.MicrosoftToken{}, sql.ErrNoRows
	}
	return tok, nil
}

func (m *memTokens) SaveMicrosoftToken(_ context.Context, tok store.MicrosoftToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tok.UserID+"/"+tok.OrganizationID] = tok
	m.saved = append(m.saved, tok)
	return nil
}

var testScope = Scope{UserID: "user-1", OrganizationID: "org-1"}

func validToken(access string) store.MicrosoftToken {
	return store.MicrosoftToken{
		UserID:         testScope.UserID,
		OrganizationID: testScope.OrganizationID,
		AccessToken:    access,
		RefreshToken:   "refresh-1",
		TokenType:      "Bearer",
		ExpiresAt:      time.Now().Add(time.Hour),
	}
}

func newTestGraph(t *testing.T, handler http.HandlerFunc) (*Graph, *memTokens, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := newMemTokens()
	g := NewGraph(GraphConfig{
		BaseURL: srv.URL,
		OAuth: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			Endpoint:     oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		},
		HTTPClient: srv.Client(),
	}, tokens, nil, metrics.New())
	return g, tokens, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGraphUploadSmallFile(t *testing.T) {
	var gotBody, gotAuth, gotType string
	g, tokens, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/me/drive/root:/IT Documentation/Acme Dental/network/diagram.pdf:/content":
			body, _ := io.ReadAll(r.Body)
			gotBody, gotAuth, gotType = string(body), r.Header.Get("Authorization"), r.Header.Get("Content-Type")
			assert.Equal(t, "rename", r.URL.Query().Get("@microsoft.graph.conflictBehavior"))
			writeJSON(w, http.StatusCreated, map[string]any{
				"id": "item-1", "name": "diagram.pdf", "size": len(body),
				"webUrl":                       "https://contoso.sharepoint.com/diagram.pdf",
				"@microsoft.graph.downloadUrl": "https://download.example/diagram.pdf",
				"file":                         map[string]string{"mimeType": "application/pdf"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/me/drive/items/item-1/createLink":
			writeJSON(w, http.StatusOK, map[string]any{"link": map[string]string{"webUrl": "https://share.example/item-1"}})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	})
	tokens.put(validToken("access-1"))

	file, err := g.Upload(context.Background(), testScope, UploadRequest{
		OrganizationName: "Acme Dental",
		Category:         "network",
		FileName:         "diagram.pdf",
		ContentType:      "application/pdf",
		Body:             strings.NewReader("%PDF-1.7"),
	})
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", gotBody)
	assert.Equal(t, "Bearer access-1", gotAuth)
	assert.Equal(t, "application/pdf", gotType)
	assert.Equal(t, "item-1", file.ID)
	assert.Equal(t, "https://share.example/item-1", file.ShareURL)
	assert.Equal(t, "https://download.example/diagram.pdf", file.DownloadURL)
	assert.Equal(t, "IT Documentation/Acme Dental/network", file.FolderPath)
	assert.Equal(t, "application/pdf", file.MimeType)
}

func TestGraphUploadSessionChunks(t *testing.T) {
	var mu sync.Mutex
	var ranges []string
	var received strings.Builder
	var srvURL string
	g, tokens, srv := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":/createUploadSession"):
			writeJSON(w, http.StatusOK, map[string]string{"uploadUrl": srvURL + "/upload/session-1"})
		case r.Method == http.MethodPut && r.URL.Path == "/upload/session-1":
			assert.Empty(t, r.Header.Get("Authorization"))
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			ranges = append(ranges, r.Header.Get("Content-Range"))
			received.Write(body)
			done := received.Len() == 20
			mu.Unlock()
			if !done {
				w.WriteHeader(http.StatusAccepted)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"id": "big-1", "name": "big.bin", "size": 20})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/createLink"):
			w.WriteHeader(http.StatusForbidden)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	srvURL = srv.URL
	tokens.put(validToken("access-1"))
	g.smallUploadLimit = 10
	g.chunkSize = 8

	payload := "0123456789abcdefghij"
	file, err := g.Upload(context.Background(), testScope, UploadRequest{
		OrganizationName: "Acme", Category: "backups", FileName: "big.bin",
		Size: int64(len(payload)), Body: strings.NewReader(payload),
	})
	require.NoError(t, err)
	assert.Equal(t, "big-1", file.ID)
	assert.Equal(t, []string{"bytes 0-7/20", "bytes 8-15/20", "bytes 16-19/20"}, ranges)
	assert.Equal(t, payload, received.String())
	assert.Empty(t, file.ShareURL, "failed createLink falls back to an empty webUrl")
}

func TestGraphRefreshesExpiredToken(t *testing.T) {
	var gotAuth string
	g, tokens, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			_ = r.ParseForm()
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "fresh", "token_type": "Bearer", "refresh_token": "refresh-2", "expires_in": 3600,
			})
		case "/me/drive/items/item-9":
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	expired := validToken("stale")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	tokens.put(expired)

	require.NoError(t, g.Delete(context.Background(), testScope, "item-9"))
	assert.Equal(t, "Bearer fresh", gotAuth)
	require.Len(t, tokens.saved, 1)
	assert.Equal(t, "fresh", tokens.saved[0].AccessToken)
	assert.Equal(t, "refresh-2", tokens.saved[0].RefreshToken)
	assert.True(t, tokens.saved[0].ExpiresAt.After(time.Now()))
}

func TestGraphAuthRequired(t *testing.T) {
	g, tokens, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "InvalidAuthenticationToken", "message": "expired"}})
	})

	_, err := g.Download(context.Background(), testScope, "item-1")
	assert.ErrorIs(t, err, ErrAuthRequired, "no stored token")

	expired := validToken("stale")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	tokens.put(expired)
	_, err = g.Download(context.Background(), testScope, "item-1")
	assert.ErrorIs(t, err, ErrAuthRequired, "refresh rejected")

	tokens.put(validToken("revoked-upstream"))
	_, err = g.Download(context.Background(), testScope, "item-1")
	assert.ErrorIs(t, err, ErrAuthRequired, "graph answered 401")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "InvalidAuthenticationToken", apiErr.Code)
}

func TestGraphDeleteMissingItem(t *testing.T) {
	g, tokens, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "itemNotFound", "message": "gone"}})
	})
	tokens.put(validToken("access-1"))

	err := g.Delete(context.Background(), testScope, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGraphDownload(t *testing.T) {
	g, tokens, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/drive/items/item-1/content", r.URL.Path)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "hello")
	})
	tokens.put(validToken("access-1"))

	obj, err := g.Download(context.Background(), testScope, "item-1")
	require.NoError(t, err)
	defer obj.Body.Close()
	body, _ := io.ReadAll(obj.Body)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "text/plain", obj.ContentType)
}

func TestGraphListWalksCategoryFoldersAndPages(t *testing.T) {
	var srvURL string
	g, tokens, srv := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/me/drive/root:/IT Documentation/Acme:/children":
			writeJSON(w, http.StatusOK, map[string]any{
				"value": []map[string]any{
					{"id": "f-net", "name": "network", "folder": map[string]int{"childCount": 2}},
					{"id": "loose", "name": "readme.txt", "size": 3, "file": map[string]string{"mimeType": "text/plain"}},
				},
			})
		case r.URL.Path == "/me/drive/root:/IT Documentation/Acme/network:/children" && r.URL.Query().Get("page") == "":
			writeJSON(w, http.StatusOK, map[string]any{
				"value":           []map[string]any{{"id": "a", "name": "a.pdf", "file": map[string]string{"mimeType": "application/pdf"}}},
				"@odata.nextLink": srvURL + "/me/drive/root:/IT%20Documentation/Acme/network:/children?page=2",
			})
		case r.URL.Path == "/me/drive/root:/IT Documentation/Acme/network:/children":
			writeJSON(w, http.StatusOK, map[string]any{
				"value": []map[string]any{
					{"id": "b", "name": "b.pdf", "file": map[string]string{"mimeType": "application/pdf"}},
					{"id": "nested", "name": "old", "folder": map[string]int{"childCount": 1}},
				},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.String())
		}
	})
	srvURL = srv.URL
	tokens.put(validToken("access-1"))

	files, err := g.List(context.Background(), testScope, "Acme")
	require.NoError(t, err)
	require.Len(t, files, 3)
	byID := map[string]File{}
	for _, f := range files {
		byID[f.ID] = f
	}
	assert.Equal(t, "network", byID["a"].Category)
	assert.Equal(t, "network", byID["b"].Category)
	assert.Equal(t, "", byID["loose"].Category)
	assert.Equal(t, "IT Documentation/Acme/network", byID["b"].FolderPath)
}

func TestGraphListMissingFolderIsEmpty(t *testing.T) {
	g, tokens, _ := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	tokens.put(validToken("access-1"))
	files, err := g.List(context.Background(), testScope, "Nobody")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestGraphSharePointUsesAppToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "app-token", "token_type": "Bearer", "expires_in": 3600})
		case "/sites/site-1/drives/drive-1/items/x":
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	g := NewGraph(GraphConfig{
		BaseURL: srv.URL,
		SiteID:  "site-1",
		DriveID: "drive-1",
		App: &clientcredentials.Config{
			ClientID: "client", ClientSecret: "secret", TokenURL: srv.URL + "/token",
			Scopes: []string{"https://graph.microsoft.com/.default"},
		},
		HTTPClient: srv.Client(),
	}, nil, nil, nil)

	assert.Equal(t, "sharepoint", g.Name())
	require.NoError(t, g.Delete(context.Background(), Scope{}, "x"))
	assert.Equal(t, "Bearer app-token", gotAuth)
}

func TestAPIErrorUnwrap(t *testing.T) {
	assert.True(t, errors.Is(&APIError{Status: 401}, ErrAuthRequired))
	assert.True(t, errors.Is(&APIError{Status: 404}, ErrNotFound))
	assert.False(t, errors.Is(&APIError{Status: 500}, ErrNotFound))
}
