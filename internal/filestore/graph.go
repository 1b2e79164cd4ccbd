package filestore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"msphub/api/internal/metrics"
	"msphub/api/internal/store"
)

const (
	DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

	// Graph accepts a single PUT up to 4 MiB; larger files need an upload session.
	smallUploadLimit = 4 << 20
	// Session chunks must be multiples of 320 KiB.
	uploadChunkSize = 10 * 320 << 10
)

// TokenStore persists delegated Microsoft tokens per user and organization.
type TokenStore interface {
	GetMicrosoftToken(ctx context.Context, userID, orgID string) (store.MicrosoftToken, error)
	SaveMicrosoftToken(ctx context.Context, token store.MicrosoftToken) error
}

type GraphConfig struct {
	BaseURL    string
	RootFolder string
	// SiteID switches to SharePoint with app-only credentials. Empty means
	// the signed-in user's OneDrive.
	SiteID  string
	DriveID string
	// OAuth refreshes and exchanges delegated tokens.
	OAuth *oauth2.Config
	// App issues app-only tokens in SharePoint mode.
	App        *clientcredentials.Config
	HTTPClient *http.Client
}

type Graph struct {
	cfg     GraphConfig
	tokens  TokenStore
	client  *http.Client
	app     oauth2.TokenSource
	logger  *zap.Logger
	metrics *metrics.Metrics

	smallUploadLimit int64
	chunkSize        int64
}

func NewGraph(cfg GraphConfig, tokens TokenStore, logger *zap.Logger, m *metrics.Metrics) *Graph {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGraphBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RootFolder == "" {
		cfg.RootFolder = "IT Documentation"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Graph{
		cfg:              cfg,
		tokens:           tokens,
		client:           client,
		logger:           logger.Named("graph"),
		metrics:          m,
		smallUploadLimit: smallUploadLimit,
		chunkSize:        uploadChunkSize,
	}
	if cfg.SiteID != "" && cfg.App != nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		g.app = oauth2.ReuseTokenSource(nil, cfg.App.TokenSource(ctx))
	}
	return g
}

func (g *Graph) Name() string {
	if g.cfg.SiteID != "" {
		return "sharepoint"
	}
	return "graph"
}

func (g *Graph) driveURL() string {
	if g.cfg.SiteID == "" {
		return g.cfg.BaseURL + "/me/drive"
	}
	site := g.cfg.BaseURL + "/sites/" + url.PathEscape(g.cfg.SiteID)
	if g.cfg.DriveID == "" {
		return site + "/drive"
	}
	return site + "/drives/" + url.PathEscape(g.cfg.DriveID)
}

// pathURL addresses a drive item by path, e.g. {drive}/root:/a/b.pdf:
func (g *Graph) pathURL(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return g.driveURL() + "/root:/" + strings.Join(parts, "/") + ":"
}

func (g *Graph) itemURL(id string) string {
	return g.driveURL() + "/items/" + url.PathEscape(id)
}

// AuthCodeURL starts the delegated consent flow.
func (g *Graph) AuthCodeURL(state string) (string, error) {
	if g.cfg.OAuth == nil {
		return "", errors.New("microsoft oauth not configured")
	}
	return g.cfg.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Exchange trades an authorization code for tokens and stores them for scope.
func (g *Graph) Exchange(ctx context.Context, scope Scope, code string) error {
	if g.cfg.OAuth == nil || g.tokens == nil {
		return errors.New("microsoft oauth not configured")
	}
	tok, err := g.cfg.OAuth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, g.client), code)
	if err != nil {
		return fmt.Errorf("exchange microsoft code: %w", err)
	}
	return g.saveToken(ctx, scope, tok)
}

func (g *Graph) saveToken(ctx context.Context, scope Scope, tok *oauth2.Token) error {
	return g.tokens.SaveMicrosoftToken(ctx, store.MicrosoftToken{
		UserID:         scope.UserID,
		OrganizationID: scope.OrganizationID,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		TokenType:      tok.TokenType,
		ExpiresAt:      tok.Expiry,
	})
}

// token returns a valid access token, refreshing and persisting it when the
// stored one has expired.
func (g *Graph) token(ctx context.Context, scope Scope) (*oauth2.Token, error) {
	if g.app != nil {
		tok, err := g.app.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: app token: %v", ErrAuthRequired, err)
		}
		return tok, nil
	}
	if g.tokens == nil || scope.UserID == "" || scope.OrganizationID == "" {
		return nil, ErrAuthRequired
	}
	stored, err := g.tokens.GetMicrosoftToken(ctx, scope.UserID, scope.OrganizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAuthRequired
	}
	if err != nil {
		return nil, fmt.Errorf("load microsoft token: %w", err)
	}
	current := &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		Expiry:       stored.ExpiresAt,
	}
	if current.Valid() {
		return current, nil
	}
	if current.RefreshToken == "" || g.cfg.OAuth == nil {
		return nil, ErrAuthRequired
	}

	fresh, err := g.cfg.OAuth.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, g.client), current).Token()
	if err != nil {
		g.logger.Warn("microsoft token refresh failed",
			zap.String("user_id", scope.UserID), zap.String("organization_id", scope.OrganizationID), zap.Error(err))
		return nil, ErrAuthRequired
	}
	if err := g.saveToken(ctx, scope, fresh); err != nil {
		g.logger.Warn("persist refreshed microsoft token", zap.Error(err))
	}
	return fresh, nil
}

type driveItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	WebURL               string    `json:"webUrl"`
	DownloadURL          string    `json:"@microsoft.graph.downloadUrl"`
	CreatedDateTime      time.Time `json:"createdDateTime"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	File                 *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
	Folder *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder"`
}

func (d driveItem) toFile(folder, category string) File {
	f := File{
		ID:          d.ID,
		Name:        d.Name,
		Size:        d.Size,
		WebURL:      d.WebURL,
		DownloadURL: d.DownloadURL,
		FolderPath:  folder,
		Category:    category,
		CreatedAt:   d.CreatedDateTime,
		ModifiedAt:  d.LastModifiedDateTime,
	}
	if d.File != nil {
		f.MimeType = d.File.MimeType
	}
	return f
}

func (g *Graph) Upload(ctx context.Context, scope Scope, req UploadRequest) (file File, err error) {
	defer func() { observe(g.metrics, g.Name(), "upload", err) }()

	tok, err := g.token(ctx, scope)
	if err != nil {
		return File{}, err
	}
	folder := FolderPath(g.cfg.RootFolder, req.OrganizationName, req.Category)
	name := cleanSegment(req.FileName)

	body, size := req.Body, req.Size
	if size <= 0 {
		data, err := io.ReadAll(body)
		if err != nil {
			return File{}, fmt.Errorf("read upload body: %w", err)
		}
		body, size = bytes.NewReader(data), int64(len(data))
	}

	var item driveItem
	if size <= g.smallUploadLimit {
		u := g.pathURL(folder+"/"+name) + "/content?@microsoft.graph.conflictBehavior=rename"
		err = g.call(ctx, tok, http.MethodPut, u, body, contentTypeOr(req.ContentType), &item)
	} else {
		item, err = g.uploadSession(ctx, tok, folder+"/"+name, body, size)
	}
	if err != nil {
		return File{}, err
	}

	file = item.toFile(folder, req.Category)
	link, err := g.createLink(ctx, tok, item.ID)
	if err != nil {
		g.logger.Warn("create share link", zap.String("item_id", item.ID), zap.Error(err))
	}
	file.ShareURL = link
	if file.ShareURL == "" {
		file.ShareURL = file.WebURL
	}
	return file, nil
}

func (g *Graph) uploadSession(ctx context.Context, tok *oauth2.Token, itemPath string, body io.Reader, size int64) (driveItem, error) {
	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	payload := strings.NewReader(`{"item":{"@microsoft.graph.conflictBehavior":"rename"}}`)
	if err := g.call(ctx, tok, http.MethodPost, g.pathURL(itemPath)+"/createUploadSession", payload, "application/json", &session); err != nil {
		return driveItem{}, fmt.Errorf("create upload session: %w", err)
	}
	if session.UploadURL == "" {
		return driveItem{}, errors.New("create upload session: empty upload url")
	}

	buf := make([]byte, g.chunkSize)
	var offset int64
	for offset < size {
		n, err := io.ReadFull(body, buf[:min(g.chunkSize, size-offset)])
		if err != nil {
			return driveItem{}, fmt.Errorf("read upload body: %w", err)
		}
		// The upload URL is pre-authenticated and must not carry a bearer token.
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(buf[:n]))
		if err != nil {
			return driveItem{}, err
		}
		req.ContentLength = int64(n)
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(n)-1, size))
		resp, err := g.client.Do(req)
		if err != nil {
			return driveItem{}, fmt.Errorf("upload chunk at %d: %w", offset, err)
		}
		offset += int64(n)

		switch resp.StatusCode {
		case http.StatusAccepted:
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		case http.StatusOK, http.StatusCreated:
			var item driveItem
			err := json.NewDecoder(resp.Body).Decode(&item)
			resp.Body.Close()
			if err != nil {
				return driveItem{}, fmt.Errorf("decode uploaded item: %w", err)
			}
			return item, nil
		default:
			err := graphError(resp)
			resp.Body.Close()
			return driveItem{}, err
		}
	}
	return driveItem{}, errors.New("upload session ended without a completed item")
}

func (g *Graph) createLink(ctx context.Context, tok *oauth2.Token, itemID string) (string, error) {
	var out struct {
		Link struct {
			WebURL string `json:"webUrl"`
		} `json:"link"`
	}
	payload := strings.NewReader(`{"type":"view","scope":"organization"}`)
	if err := g.call(ctx, tok, http.MethodPost, g.itemURL(itemID)+"/createLink", payload, "application/json", &out); err != nil {
		return "", err
	}
	return out.Link.WebURL, nil
}

func (g *Graph) Download(ctx context.Context, scope Scope, fileID string) (obj Object, err error) {
	defer func() { observe(g.metrics, g.Name(), "download", err) }()

	tok, err := g.token(ctx, scope)
	if err != nil {
		return Object{}, err
	}
	resp, err := g.send(ctx, tok, http.MethodGet, g.itemURL(fileID)+"/content", nil, "")
	if err != nil {
		return Object{}, err
	}
	return Object{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

func (g *Graph) Delete(ctx context.Context, scope Scope, fileID string) (err error) {
	defer func() { observe(g.metrics, g.Name(), "delete", err) }()

	tok, err := g.token(ctx, scope)
	if err != nil {
		return err
	}
	return g.call(ctx, tok, http.MethodDelete, g.itemURL(fileID), nil, "", nil)
}

func (g *Graph) List(ctx context.Context, scope Scope, organizationName string) (files []File, err error) {
	defer func() { observe(g.metrics, g.Name(), "list", err) }()

	tok, err := g.token(ctx, scope)
	if err != nil {
		return nil, err
	}
	orgFolder := path.Join(cleanSegment(g.cfg.RootFolder), cleanSegment(organizationName))
	top, err := g.children(ctx, tok, orgFolder)
	if errors.Is(err, ErrNotFound) {
		return []File{}, nil
	}
	if err != nil {
		return nil, err
	}

	files = []File{}
	for _, item := range top {
		if item.Folder == nil {
			files = append(files, item.toFile(orgFolder, ""))
			continue
		}
		folder := orgFolder + "/" + item.Name
		nested, err := g.children(ctx, tok, folder)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", folder, err)
		}
		for _, child := range nested {
			if child.Folder == nil {
				files = append(files, child.toFile(folder, item.Name))
			}
		}
	}
	return files, nil
}

func (g *Graph) children(ctx context.Context, tok *oauth2.Token, folder string) ([]driveItem, error) {
	var items []driveItem
	next := g.pathURL(folder) + "/children?$top=200"
	for next != "" {
		var page struct {
			Value    []driveItem `json:"value"`
			NextLink string      `json:"@odata.nextLink"`
		}
		if err := g.call(ctx, tok, http.MethodGet, next, nil, "", &page); err != nil {
			return nil, err
		}
		items = append(items, page.Value...)
		next = page.NextLink
	}
	return items, nil
}

// send performs an authenticated request and returns the response for 2xx.
// The caller closes the body.
func (g *Graph) send(ctx context.Context, tok *oauth2.Token, method, rawURL string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	tok.SetAuthHeader(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph %s: %w", method, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, graphError(resp)
	}
	return resp, nil
}

func (g *Graph) call(ctx context.Context, tok *oauth2.Token, method, rawURL string, body io.Reader, contentType string, out any) error {
	resp, err := g.send(ctx, tok, method, rawURL, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}

func graphError(resp *http.Response) error {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &payload)
	apiErr := &APIError{
		Backend: "graph",
		Status:  resp.StatusCode,
		Code:    payload.Error.Code,
		Message: payload.Error.Message,
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func contentTypeOr(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

func observe(m *metrics.Metrics, backend, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StorageOps.WithLabelValues(backend, op, result).Inc()
}
