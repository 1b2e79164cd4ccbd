// Package filestore stores document files in OneDrive/SharePoint through
// Microsoft Graph, or in an S3-compatible bucket through MinIO.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrAuthRequired means there is no usable Microsoft token for the caller.
	ErrAuthRequired = errors.New("Microsoft authentication required")
	ErrNotFound     = errors.New("file not found")
)

// Scope selects whose credentials a call runs with. Backends that do not
// use per-user credentials ignore it.
type Scope struct {
	UserID         string
	OrganizationID string
}

// File describes a stored file.
type File struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mime_type"`
	WebURL      string    `json:"web_url"`
	ShareURL    string    `json:"share_url"`
	DownloadURL string    `json:"download_url"`
	FolderPath  string    `json:"folder_path"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modified_at"`
}

type UploadRequest struct {
	OrganizationName string
	Category         string
	FileName         string
	ContentType      string
	// Size may be zero when unknown; backends buffer the body then.
	Size int64
	Body io.Reader
}

// Object is an open download. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
	Name        string
}

// Storage is implemented by *Graph and *MinIO.
type Storage interface {
	Upload(ctx context.Context, scope Scope, req UploadRequest) (File, error)
	Download(ctx context.Context, scope Scope, fileID string) (Object, error)
	Delete(ctx context.Context, scope Scope, fileID string) error
	// List returns every file under the organization's folder, one level of
	// category folders deep.
	List(ctx context.Context, scope Scope, organizationName string) ([]File, error)
	Name() string
}

const defaultCategory = "general"

// FolderPath is {root}/{organization}/{category}. Slashes inside the
// organization or category are replaced so each stays one segment.
func FolderPath(root, organizationName, category string) string {
	if strings.TrimSpace(category) == "" {
		category = defaultCategory
	}
	return path.Join(cleanSegment(root), cleanSegment(organizationName), cleanSegment(category))
}

func cleanSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "-", "\\", "-", ":", "-").Replace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// APIError is a non-2xx answer from a storage backend.
type APIError struct {
	Backend string
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Backend, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Backend, e.Status, e.Message)
}

// Unwrap maps 401 and 404 onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case 401:
		return ErrAuthRequired
	case 404:
		return ErrNotFound
	}
	return nil
}
