// Package documents manages document metadata in Postgres and the files
// behind it in the configured storage backend.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"msphub/api/internal/filestore"
	"msphub/api/internal/search"
	"msphub/api/internal/store"
)

const (
	StatusPending   = "pending"
	StatusUploading = "uploading"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	defaultLimit    = 50
	maxLimit        = 200
	defaultCategory = "general"
)

var (
	ErrInvalidInput       = errors.New("invalid document input")
	ErrInvalidStatus      = errors.New("invalid upload status")
	ErrNoRemoteFile       = errors.New("document is not stored in remote storage")
	ErrStorageUnavailable = errors.New("document storage is not configured")
)

type Store interface {
	ListDocuments(ctx context.Context, filter store.DocumentFilter) ([]store.Document, int, error)
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	InsertDocument(ctx context.Context, d store.Document) (store.Document, error)
	UpdateDocument(ctx context.Context, documentID string, patch store.DocumentPatch) (store.Document, error)
	DeleteDocument(ctx context.Context, documentID string) error
	DocumentRemoteIDs(ctx context.Context, orgID string) (map[string]struct{}, error)
}

// Index is the search side; *search.Service implements it.
type Index interface {
	SearchDocumentIDs(q search.Query) ([]string, int, bool)
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
}

type Service struct {
	store   Store
	storage filestore.Storage
	index   Index
	logger  *zap.Logger
	now     func() time.Time
}

// New builds the service. storage and index may be nil.
func New(s Store, storage filestore.Storage, index Index, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   s,
		storage: storage,
		index:   index,
		logger:  logger.Named("documents"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// StorageName reports the configured backend, or "" when none.
func (s *Service) StorageName() string {
	if s.storage == nil {
		return ""
	}
	return s.storage.Name()
}

type Filter struct {
	Category string
	Search   string
	Archived *bool
	Limit    int
	Offset   int
}

type Page struct {
	Documents []store.Document `json:"documents"`
	Total     int              `json:"total"`
}

// List returns one organization's documents.
func (s *Service) List(ctx context.Context, orgID string, f Filter) (Page, error) {
	if strings.TrimSpace(orgID) == "" {
		return Page{}, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.list(ctx, orgID, f)
}

// ListAll spans every organization. Callers must check for super admin.
func (s *Service) ListAll(ctx context.Context, f Filter) (Page, error) {
	return s.list(ctx, "", f)
}

func (s *Service) list(ctx context.Context, orgID string, f Filter) (Page, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := max(f.Offset, 0)
	filter := store.DocumentFilter{
		OrganizationID: orgID,
		Category:       f.Category,
		Search:         f.Search,
		Archived:       f.Archived,
		Limit:          limit,
		Offset:         offset,
	}

	if term := strings.TrimSpace(f.Search); term != "" && s.index != nil {
		ids, total, ok := s.index.SearchDocumentIDs(search.Query{
			Text:           term,
			OrganizationID: orgID,
			Category:       f.Category,
			Archived:       f.Archived,
			Limit:          limit,
			Offset:         offset,
		})
		if ok {
			if len(ids) == 0 {
				return Page{Documents: []store.Document{}, Total: total}, nil
			}
			filter.IDs, filter.Search, filter.Limit, filter.Offset = ids, "", 0, 0
			docs, _, err := s.store.ListDocuments(ctx, filter)
			if err != nil {
				return Page{}, err
			}
			return Page{Documents: orderByIDs(docs, ids), Total: total}, nil
		}
	}

	docs, total, err := s.store.ListDocuments(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	if docs == nil {
		docs = []store.Document{}
	}
	return Page{Documents: docs, Total: total}, nil
}

// orderByIDs keeps the index's relevance order.
func orderByIDs(docs []store.Document, ids []string) []store.Document {
	byID := make(map[string]store.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	out := make([]store.Document, 0, len(docs))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Get returns sql.ErrNoRows when the document does not exist.
func (s *Service) Get(ctx context.Context, documentID string) (store.Document, error) {
	return s.store.GetDocument(ctx, documentID)
}

func (s *Service) Create(ctx context.Context, d store.Document) (store.Document, error) {
	d.Name = strings.TrimSpace(d.Name)
	if strings.TrimSpace(d.OrganizationID) == "" || d.Name == "" {
		return store.Document{}, fmt.Errorf("%w: organization_id and name are required", ErrInvalidInput)
	}
	if d.Title == "" {
		d.Title = d.Name
	}
	if d.Category == "" {
		d.Category = defaultCategory
	}
	if d.FileType == "" {
		d.FileType = MimeType(d.Name)
	}
	if d.UploadStatus == "" {
		d.UploadStatus = StatusPending
	}
	if !validStatus(d.UploadStatus) {
		return store.Document{}, fmt.Errorf("%w: %q", ErrInvalidStatus, d.UploadStatus)
	}
	created, err := s.store.InsertDocument(ctx, d)
	if err != nil {
		return store.Document{}, err
	}
	s.reindex(created)
	return created, nil
}

func (s *Service) Update(ctx context.Context, documentID string, patch store.DocumentPatch) (store.Document, error) {
	if patch.UploadStatus != nil && !validStatus(*patch.UploadStatus) {
		return store.Document{}, fmt.Errorf("%w: %q", ErrInvalidStatus, *patch.UploadStatus)
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return store.Document{}, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	updated, err := s.store.UpdateDocument(ctx, documentID, patch)
	if err != nil {
		return store.Document{}, err
	}
	s.reindex(updated)
	return updated, nil
}

func (s *Service) SetUploadStatus(ctx context.Context, documentID, status string) (store.Document, error) {
	return s.Update(ctx, documentID, store.DocumentPatch{UploadStatus: &status})
}

func (s *Service) Delete(ctx context.Context, documentID string) error {
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if s.index != nil {
		s.index.DeleteDocument(documentID)
	}
	return nil
}

// DeleteWithRemote removes the stored file too. A failing remote delete is
// logged and does not keep the row.
func (s *Service) DeleteWithRemote(ctx context.Context, scope filestore.Scope, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OneDriveFileID != "" && s.storage != nil {
		if err := s.storage.Delete(ctx, scope, doc.OneDriveFileID); err != nil {
			s.logger.Warn("remote delete failed, removing row anyway",
				zap.String("document_id", documentID), zap.String("file_id", doc.OneDriveFileID), zap.Error(err))
		}
	}
	return s.Delete(ctx, documentID)
}

type UploadInput struct {
	OrganizationID   string
	OrganizationName string
	Name             string
	Description      string
	Category         string
	FileName         string
	ContentType      string
	Size             int64
	IsPublic         bool
	CreatedBy        string
	Body             io.Reader
}

// Upload records the document as uploading, stores the file and then
// completes the row. A storage failure leaves the row marked failed.
func (s *Service) Upload(ctx context.Context, scope filestore.Scope, in UploadInput) (store.Document, error) {
	if s.storage == nil {
		return store.Document{}, ErrStorageUnavailable
	}
	if in.Body == nil || strings.TrimSpace(in.FileName) == "" {
		return store.Document{}, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = in.FileName
	}
	category := in.Category
	if category == "" {
		category = defaultCategory
	}
	contentType := in.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = MimeType(in.FileName)
	}

	doc, err := s.store.InsertDocument(ctx, store.Document{
		OrganizationID: in.OrganizationID,
		Title:          name,
		Name:           name,
		Description:    in.Description,
		Category:       category,
		FileType:       contentType,
		FileSize:       in.Size,
		UploadStatus:   StatusUploading,
		IsPublic:       in.IsPublic,
		CreatedBy:      in.CreatedBy,
	})
	if err != nil {
		return store.Document{}, err
	}

	file, err := s.storage.Upload(ctx, scope, filestore.UploadRequest{
		OrganizationName: in.OrganizationName,
		Category:         category,
		FileName:         in.FileName,
		ContentType:      contentType,
		Size:             in.Size,
		Body:             in.Body,
	})
	if err != nil {
		failed := StatusFailed
		if _, markErr := s.store.UpdateDocument(context.WithoutCancel(ctx), doc.ID, store.DocumentPatch{UploadStatus: &failed}); markErr != nil {
			s.logger.Error("mark upload failed", zap.String("document_id", doc.ID), zap.Error(markErr))
		}
		return store.Document{}, fmt.Errorf("upload %s: %w", in.FileName, err)
	}

	completed := StatusCompleted
	now := s.now()
	size := file.Size
	if size == 0 {
		size = in.Size
	}
	updated, err := s.store.UpdateDocument(ctx, doc.ID, store.DocumentPatch{
		FileSize:            &size,
		OneDriveFileID:      &file.ID,
		OneDriveShareURL:    &file.ShareURL,
		OneDriveDownloadURL: &file.DownloadURL,
		OneDriveFolderPath:  &file.FolderPath,
		UploadStatus:        &completed,
		LastSyncAt:          &now,
	})
	if err != nil {
		return store.Document{}, fmt.Errorf("update document metadata: %w", err)
	}
	s.logger.Info("document uploaded", zap.String("document_id", updated.ID), zap.String("backend", s.storage.Name()))
	s.reindex(updated)
	return updated, nil
}

// Download opens the stored file. The caller closes the body.
func (s *Service) Download(ctx context.Context, scope filestore.Scope, documentID string) (store.Document, filestore.Object, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, filestore.Object{}, err
	}
	if doc.OneDriveFileID == "" {
		return store.Document{}, filestore.Object{}, ErrNoRemoteFile
	}
	if s.storage == nil {
		return store.Document{}, filestore.Object{}, ErrStorageUnavailable
	}
	obj, err := s.storage.Download(ctx, scope, doc.OneDriveFileID)
	if err != nil {
		return store.Document{}, filestore.Object{}, err
	}
	if obj.ContentType == "" {
		obj.ContentType = doc.FileType
	}
	obj.Name = doc.Name
	return doc, obj, nil
}

type SyncResult struct {
	Synced int      `json:"synced"`
	Errors []string `json:"errors"`
}

// Sync creates rows for remote files of the organization that have none.
// Per-file failures are reported in the result, not as the error.
func (s *Service) Sync(ctx context.Context, scope filestore.Scope, orgID, orgName string) (SyncResult, error) {
	if s.storage == nil {
		return SyncResult{}, ErrStorageUnavailable
	}
	files, err := s.storage.List(ctx, scope, orgName)
	if err != nil {
		return SyncResult{}, fmt.Errorf("list remote files: %w", err)
	}
	known, err := s.store.DocumentRemoteIDs(ctx, orgID)
	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{Errors: []string{}}
	var errs *multierror.Error
	for _, f := range files {
		if _, ok := known[f.ID]; ok {
			continue
		}
		now := s.now()
		category := f.Category
		if category == "" {
			category = defaultCategory
		}
		fileType := f.MimeType
		if fileType == "" {
			fileType = MimeType(f.Name)
		}
		created, err := s.store.InsertDocument(ctx, store.Document{
			OrganizationID:      orgID,
			Title:               f.Name,
			Name:                f.Name,
			Category:            category,
			FileType:            fileType,
			FileSize:            f.Size,
			OneDriveFileID:      f.ID,
			OneDriveShareURL:    f.ShareURL,
			OneDriveDownloadURL: f.DownloadURL,
			OneDriveFolderPath:  f.FolderPath,
			UploadStatus:        StatusCompleted,
			LastSyncAt:          &now,
		})
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to sync %s: %w", f.Name, err))
			continue
		}
		known[f.ID] = struct{}{}
		s.reindex(created)
		result.Synced++
	}
	if errs != nil {
		for _, e := range errs.Errors {
			result.Errors = append(result.Errors, e.Error())
		}
	}
	s.logger.Info("document sync finished", zap.String("organization_id", orgID),
		zap.Int("synced", result.Synced), zap.Int("errors", len(result.Errors)))
	return result, nil
}

// ReindexAll pushes every document to the search index.
func (s *Service) ReindexAll(ctx context.Context, reindex func([]search.DocumentRecord)) error {
	var records []search.DocumentRecord
	for offset := 0; ; offset += maxLimit {
		docs, _, err := s.store.ListDocuments(ctx, store.DocumentFilter{Limit: maxLimit, Offset: offset})
		if err != nil {
			return err
		}
		for _, d := range docs {
			records = append(records, record(d))
		}
		if len(docs) < maxLimit {
			break
		}
	}
	reindex(records)
	return nil
}

func (s *Service) reindex(d store.Document) {
	if s.index != nil {
		s.index.IndexDocument(record(d))
	}
}

func record(d store.Document) search.DocumentRecord {
	return search.DocumentRecord{
		ID:             d.ID,
		OrganizationID: d.OrganizationID,
		Name:           d.Name,
		Title:          d.Title,
		Description:    d.Description,
		Category:       d.Category,
		Archived:       d.Archived,
	}
}

func validStatus(status string) bool {
	switch status {
	case StatusPending, StatusUploading, StatusCompleted, StatusFailed:
		return true
	}
	return false
}
