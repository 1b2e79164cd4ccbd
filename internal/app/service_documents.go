package app

import (
	"context"

	"msphub/api/internal/documents"
	"msphub/api/internal/filestore"
	"msphub/api/internal/store"
)

func scopeFor(sess Session, orgID string) filestore.Scope {
	return filestore.Scope{UserID: sess.UserID, OrganizationID: orgID}
}

func (s *Service) ListDocuments(ctx context.Context, sess Session, orgID string, f documents.Filter) (documents.Page, error) {
	if err := s.requireOrgMember(ctx, sess, orgID); err != nil {
		return documents.Page{}, err
	}
	return s.docs.List(ctx, orgID, f)
}

// ListAllDocuments spans organizations, or narrows to one when orgID is set.
func (s *Service) ListAllDocuments(ctx context.Context, sess Session, orgID string, f documents.Filter) (documents.Page, error) {
	if !sess.IsSuperAdmin() {
		return documents.Page{}, errSuperAdminOnly
	}
	if orgID != "" {
		return s.docs.List(ctx, orgID, f)
	}
	return s.docs.ListAll(ctx, f)
}

// documentForCaller loads the document and checks the caller may see its
// organization.
func (s *Service) documentForCaller(ctx context.Context, sess Session, documentID string) (store.Document, error) {
	if documentID == "" {
		return store.Document{}, badRequest("Document ID is required")
	}
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if err := s.requireOrgMember(ctx, sess, doc.OrganizationID); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

func (s *Service) GetDocument(ctx context.Context, sess Session, documentID string) (store.Document, error) {
	return s.documentForCaller(ctx, sess, documentID)
}

type CreateDocumentInput struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	FileType       string `json:"file_type"`
	FileSize       int64  `json:"file_size"`
}

func (s *Service) CreateDocument(ctx context.Context, sess Session, in CreateDocumentInput) (store.Document, error) {
	if in.OrganizationID == "" || in.Name == "" {
		return store.Document{}, badRequest("Organization ID and name are required")
	}
	if err := s.requireOrgMember(ctx, sess, in.OrganizationID); err != nil {
		return store.Document{}, err
	}
	return s.docs.Create(ctx, store.Document{
		OrganizationID: in.OrganizationID,
		Name:           in.Name,
		Title:          in.Title,
		Description:    in.Description,
		Category:       in.Category,
		FileType:       in.FileType,
		FileSize:       in.FileSize,
		UploadStatus:   documents.StatusPending,
		CreatedBy:      sess.UserID,
	})
}

// DocumentUpdate is the JSON patch shape; absent fields stay unchanged.
type DocumentUpdate struct {
	Title        *string `json:"title"`
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	Category     *string `json:"category"`
	UploadStatus *string `json:"upload_status"`
	IsPublic     *bool   `json:"is_public"`
	Archived     *bool   `json:"archived"`
}

func (u DocumentUpdate) patch() store.DocumentPatch {
	return store.DocumentPatch{
		Title:        u.Title,
		Name:         u.Name,
		Description:  u.Description,
		Category:     u.Category,
		UploadStatus: u.UploadStatus,
		IsPublic:     u.IsPublic,
		Archived:     u.Archived,
	}
}

func (s *Service) UpdateDocument(ctx context.Context, sess Session, documentID string, u DocumentUpdate) (store.Document, error) {
	if _, err := s.documentForCaller(ctx, sess, documentID); err != nil {
		return store.Document{}, err
	}
	return s.docs.Update(ctx, documentID, u.patch())
}

func (s *Service) SetUploadStatus(ctx context.Context, sess Session, documentID, status string) (store.Document, error) {
	if documentID == "" || status == "" {
		return store.Document{}, badRequest("Document ID and status are required")
	}
	if _, err := s.documentForCaller(ctx, sess, documentID); err != nil {
		return store.Document{}, err
	}
	return s.docs.SetUploadStatus(ctx, documentID, status)
}

func (s *Service) DeleteDocument(ctx context.Context, sess Session, documentID string) error {
	doc, err := s.documentForCaller(ctx, sess, documentID)
	if err != nil {
		return err
	}
	return s.docs.DeleteWithRemote(ctx, scopeFor(sess, doc.OrganizationID), documentID)
}

func (s *Service) UploadDocument(ctx context.Context, sess Session, in documents.UploadInput) (store.Document, error) {
	if err := s.requireOrgMember(ctx, sess, in.OrganizationID); err != nil {
		return store.Document{}, err
	}
	in.CreatedBy = sess.UserID
	return s.docs.Upload(ctx, scopeFor(sess, in.OrganizationID), in)
}

// DownloadDocument returns an open object; the caller closes its body.
func (s *Service) DownloadDocument(ctx context.Context, sess Session, documentID string) (filestore.Object, error) {
	doc, err := s.documentForCaller(ctx, sess, documentID)
	if err != nil {
		return filestore.Object{}, err
	}
	_, obj, err := s.docs.Download(ctx, scopeFor(sess, doc.OrganizationID), documentID)
	return obj, err
}

func (s *Service) SyncDocuments(ctx context.Context, sess Session, orgID string) (documents.SyncResult, error) {
	if err := s.requireOrgAdmin(ctx, sess, orgID); err != nil {
		return documents.SyncResult{}, err
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return documents.SyncResult{}, err
	}
	return s.docs.Sync(ctx, scopeFor(sess, orgID), orgID, org.Name)
}
