package app

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"msphub/api/internal/documents"
)

// maxUploadMemory is how much of a multipart body is held in memory before
// spilling to disk.
const maxUploadMemory = 32 << 20

func (s *HTTPServer) documentRoutes(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Get("/", s.handleListDocuments)
		r.Post("/", s.handleCreateDocument)
		r.Put("/", s.handleUpdateDocumentByBody)
		r.Delete("/", s.handleDeleteDocumentByQuery)

		r.Post("/upload", s.handleUploadDocument)
		r.Patch("/upload", s.handleUploadStatus)

		r.Route("/{documentID}", func(r chi.Router) {
			r.Get("/", s.handleGetDocument)
			r.Put("/", s.handleUpdateDocument)
			r.Delete("/", s.handleDeleteDocument)
			r.Get("/download", s.handleDownloadDocument)
		})
	})
}

func documentFilter(r *http.Request) documents.Filter {
	q := r.URL.Query()
	return documents.Filter{
		Category: strings.TrimSpace(q.Get("category")),
		Search:   strings.TrimSpace(q.Get("search")),
		Archived: queryBool(r, "archived"),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	}
}

func writePage(w http.ResponseWriter, page documents.Page) {
	writeJSON(w, http.StatusOK, envelope{"success": true, "data": page.Documents, "total": page.Total})
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	page, err := s.service.ListDocuments(r.Context(), sessionFrom(r), r.URL.Query().Get("organization_id"), documentFilter(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(w, page)
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body CreateDocumentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.CreateDocument(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, doc)
}

type documentUpdateBody struct {
	ID string `json:"id"`
	DocumentUpdate
}

func (s *HTTPServer) handleUpdateDocumentByBody(w http.ResponseWriter, r *http.Request) {
	var body documentUpdateBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	s.updateDocument(w, r, body.ID, body.DocumentUpdate)
}

func (s *HTTPServer) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var body DocumentUpdate
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	s.updateDocument(w, r, chi.URLParam(r, "documentID"), body)
}

func (s *HTTPServer) updateDocument(w http.ResponseWriter, r *http.Request, documentID string, u DocumentUpdate) {
	doc, err := s.service.UpdateDocument(r.Context(), sessionFrom(r), documentID, u)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleDeleteDocumentByQuery(w http.ResponseWriter, r *http.Request) {
	s.deleteDocument(w, r, r.URL.Query().Get("id"))
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	s.deleteDocument(w, r, chi.URLParam(r, "documentID"))
}

func (s *HTTPServer) deleteDocument(w http.ResponseWriter, r *http.Request, documentID string) {
	if err := s.service.DeleteDocument(r.Context(), sessionFrom(r), documentID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "message": "Document deleted"})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.GetDocument(r.Context(), sessionFrom(r), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	orgID := strings.TrimSpace(r.FormValue("organization_id"))
	orgName := strings.TrimSpace(r.FormValue("organization_name"))
	if err != nil || orgID == "" || orgName == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "File, organization ID, and organization name are required", nil)
		return
	}
	defer file.Close()

	isPublic, _ := strconv.ParseBool(r.FormValue("is_public"))
	doc, err := s.service.UploadDocument(r.Context(), sessionFrom(r), documents.UploadInput{
		OrganizationID:   orgID,
		OrganizationName: orgName,
		Name:             r.FormValue("name"),
		Description:      r.FormValue("description"),
		Category:         r.FormValue("category"),
		FileName:         header.Filename,
		ContentType:      header.Header.Get("Content-Type"),
		Size:             header.Size,
		IsPublic:         isPublic,
		Body:             file,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{"success": true, "data": doc, "message": "Document uploaded"})
}

func (s *HTTPServer) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DocumentID string `json:"document_id"`
		Status     string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.SetUploadStatus(r.Context(), sessionFrom(r), body.DocumentID, body.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	obj, err := s.service.DownloadDocument(r.Context(), sessionFrom(r), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = documents.MimeType(obj.Name)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": obj.Name}))
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		s.logger.Warn("download interrupted", zap.String("path", r.URL.Path), zap.Error(err))
	}
}
