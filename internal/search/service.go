package search

import (
	"go.uber.org/zap"
)

// Backend is what Service drives; *Meili implements it.
type Backend interface {
	Searcher
	Indexer
}

// Service is the facade the rest of the API talks to. A nil backend turns
// every call into a no-op and every search into a miss.
type Service struct {
	backend Backend
	logger  *zap.Logger
}

func NewService(backend Backend, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{backend: backend, logger: logger.Named("search")}
}

func (s *Service) available() bool {
	return s != nil && s.backend != nil && s.backend.Healthy()
}

// SearchDocumentIDs reports ok=false when the index cannot answer, in which
// case the caller should match in SQL instead.
func (s *Service) SearchDocumentIDs(q Query) (ids []string, total int, ok bool) {
	if !s.available() {
		return nil, 0, false
	}
	ids, total, err := s.backend.SearchDocuments(q)
	if err != nil {
		s.logger.Warn("meilisearch error, falling back to sql", zap.Error(err))
		return nil, 0, false
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, total, true
}

// IndexDocument is fire-and-forget.
func (s *Service) IndexDocument(doc DocumentRecord) {
	if !s.available() {
		return
	}
	go func() {
		if err := s.backend.IndexDocuments([]DocumentRecord{doc}); err != nil {
			s.logger.Warn("index document", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}()
}

// DeleteDocument is fire-and-forget.
func (s *Service) DeleteDocument(id string) {
	if !s.available() {
		return
	}
	go func() {
		if err := s.backend.DeleteDocument(id); err != nil {
			s.logger.Warn("delete document from index", zap.String("document_id", id), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every record synchronously. Used at startup.
func (s *Service) ReindexAll(docs []DocumentRecord) {
	if !s.available() || len(docs) == 0 {
		return
	}
	if err := s.backend.IndexDocuments(docs); err != nil {
		s.logger.Warn("reindex documents", zap.Int("count", len(docs)), zap.Error(err))
		return
	}
	s.logger.Info("reindexed documents", zap.Int("count", len(docs)))
}
