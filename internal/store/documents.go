package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var documentColumns = []string{
	"d.id", "d.organization_id", "COALESCE(o.name, '')", "d.title", "d.name", "d.description", "d.category",
	"d.file_type", "d.file_size", "COALESCE(d.onedrive_file_id, '')", "COALESCE(d.onedrive_share_url, '')",
	"COALESCE(d.onedrive_download_url, '')", "COALESCE(d.onedrive_folder_path, '')", "d.upload_status",
	"d.is_public", "d.archived", "d.last_sync_at", "COALESCE(d.created_by::text, '')", "d.created_at", "d.updated_at",
}

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.OrganizationID, &d.OrganizationName, &d.Title, &d.Name, &d.Description, &d.Category,
		&d.FileType, &d.FileSize, &d.OneDriveFileID, &d.OneDriveShareURL, &d.OneDriveDownloadURL,
		&d.OneDriveFolderPath, &d.UploadStatus, &d.IsPublic, &d.Archived, &d.LastSyncAt, &d.CreatedBy,
		&d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func documentWhere(filter DocumentFilter) sq.And {
	where := sq.And{}
	if filter.OrganizationID != "" {
		where = append(where, sq.Eq{"d.organization_id": filter.OrganizationID})
	}
	if filter.Category != "" {
		where = append(where, sq.Eq{"d.category": filter.Category})
	}
	if filter.Archived != nil {
		where = append(where, sq.Eq{"d.archived": *filter.Archived})
	}
	if len(filter.IDs) > 0 {
		where = append(where, sq.Eq{"d.id": filter.IDs})
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		pattern := "%" + escapeLike(term) + "%"
		where = append(where, sq.Or{
			sq.ILike{"d.name": pattern},
			sq.ILike{"d.description": pattern},
		})
	}
	return where
}

// ListDocuments returns one page of documents matching filter, newest first,
// plus the total number of matches.
func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, int, error) {
	where := documentWhere(filter)

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("documents d").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build document count: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	query := psql.Select(documentColumns...).
		From("documents d").
		LeftJoin("organizations o ON o.id = d.organization_id").
		Where(where).
		OrderBy("d.created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}
	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build document list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, total, rows.Err()
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	query, args, err := psql.Select(documentColumns...).
		From("documents d").
		LeftJoin("organizations o ON o.id = d.organization_id").
		Where(sq.Eq{"d.id": documentID}).
		ToSql()
	if err != nil {
		return Document{}, fmt.Errorf("build document get: %w", err)
	}
	d, err := scanDocument(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, d Document) (Document, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (organization_id, title, name, description, category, file_type, file_size,
			onedrive_file_id, onedrive_share_url, onedrive_download_url, onedrive_folder_path,
			upload_status, is_public, archived, last_sync_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''),
			$12, $13, $14, $15, NULLIF($16, '')::uuid)
		RETURNING id
	`, d.OrganizationID, d.Title, d.Name, d.Description, d.Category, d.FileType, d.FileSize,
		d.OneDriveFileID, d.OneDriveShareURL, d.OneDriveDownloadURL, d.OneDriveFolderPath,
		d.UploadStatus, d.IsPublic, d.Archived, d.LastSyncAt, d.CreatedBy).Scan(&id)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return s.GetDocument(ctx, id)
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, documentID string, patch DocumentPatch) (Document, error) {
	update := psql.Update("documents").
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": documentID})
	set := func(column string, value any) { update = update.Set(column, value) }
	if patch.Title != nil {
		set("title", *patch.Title)
	}
	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.Category != nil {
		set("category", *patch.Category)
	}
	if patch.FileType != nil {
		set("file_type", *patch.FileType)
	}
	if patch.FileSize != nil {
		set("file_size", *patch.FileSize)
	}
	if patch.OneDriveFileID != nil {
		set("onedrive_file_id", nullString(*patch.OneDriveFileID))
	}
	if patch.OneDriveShareURL != nil {
		set("onedrive_share_url", nullString(*patch.OneDriveShareURL))
	}
	if patch.OneDriveDownloadURL != nil {
		set("onedrive_download_url", nullString(*patch.OneDriveDownloadURL))
	}
	if patch.OneDriveFolderPath != nil {
		set("onedrive_folder_path", nullString(*patch.OneDriveFolderPath))
	}
	if patch.UploadStatus != nil {
		set("upload_status", *patch.UploadStatus)
	}
	if patch.IsPublic != nil {
		set("is_public", *patch.IsPublic)
	}
	if patch.Archived != nil {
		set("archived", *patch.Archived)
	}
	if patch.LastSyncAt != nil {
		set("last_sync_at", *patch.LastSyncAt)
	}
	query, args, err := update.ToSql()
	if err != nil {
		return Document{}, fmt.Errorf("build document update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return Document{}, err
	}
	return s.GetDocument(ctx, documentID)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireAffected(res)
}

// DocumentRemoteIDs returns the remote file ids already tracked for an organization.
func (s *PostgresStore) DocumentRemoteIDs(ctx context.Context, orgID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT onedrive_file_id FROM documents
		WHERE organization_id=$1 AND onedrive_file_id IS NOT NULL
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list remote ids: %w", err)
	}
	defer rows.Close()
	ids := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan remote id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (s *PostgresStore) MarkDocumentSynced(ctx context.Context, documentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET last_sync_at=$2, updated_at=NOW() WHERE id=$1`, documentID, at)
	if err != nil {
		return fmt.Errorf("mark document synced: %w", err)
	}
	return nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
