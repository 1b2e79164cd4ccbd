package filestore

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"msphub/api/internal/metrics"
)

const presignExpiry = 7 * 24 * time.Hour

type MinIOConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	RootFolder string
}

// MinIO keeps files in one bucket. The object key doubles as the file id.
type MinIO struct {
	client  *minio.Client
	bucket  string
	root    string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewMinIO(cfg MinIOConfig, logger *zap.Logger, m *metrics.Metrics) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	root := cfg.RootFolder
	if root == "" {
		root = "IT Documentation"
	}
	return &MinIO{client: client, bucket: cfg.Bucket, root: root, logger: logger.Named("minio"), metrics: m}, nil
}

func (s *MinIO) Name() string { return "minio" }

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("created bucket", zap.String("bucket", s.bucket))
	return nil
}

// objectKey prefixes the name with a uuid so repeated uploads never collide.
func objectKey(folder, fileName string) string {
	return folder + "/" + uuid.NewString() + "-" + cleanSegment(fileName)
}

// splitKey recovers folder, category and display name from an object key.
func splitKey(key string) (folder, category, name string) {
	folder, base := path.Split(key)
	folder = strings.TrimSuffix(folder, "/")
	category = path.Base(folder)
	name = base
	if len(base) > 37 && base[36] == '-' {
		if _, err := uuid.Parse(base[:36]); err == nil {
			name = base[37:]
		}
	}
	return folder, category, name
}

func (s *MinIO) Upload(ctx context.Context, _ Scope, req UploadRequest) (file File, err error) {
	defer func() { observe(s.metrics, s.Name(), "upload", err) }()

	folder := FolderPath(s.root, req.OrganizationName, req.Category)
	key := objectKey(folder, req.FileName)
	size := req.Size
	if size <= 0 {
		size = -1
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, req.Body, size, minio.PutObjectOptions{
		ContentType: contentTypeOr(req.ContentType),
	})
	if err != nil {
		return File{}, fmt.Errorf("put object: %w", err)
	}

	file = File{
		ID:         key,
		Name:       cleanSegment(req.FileName),
		Size:       info.Size,
		MimeType:   contentTypeOr(req.ContentType),
		FolderPath: folder,
		Category:   req.Category,
		CreatedAt:  time.Now().UTC(),
		ModifiedAt: info.LastModified,
	}
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignExpiry, nil)
	if err != nil {
		s.logger.Warn("presign object", zap.String("key", key), zap.Error(err))
		return file, nil
	}
	file.ShareURL = presigned.String()
	file.DownloadURL = file.ShareURL
	file.WebURL = file.ShareURL
	return file, nil
}

func (s *MinIO) Download(ctx context.Context, _ Scope, fileID string) (obj Object, err error) {
	defer func() { observe(s.metrics, s.Name(), "download", err) }()

	o, err := s.client.GetObject(ctx, s.bucket, fileID, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, s.mapError(err)
	}
	stat, err := o.Stat()
	if err != nil {
		o.Close()
		return Object{}, s.mapError(err)
	}
	_, _, name := splitKey(fileID)
	return Object{Body: o, ContentType: stat.ContentType, Size: stat.Size, Name: name}, nil
}

func (s *MinIO) Delete(ctx context.Context, _ Scope, fileID string) (err error) {
	defer func() { observe(s.metrics, s.Name(), "delete", err) }()

	if err := s.client.RemoveObject(ctx, s.bucket, fileID, minio.RemoveObjectOptions{}); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *MinIO) List(ctx context.Context, _ Scope, organizationName string) (files []File, err error) {
	defer func() { observe(s.metrics, s.Name(), "list", err) }()

	prefix := path.Join(cleanSegment(s.root), cleanSegment(organizationName)) + "/"
	files = []File{}
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, s.mapError(info.Err)
		}
		folder, category, name := splitKey(info.Key)
		if folder+"/" == prefix {
			category = ""
		}
		files = append(files, File{
			ID:         info.Key,
			Name:       name,
			Size:       info.Size,
			MimeType:   info.ContentType,
			FolderPath: folder,
			Category:   category,
			CreatedAt:  info.LastModified,
			ModifiedAt: info.LastModified,
		})
	}
	return files, nil
}

func (s *MinIO) mapError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return &APIError{Backend: "minio", Status: http.StatusNotFound, Code: resp.Code, Message: resp.Message}
	case resp.StatusCode == http.StatusForbidden:
		return &APIError{Backend: "minio", Status: resp.StatusCode, Code: resp.Code, Message: resp.Message}
	}
	return fmt.Errorf("minio: %w", err)
}
