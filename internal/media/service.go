// Package media stores participant uploads for file-upload blocks in
// S3-compatible object storage.
package media

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"afkar/api/internal/util"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options configures the object storage connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Service issues presigned upload and download URLs so participant files
// never pass through the API process.
type Service struct {
	client *minio.Client
	bucket string
}

// NewService connects to object storage and makes sure the bucket exists.
func NewService(ctx context.Context, opts Options) (*Service, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	s := &Service{client: client, bucket: opts.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// UploadTicket is a presigned PUT for one participant file.
type UploadTicket struct {
	ObjectKey string    `json:"objectKey"`
	UploadURL string    `json:"uploadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PresignUpload creates a short-lived upload URL for a file attached to a
// study session. The object key namespaces files by study and session.
func (s *Service) PresignUpload(ctx context.Context, studyID, sessionID, filename string) (UploadTicket, error) {
	if filename == "" {
		return UploadTicket{}, fmt.Errorf("filename required")
	}

	// Participant-supplied names only contribute the extension.
	objectKey := path.Join(studyID, sessionID, util.NewID("file")+path.Ext(filename))

	const ttl = 15 * time.Minute
	u, err := s.client.PresignedPutObject(ctx, s.bucket, objectKey, ttl)
	if err != nil {
		return UploadTicket{}, fmt.Errorf("presign upload: %w", err)
	}

	return UploadTicket{
		ObjectKey: objectKey,
		UploadURL: u.String(),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// PresignDownload creates a short-lived download URL for a stored object.
func (s *Service) PresignDownload(ctx context.Context, objectKey, downloadName string) (string, error) {
	params := make(url.Values)
	if downloadName != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, 15*time.Minute, params)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}

// RemoveObject deletes a stored file, used when a session is purged.
func (s *Service) RemoveObject(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}
