// Package archive stores generated survey reports in S3-compatible
// object storage so exports remain retrievable after completion.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Service struct {
	client *minio.Client
	bucket string
}

type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ContentType  string    `json:"contentType"`
}

// New connects to the object store and ensures the bucket exists. A nil
// service is returned when no endpoint is configured; callers treat that
// as the archive being disabled.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Printf("archive: created bucket %s", cfg.Bucket)
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// PutReport uploads a generated report and returns its object key.
// Keys are namespaced per survey so ListReports can prefix-scan.
func (s *Service) PutReport(ctx context.Context, surveyID, filename, contentType string, data []byte) (string, error) {
	key := path.Join(surveyID, fmt.Sprintf("%d-%s", time.Now().Unix(), filename))
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put report %s: %w", key, err)
	}
	return key, nil
}

// GetReport streams a stored report back to the caller.
func (s *Service) GetReport(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get report %s: %w", key, err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("stat report %s: %w", key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("read report %s: %w", key, err)
	}
	return data, stat.ContentType, nil
}

// ListReports lists archived reports for a survey, newest keys included.
func (s *Service) ListReports(ctx context.Context, surveyID string) ([]Object, error) {
	objects := make([]Object, 0)
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    surveyID + "/",
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list reports for %s: %w", surveyID, info.Err)
		}
		objects = append(objects, Object{
			Key:          info.Key,
			Size:         info.Size,
			LastModified: info.LastModified,
			ContentType:  info.ContentType,
		})
	}
	return objects, nil
}

// Ping verifies the object store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
