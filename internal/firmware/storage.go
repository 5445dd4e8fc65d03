package firmware

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/cabmeter/pkg/log"
	"github.com/autopeer-io/cabmeter/pkg/options"
)

// Source fetches firmware images.
type Source interface {
	// Fetch downloads object into the local file path.
	Fetch(ctx context.Context, object, path string) error
	// CheckBucket verifies the image bucket is reachable.
	CheckBucket(ctx context.Context) error
}

type minioSource struct {
	client     *minio.Client
	bucketName string
}

// NewMinIOSource returns a Source reading from an S3 compatible bucket.
func NewMinIOSource(opts *options.S3Options) (Source, error) {
	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	}
	if opts.InsecureSkipVerify {
		minioOpts.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &minioSource{client: client, bucketName: opts.BucketName}, nil
}

func (s *minioSource) CheckBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("firmware bucket %q does not exist", s.bucketName)
	}
	return nil
}

func (s *minioSource) Fetch(ctx context.Context, object, path string) error {
	log.Info("Fetching firmware image", "bucket", s.bucketName, "object", object, "path", path)
	if err := s.client.FGetObject(ctx, s.bucketName, object, path, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("fetch firmware %s: %w", object, err)
	}
	return nil
}
