// Package s3 implements objectstore.Store on Amazon S3. Status record expiry
// is expected to be handled by a bucket lifecycle rule on the status/ prefix.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"quill/internal/objectstore"
)

// Store implements objectstore.Store using an S3 bucket.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New loads AWS configuration and returns an S3-backed object store.
func New(ctx context.Context, region, bucket, prefix string) (*Store, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}, nil
}

// Put uploads data under key. Write-once keys are hash-checked against any
// existing object before upload.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if objectstore.Immutable(key) {
		existing, err := s.Get(ctx, key)
		if err == nil {
			if sha256.Sum256(existing) == sha256.Sum256(data) {
				return nil
			}
			return fmt.Errorf("%w: %s", objectstore.ErrImmutableKey, key)
		}
		if !errors.Is(err, objectstore.ErrNotFound) {
			return err
		}
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(s.objectKey(key)),
		Body:                 bytes.NewReader(data),
		ContentType:          aws.String("application/octet-stream"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("s3 put object bucket=%s key=%s: %w", s.bucket, key, err)
	}
	return nil
}

// Get downloads the object bytes or reports objectstore.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var notFound *s3types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", objectstore.ErrNotFound, key)
		}
		return nil, fmt.Errorf("s3 get object bucket=%s key=%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read object %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether the object is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head object bucket=%s key=%s: %w", s.bucket, key, err)
	}
	return true, nil
}

// DeletePrefix lists and removes every object under prefix.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3 list prefix %s: %w", prefix, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		identifiers := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
		for _, object := range page.Contents {
			identifiers = append(identifiers, s3types.ObjectIdentifier{Key: object.Key})
		}
		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3types.Delete{Objects: identifiers, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("s3 delete prefix %s: %w", prefix, err)
		}
	}
	return nil
}

func (s *Store) objectKey(key string) string {
	cleanKey := strings.TrimLeft(key, "/")
	if s.prefix == "" {
		return cleanKey
	}
	return s.prefix + "/" + cleanKey
}

var _ objectstore.Store = (*Store)(nil)
