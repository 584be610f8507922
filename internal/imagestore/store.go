// Package imagestore reads image blobs from an S3-compatible object store
// (Cloudflare R2 in production).
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/totenbilder/searchd/internal/config"
)

// S3API abstracts the S3 operations used by [Store].
// The [s3.Client] type satisfies this interface.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store lists and fetches image objects under a key prefix.
//
// Keys returned by List and accepted by Get are full object keys including
// the prefix; they double as the canonical join key across the metadata
// store and the vector index.
type Store struct {
	client S3API
	bucket string
	prefix string
}

// New creates a Store on top of a pre-configured S3 client.
func New(client S3API, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Connect builds an S3 client from config and wraps it in a Store.
// The endpoint override points the client at R2 (or MinIO, etc.).
func Connect(ctx context.Context, cfg config.S3Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	if cfg.AccessKeyID == "" || !cfg.SecretAccessKey.IsSet() {
		return nil, fmt.Errorf("s3 credentials required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey.Value(), ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// R2 does not support virtual-hosted-style addressing for all
		// bucket names.
		o.UsePathStyle = cfg.Endpoint != ""
	})

	return New(client, cfg.Bucket, cfg.Prefix), nil
}

// Prefix returns the configured key prefix.
func (s *Store) Prefix() string {
	return s.prefix
}

// List returns all object keys under the prefix, following continuation
// tokens until the listing is exhausted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var keys []string
	var token *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("listing objects under %q: %w", s.prefix, err)
		}

		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

// Get fetches the full object body for key.
// Returns an error wrapping os.ErrNotExist when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("get %s: %w", key, os.ErrNotExist)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

// isNotFound reports whether err indicates a missing S3 object.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
