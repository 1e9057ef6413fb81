// Package storage lists submission file keys in S3-compatible object storage.
// Content transfer (upload/download bytes) is an external collaborator's
// responsibility; this core only lists and probes keys under a submission's
// {bucketName, rootPath} locator.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Client wraps the minio SDK behind the two operations this core needs.
type Client struct {
	client *minio.Client
}

func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("storage endpoint is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Client{client: client}, nil
}

// ListKeys returns every object key under prefix, recursively.
func (c *Client) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	keys := make([]string, 0)
	objects := c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objects {
		if object.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, object.Err)
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

// Exists probes one object key.
func (c *Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	var response minio.ErrorResponse
	if errors.As(err, &response) && response.Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
}

// Ping verifies connectivity and credentials.
func (c *Client) Ping(ctx context.Context, bucket string) error {
	if _, err := c.client.BucketExists(ctx, bucket); err != nil {
		return fmt.Errorf("storage ping: %w", err)
	}
	return nil
}
