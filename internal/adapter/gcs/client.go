// Package gcs serves the catalog and its objects from a Google Cloud Storage
// mirror of the DataStream bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
)

// Client lists and reads objects of one bucket.
type Client struct {
	storageClient *storage.Client
	bucket        string
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewClient connects to bucket. With an empty credentialsFile the client is
// unauthenticated, which is enough for public mirrors. Extra options are
// appended, e.g. an endpoint override.
func NewClient(ctx context.Context, bucket, credentialsFile string, logger *slog.Logger, opts ...option.ClientOption) (*Client, error) {
	auth := option.WithoutAuthentication()
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("gcs credentials file %s: %w", credentialsFile, err)
		}
		auth = option.WithCredentialsFile(credentialsFile)
	}

	sc, err := storage.NewClient(ctx, append([]option.ClientOption{auth}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &Client{storageClient: sc, bucket: bucket, httpClient: http.DefaultClient, logger: logger}, nil
}

// Close releases the underlying storage client.
func (c *Client) Close() error {
	return c.storageClient.Close()
}

// List returns the children of prefix with the same semantics as the S3
// catalog: sub-directories, or the .nc files of an output directory.
func (c *Client) List(ctx context.Context, prefix string) ([]domain.Option, error) {
	it := c.storageClient.Bucket(c.bucket).Objects(ctx, &storage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	})

	var dirs, keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", c.bucket, prefix, err)
		}
		if attrs.Prefix != "" {
			dirs = append(dirs, attrs.Prefix)
			continue
		}
		keys = append(keys, attrs.Name)
	}

	c.logger.Debug("catalog listed", "bucket", c.bucket, "prefix", prefix, "dirs", len(dirs), "objects", len(keys))
	if domain.IsOutputPrefix(prefix) {
		return domain.FileOptions(keys), nil
	}
	return domain.DirectoryOptions(prefix, dirs), nil
}

// Open reads the object named by loc. Absolute http(s) keys are fetched over
// plain HTTP since they live outside the bucket.
func (c *Client) Open(ctx context.Context, loc domain.Locator) (io.ReadCloser, error) {
	if strings.HasPrefix(loc.ObjectKey, "https://") || strings.HasPrefix(loc.ObjectKey, "http://") {
		return c.openURL(ctx, loc.ObjectKey)
	}
	r, err := c.storageClient.Bucket(c.bucket).Object(loc.ObjectKey).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", c.bucket, loc.ObjectKey, err)
	}
	return r, nil
}

func (c *Client) openURL(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", u, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: status %d", u, resp.StatusCode)
	}
	return resp.Body, nil
}
