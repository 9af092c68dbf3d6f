// Package s3 reads the public DataStream bucket over the S3 REST API without
// credentials: ListObjectsV2 for the catalog and plain GETs for objects.
package s3

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
)

// Client lists and fetches objects of one bucket.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a client for the bucket served at baseURL, e.g.
// https://bucket.s3.us-east-1.amazonaws.com. Requests are limited to
// perSecond.
func NewClient(baseURL string, timeout time.Duration, perSecond float64, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), max(int(perSecond), 1)),
		logger:  logger,
	}
}

type listBucketResult struct {
	IsTruncated           bool   `xml:"IsTruncated"`
	NextContinuationToken string `xml:"NextContinuationToken"`
	CommonPrefixes        []struct {
		Prefix string `xml:"Prefix"`
	} `xml:"CommonPrefixes"`
	Contents []struct {
		Key  string `xml:"Key"`
		Size int64  `xml:"Size"`
	} `xml:"Contents"`
}

// List returns the children of prefix. Output directories yield the .nc files
// they hold; every other prefix yields its sub-directories.
func (c *Client) List(ctx context.Context, prefix string) ([]domain.Option, error) {
	var (
		dirs  []string
		keys  []string
		token string
	)
	for {
		page, err := c.listPage(ctx, prefix, token)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			dirs = append(dirs, cp.Prefix)
		}
		for _, obj := range page.Contents {
			keys = append(keys, obj.Key)
		}
		if !page.IsTruncated || page.NextContinuationToken == "" {
			break
		}
		token = page.NextContinuationToken
	}

	c.logger.Debug("catalog listed", "prefix", prefix, "dirs", len(dirs), "objects", len(keys))
	if domain.IsOutputPrefix(prefix) {
		return domain.FileOptions(keys), nil
	}
	return domain.DirectoryOptions(prefix, dirs), nil
}

func (c *Client) listPage(ctx context.Context, prefix, token string) (*listBucketResult, error) {
	params := url.Values{
		"list-type": {"2"},
		"prefix":    {prefix},
		"delimiter": {"/"},
	}
	if token != "" {
		params.Set("continuation-token", token)
	}

	resp, err := c.get(ctx, c.baseURL+"/?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer resp.Body.Close()

	var page listBucketResult
	if err := xml.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode listing %s: %w", prefix, err)
	}
	return &page, nil
}

// Open streams the object named by loc. An absolute http(s) ObjectKey is
// fetched as is, so reference data hosted in other buckets works too.
func (c *Client) Open(ctx context.Context, loc domain.Locator) (io.ReadCloser, error) {
	resp, err := c.get(ctx, c.ObjectURL(loc.ObjectKey))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", loc.ObjectKey, err)
	}
	return resp.Body, nil
}

// ObjectURL returns the HTTPS URL of key.
func (c *Client) ObjectURL(key string) string {
	if strings.HasPrefix(key, "https://") || strings.HasPrefix(key, "http://") {
		return key
	}
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return c.baseURL + "/" + strings.Join(segs, "/")
}

// get waits for the limiter and issues a GET. Non-200 responses are errors
// carrying the start of the body, which holds the S3 error code.
func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("s3 error: status %d: %s", resp.StatusCode, body)
	}
	return resp, nil
}
