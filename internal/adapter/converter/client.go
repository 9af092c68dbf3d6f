// Package converter calls the NetCDF conversion service, which reads t-route
// NetCDF outputs from S3, joins them with the VPU hydrofabric, and answers
// with an Arrow IPC stream.
package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
)

// ArrowStreamType is the content type of a successful response.
const ArrowStreamType = "application/vnd.apache.arrow.stream"

// Client converts one output file per request.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the conversion endpoint at url.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type request struct {
	NCFiles []string `json:"nc_files"`
	VPUGpkg string   `json:"vpu_gpkg"`
}

// Open asks the service to convert the NetCDF object of loc and returns the
// Arrow stream body.
func (c *Client) Open(ctx context.Context, loc domain.Locator) (io.ReadCloser, error) {
	body, err := json.Marshal(request{
		NCFiles: []string{domain.S3URI(loc.ObjectKey)},
		VPUGpkg: loc.Geopackage,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal conversion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", ArrowStreamType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", loc.ObjectKey, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("converter error: status %d: %s", resp.StatusCode, msg)
	}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mt != ArrowStreamType {
		resp.Body.Close()
		return nil, fmt.Errorf("converter returned %q, want %s", resp.Header.Get("Content-Type"), ArrowStreamType)
	}

	c.logger.Info("conversion started streaming", "object_key", loc.ObjectKey, "gpkg", loc.Geopackage, "latency", time.Since(start))
	return resp.Body, nil
}
