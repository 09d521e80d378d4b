// Package client wraps the external transports the pipeline downloads
// from. Both the standard Bot API endpoint and a self-hosted Bot API
// server (the large-file path) speak the same two-step protocol: resolve
// the file reference to a path, then stream the file body.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// FileClient downloads files through a Bot API-compatible endpoint.
// Pointing it at a self-hosted server lifts the hosted API's size cap,
// which is how the large-file strategy is implemented.
type FileClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewFileClient builds a client for the given endpoint. baseURL is the
// server root, e.g. "https://api.telegram.org" or a local server address.
func NewFileClient(baseURL, token string) *FileClient {
	return &FileClient{
		httpClient: &http.Client{Timeout: 30 * time.Minute},
		baseURL:    baseURL,
		token:      token,
	}
}

// IsConfigured reports whether the client has an endpoint and credential.
func (c *FileClient) IsConfigured() bool {
	return c != nil && c.baseURL != "" && c.token != ""
}

// Download materializes the remote file identified by fileID at dst.
// Implements fetch.Downloader.
func (c *FileClient) Download(ctx context.Context, fileID, dst string) error {
	remotePath, err := c.resolvePath(ctx, fileID)
	if err != nil {
		return err
	}

	fileURL := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, remotePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch file body: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch file body: status %d", resp.StatusCode)
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return f.Close()
}

// resolvePath asks the endpoint for the server-side path of a file ID.
func (c *FileClient) resolvePath(ctx context.Context, fileID string) (string, error) {
	u := fmt.Sprintf("%s/bot%s/getFile?file_id=%s", c.baseURL, c.token, url.QueryEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		OK     bool `json:"ok"`
		Result struct {
			FilePath string `json:"file_path"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode getFile response: %w", err)
	}
	if !payload.OK || payload.Result.FilePath == "" {
		return "", errors.New("getFile failed")
	}
	return payload.Result.FilePath, nil
}
