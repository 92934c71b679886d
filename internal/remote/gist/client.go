// Package gist keeps the local key space in a GitHub Gist.
package gist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tripsync/internal/domain"
	"tripsync/internal/remote"
)

const (
	defaultBaseURL  = "https://api.github.com"
	defaultFileName = "trip_data.json"
	backupPrefix    = "_backup_"
)

type Config struct {
	BaseURL  string        `json:"-"`
	GistID   string        `json:"gist_id" validate:"required"`
	Token    string        `json:"token" validate:"required"`
	FileName string        `json:"file_name,omitempty"`
	Timeout  time.Duration `json:"-"`
}

type File struct {
	Filename  string `json:"filename,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
	RawURL    string `json:"raw_url,omitempty"`
}

type Gist struct {
	ID    string           `json:"id"`
	Files map[string]*File `json:"files"`
}

type Client struct {
	baseURL  string
	gistID   string
	token    string
	fileName string
	client   *http.Client
}

func New(cfg Config) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		gistID:   cfg.GistID,
		token:    cfg.Token,
		fileName: cfg.FileName,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.fileName == "" {
		c.fileName = defaultFileName
	}
	if cfg.Timeout <= 0 {
		c.client.Timeout = 15 * time.Second
	}
	return c
}

func (c *Client) Name() string { return "gist" }

func (c *Client) Get(ctx context.Context) (*Gist, error) {
	req, err := c.request(ctx, http.MethodGet, c.baseURL+"/gists/"+c.gistID, nil)
	if err != nil {
		return nil, err
	}
	var g Gist
	if err := c.do(req, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Update writes the given files; other files of the gist are left alone.
func (c *Client) Update(ctx context.Context, files map[string]*File) error {
	body, err := json.Marshal(map[string]any{"files": files})
	if err != nil {
		return fmt.Errorf("failed to encode gist update: %w", err)
	}
	req, err := c.request(ctx, http.MethodPatch, c.baseURL+"/gists/"+c.gistID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// FetchSnapshot reads the key space file. Content cut short by the API is
// fetched again from its raw URL.
func (c *Client) FetchSnapshot(ctx context.Context) (map[string]string, error) {
	g, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}
	f, ok := g.Files[c.fileName]
	if !ok || f == nil {
		return nil, remote.ErrNotFound
	}

	content := f.Content
	if f.Truncated && f.RawURL != "" {
		if content, err = c.raw(ctx, f.RawURL); err != nil {
			return nil, err
		}
	}

	var snap map[string]string
	if err := json.Unmarshal([]byte(content), &snap); err != nil {
		return nil, fmt.Errorf("gist %s: malformed snapshot: %w", c.fileName, err)
	}
	return snap, nil
}

func (c *Client) PushSnapshot(ctx context.Context, snap map[string]string) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return c.Update(ctx, map[string]*File{c.fileName: {Content: string(data)}})
}

func (c *Client) PushBackup(ctx context.Context, rec domain.BackupRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return c.Update(ctx, map[string]*File{backupPrefix + rec.Key + ".json": {Content: string(data)}})
}

func (c *Client) raw(ctx context.Context, rawURL string) (string, error) {
	req, err := c.request(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gist raw content: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gist raw content: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Client) request(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gist %s: %w", req.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return remote.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return fmt.Errorf("gist %s: status %d: %s", req.Method, resp.StatusCode, payload.Message)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ remote.Snapshots = (*Client)(nil)
