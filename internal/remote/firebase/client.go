// Package firebase talks to the Firebase Realtime Database REST API.
package firebase

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tripsync/internal/remote"
)

type Config struct {
	URL     string        `json:"url" validate:"required,url"`
	Path    string        `json:"path" validate:"required"`
	Token   string        `json:"token,omitempty"`
	Timeout time.Duration `json:"-"`
}

type Client struct {
	baseURL string
	token   string
	client  *http.Client
	stream  *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		stream:  &http.Client{},
	}
}

func (c *Client) url(path string) string {
	u := c.baseURL + "/" + strings.Trim(path, "/") + ".json"
	if c.token != "" {
		u += "?auth=" + url.QueryEscape(c.token)
	}
	return u
}

// Get returns the raw JSON at path; a JSON null means nothing is stored.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if string(bytes.TrimSpace(body)) == "null" {
		return nil, remote.ErrNotFound
	}
	return body, nil
}

// Set replaces the value at path.
func (c *Client) Set(ctx context.Context, path string, v any) error {
	_, err := c.do(ctx, http.MethodPut, path, v)
	return err
}

// Update applies a multi-path update rooted at path. Firebase applies it
// atomically.
func (c *Client) Update(ctx context.Context, path string, paths map[string]any) error {
	_, err := c.do(ctx, http.MethodPatch, path, paths)
	return err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, v any) ([]byte, error) {
	var body io.Reader
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s body: %w", method, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, err
	}
	if v != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firebase %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, data)
	}
	return data, nil
}

type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("firebase: status %d: %s", e.Code, e.Message)
}

func statusError(code int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &StatusError{Code: code, Message: msg}
}

var ErrStreamClosed = errors.New("firebase: event stream closed")

// Stream subscribes to server-sent events at path and calls fn for each
// put or patch. It returns when ctx ends, the server cancels the stream,
// or the connection drops.
func (c *Client) Stream(ctx context.Context, path string, fn func(remote.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("firebase stream %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return statusError(resp.StatusCode, data)
	}

	return readEvents(ctx, resp.Body, fn)
}

func readEvents(ctx context.Context, r io.Reader, fn func(remote.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := dispatch(event, data.String(), fn); err != nil {
				return err
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return ErrStreamClosed
}

func dispatch(event, data string, fn func(remote.Event)) error {
	switch remote.EventKind(event) {
	case remote.EventPut, remote.EventPatch:
		var payload struct {
			Path string          `json:"path"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return fmt.Errorf("firebase: malformed %s event: %w", event, err)
		}
		fn(remote.Event{Kind: remote.EventKind(event), Path: payload.Path, Data: payload.Data})
	case remote.EventCancel, remote.EventRevoke:
		fn(remote.Event{Kind: remote.EventKind(event), Data: json.RawMessage(data)})
		return fmt.Errorf("firebase: stream ended by server: %s", event)
	}
	// keep-alive and unknown events carry nothing to apply.
	return nil
}
