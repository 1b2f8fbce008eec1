package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// errUnauthorized marks an expired or rejected token; the client re-logs-in
// and retries once before surfacing the error.
var errUnauthorized = errors.New("replication: unauthorized")

// Credentials authenticate against the sync server.
type Credentials struct {
	Username string
	Password string
}

// SyncDoc is the wire shape of one replicated document (or tombstone).
type SyncDoc struct {
	DocID     string          `json:"doc_id"`
	UpdatedAt int64           `json:"updated_at_ms"`
	Deleted   bool            `json:"deleted"`
	Doc       json.RawMessage `json:"doc,omitempty"`
}

// PullResponse is the sync server's answer to a pull request.
type PullResponse struct {
	Docs       []SyncDoc `json:"docs"`
	ServerTime int64     `json:"server_time_ms"`
}

// Client talks to a remote sync server over HTTP+JSON with JWT auth.
type Client struct {
	endpoint string
	creds    Credentials
	http     *http.Client
	token    string
}

// NewClient creates a sync client for the given endpoint base URL.
func NewClient(endpoint string, creds Credentials) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		creds:    creds,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Login obtains a fresh JWT from the sync server.
func (c *Client) Login(ctx context.Context) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.post(ctx, "/api/auth/login", map[string]string{
		"username": c.creds.Username,
		"password": c.creds.Password,
	}, &resp, false)
	if err != nil {
		return err
	}
	if resp.Token == "" {
		return errors.New("replication: login returned no token")
	}
	c.token = resp.Token
	return nil
}

// Pull fetches every remote change with a client timestamp received after
// since (ms since epoch, server clock).
func (c *Client) Pull(ctx context.Context, since int64) (*PullResponse, error) {
	var resp PullResponse
	err := c.authed(ctx, "/api/sync/pull", map[string]int64{"since_ms": since}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Push uploads local changes; the server applies last-write-wins and reports
// how many documents it accepted.
func (c *Client) Push(ctx context.Context, docs []SyncDoc) (int, error) {
	var resp struct {
		Applied int `json:"applied"`
	}
	err := c.authed(ctx, "/api/sync/push", map[string]interface{}{"docs": docs}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Applied, nil
}

// authed posts with the bearer token, re-logging-in once on 401.
func (c *Client) authed(ctx context.Context, path string, body, out interface{}) error {
	if c.token == "" {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}
	err := c.post(ctx, path, body, out, true)
	if errors.Is(err, errUnauthorized) {
		c.token = ""
		if err := c.Login(ctx); err != nil {
			return err
		}
		err = c.post(ctx, path, body, out, true)
	}
	return err
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}, auth bool) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("replication: %s returned %d: %s", path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
