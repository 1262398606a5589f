// Package directory looks up voters in the backend user directory.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"facegate/pkg/types"
)

// Error is a lookup failure attributable to the request (unknown voter,
// missing reference image).
type Error struct {
	Reason string
	Msg    string
	Status int
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) ClientReason() string { return e.Reason }

// Config configures Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	hc      *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		hc:      cfg.Client,
	}
}

// GetUser fetches GET {base}/api/users/{id}.
func (c *Client) GetUser(ctx context.Context, id string) (types.Voter, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.Voter{}, &Error{Reason: "missing_voter_id", Msg: "voter ID is required"}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/users/"+url.PathEscape(id), nil)
	if err != nil {
		return types.Voter{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return types.Voter{}, fmt.Errorf("directory lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return types.Voter{}, &Error{Reason: "voter_lookup_failed", Msg: "Failed to fetch voter data", Status: resp.StatusCode}
	}
	var data map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&data); err != nil {
		return types.Voter{}, fmt.Errorf("directory decode: %w", err)
	}
	v := types.Voter{ID: id, Data: data}
	if s, ok := data["faceImageUrl"].(string); ok {
		v.FaceImageURL = strings.TrimSpace(s)
	}
	if v.FaceImageURL == "" {
		return v, &Error{Reason: "reference_missing", Msg: "Registered face image not found"}
	}
	return v, nil
}
