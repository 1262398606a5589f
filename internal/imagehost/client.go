// Package imagehost uploads verification evidence to a Cloudinary-style
// image host and returns the hosted URL.
package imagehost

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.cloudinary.com/v1_1"

// ErrNotConfigured is returned when no cloud name is set.
var ErrNotConfigured = errors.New("image host not configured")

// Config configures Client. APISecret is optional; when set, uploads are
// signed.
type Config struct {
	BaseURL   string
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	Timeout   time.Duration
	Client    *http.Client
}

type Client struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Folder == "" {
		cfg.Folder = "face-verification"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &Client{cfg: cfg, now: time.Now}
}

// Configured reports whether uploads can be attempted.
func (c *Client) Configured() bool { return c.cfg.CloudName != "" }

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload posts jpeg as a data URI and returns the secure URL.
func (c *Client) Upload(ctx context.Context, jpeg []byte) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	ts := strconv.FormatInt(c.now().Unix(), 10)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := [][2]string{
		{"file", "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)},
		{"api_key", c.cfg.APIKey},
		{"timestamp", ts},
		{"folder", c.cfg.Folder},
	}
	if c.cfg.APISecret != "" {
		fields = append(fields, [2]string{"signature", sign(c.cfg.Folder, ts, c.cfg.APISecret)})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	url := fmt.Sprintf("%s/%s/image/upload", c.cfg.BaseURL, c.cfg.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("image upload: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out uploadResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if out.Error != nil && out.Error.Message != "" {
			msg += ": " + out.Error.Message
		}
		return "", errors.New("image upload failed: " + msg)
	}
	if out.SecureURL == "" {
		return "", errors.New("image upload: response has no secure_url")
	}
	return out.SecureURL, nil
}

// sign follows the host's scheme: sha1 over the sorted params plus secret.
func sign(folder, ts, secret string) string {
	sum := sha1.Sum([]byte("folder=" + folder + "&timestamp=" + ts + secret))
	return hex.EncodeToString(sum[:])
}
