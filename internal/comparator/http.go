package comparator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPConfig configures a sidecar-backed comparator.
type HTTPConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// HTTP talks to an inference sidecar exposing POST /verify.
type HTTP struct {
	baseURL    string
	apiKey     string
	reqTimeout time.Duration
	client     *http.Client
}

type verifyRequest struct {
	Img1             string `json:"img1_path"`
	Img2             string `json:"img2_path"`
	ModelName        string `json:"model_name,omitempty"`
	DetectorBackend  string `json:"detector_backend,omitempty"`
	DistanceMetric   string `json:"distance_metric,omitempty"`
	EnforceDetection bool   `json:"enforce_detection"`
	Align            bool   `json:"align"`
}

type verifyResponse struct {
	Verified  bool     `json:"verified"`
	Distance  *float64 `json:"distance"`
	Threshold float64  `json:"threshold"`
	Model     string   `json:"model"`
	Error     string   `json:"error"`
}

// NewHTTP constructs the client. Requests carry their deadline via context;
// the http.Client itself has no timeout.
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &HTTP{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		reqTimeout: cfg.Timeout,
		client:     &http.Client{Transport: tr},
	}
}

func (h *HTTP) Compare(ctx context.Context, a, b []byte, opts Options) (Result, error) {
	if h.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.reqTimeout)
		defer cancel()
	}
	payload := verifyRequest{
		Img1:             dataURI(a),
		Img2:             dataURI(b),
		ModelName:        opts.Model,
		DetectorBackend:  opts.Detector,
		DistanceMetric:   opts.Metric,
		EnforceDetection: opts.EnforceDetection,
		Align:            opts.Align,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("comparator request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("comparator read: %w", err)
	}
	var out verifyResponse
	decodeErr := json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return Result{}, &InputError{Reason: inputReason(msg), Msg: msg}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Result{}, errors.New("comparator http error: " + resp.Status + ": " + truncate(string(raw), 512))
	}
	if decodeErr != nil {
		return Result{}, &ResponseError{Msg: "undecodable verdict: " + truncate(string(raw), 256), Err: decodeErr}
	}
	if out.Error != "" {
		return Result{}, errors.New("comparator error: " + out.Error)
	}
	if out.Distance == nil {
		return Result{}, &ResponseError{Msg: "verdict has no distance"}
	}
	model := out.Model
	if model == "" {
		model = opts.Model
	}
	return Result{Distance: *out.Distance, Threshold: out.Threshold, Verified: out.Verified, Model: model}, nil
}

// Ping checks the sidecar answers on its root route.
func (h *HTTP) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("comparator ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 500 {
		return errors.New("comparator ping: " + resp.Status)
	}
	return nil
}

func dataURI(b []byte) string {
	return "data:" + http.DetectContentType(b) + ";base64," + base64.StdEncoding.EncodeToString(b)
}

func inputReason(msg string) string {
	if strings.Contains(strings.ToLower(msg), "face could not be detected") {
		return "face_not_detected"
	}
	return "invalid_image"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
