package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"facegate/internal/comparator"
	"facegate/internal/imaging"
	"facegate/pkg/types"
)

// VoterDirectory resolves voter records.
type VoterDirectory interface {
	GetUser(ctx context.Context, id string) (types.Voter, error)
}

// EvidenceHost stores a matched capture and returns its public URL.
type EvidenceHost interface {
	Upload(ctx context.Context, jpeg []byte) (string, error)
}

// ReferenceSource downloads reference images by URL.
type ReferenceSource interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Manager owns the admission pipeline and exposes the verification
// operations served over HTTP.
type Manager struct {
	cfg       ManagerConfig
	cmp       comparator.Comparator
	ensemble  *comparator.Ensemble
	warmup    *Warmup
	pipe      *Pipeline
	log       zerolog.Logger
	startTime time.Time
}

// New builds a Manager with default admission settings.
func New(c comparator.Comparator) *Manager {
	return NewWithConfig(ManagerConfig{Comparator: c})
}

// Ready reports whether the comparator has been warmed up.
func (m *Manager) Ready() bool { return m.warmup.State() == WarmupReady }

// Warmup runs (or joins) comparator initialization, waiting up to ctx.
func (m *Manager) Warmup(ctx context.Context) error { return m.warmup.EnsureReady(ctx) }

// ResetWarmup re-arms a failed warm-up.
func (m *Manager) ResetWarmup() bool {
	ok := m.warmup.Reset()
	if ok {
		m.log.Info().Msg("warmup reset")
	}
	return ok
}

// Pipeline exposes the admission pipeline.
func (m *Manager) Pipeline() *Pipeline { return m.pipe }

// Close stops the dispatcher, waiting for in-flight jobs or ctx.
func (m *Manager) Close(ctx context.Context) error {
	return m.pipe.Dispatcher().Stop(ctx)
}

// initComparator exercises every configured model once on a synthetic image
// so the backend loads its weights before real traffic arrives.
func (m *Manager) initComparator(ctx context.Context) error {
	if m.cmp == nil {
		return ErrDependencyUnavailable("no comparator configured")
	}
	if p, ok := m.cmp.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	img := imaging.SyntheticJPEG(64)
	for _, model := range m.ensemble.Models() {
		opts := comparator.DefaultOptions(model)
		opts.EnforceDetection = false
		if _, err := m.cmp.Compare(ctx, img, img, opts); err != nil {
			return fmt.Errorf("warm up %s: %w", model, err)
		}
	}
	return nil
}

func (m *Manager) primaryModel() string { return m.ensemble.Models()[0] }

// prepareCapture decodes a base64 capture and applies the quality gate.
func (m *Manager) prepareCapture(label, b64 string) (*imaging.Prepared, error) {
	p, err := imaging.PrepareBase64(b64)
	if err != nil {
		return nil, fmt.Errorf("processing %s: %w", label, err)
	}
	if m.cfg.QualityCheck {
		if _, err := imaging.CheckQuality(p.Image); err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
	}
	return p, nil
}

// prepareReference accepts base64 or an http(s) URL.
func (m *Manager) prepareReference(ctx context.Context, label, src string) (*imaging.Prepared, error) {
	if !strings.HasPrefix(src, "http") {
		p, err := imaging.PrepareBase64(src)
		if err != nil {
			return nil, fmt.Errorf("processing %s: %w", label, err)
		}
		return p, nil
	}
	if m.cfg.References == nil {
		return nil, ErrDependencyUnavailable("reference downloads not configured")
	}
	raw, err := m.cfg.References.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	p, err := imaging.Prepare(raw)
	if err != nil {
		return nil, fmt.Errorf("processing %s: %w", label, err)
	}
	return p, nil
}

// Verify compares image1 with image2 across the model ensemble.
func (m *Manager) Verify(ctx context.Context, req types.VerifyRequest) Outcome {
	return m.pipe.Run(ctx, "verify", func(ctx context.Context, infer InferFunc) (any, error) {
		if strings.TrimSpace(req.Image1) == "" || strings.TrimSpace(req.Image2) == "" {
			return nil, ErrClient("missing_image", "Both images are required")
		}
		captured, err := m.prepareCapture("captured image", req.Image1)
		if err != nil {
			return nil, err
		}
		registered, err := m.prepareReference(ctx, "registered image", req.Image2)
		if err != nil {
			return nil, err
		}
		v, err := infer(ctx, func(ctx context.Context) (any, error) {
			return m.ensemble.Compare(ctx, captured.JPEG, registered.JPEG)
		})
		if err != nil {
			return nil, err
		}
		res := v.(comparator.EnsembleResult)
		matched := res.Similarity >= m.cfg.MatchThreshold
		resp := types.VerifyResponse{
			Success:         matched,
			Verified:        matched,
			MatchPercentage: res.Similarity,
			ConfidenceLevel: types.Grade(res.Similarity),
			ModelResults:    res.ByModel(),
			Recommendations: []string{},
		}
		if !matched {
			resp.Error = "Face verification failed: Insufficient similarity"
		}
		return resp, nil
	})
}

// Register checks that a face image is usable by comparing it with itself
// with detection enforced.
func (m *Manager) Register(ctx context.Context, req types.RegisterRequest) Outcome {
	return m.pipe.Run(ctx, "register", func(ctx context.Context, infer InferFunc) (any, error) {
		if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.FaceImage) == "" {
			return nil, ErrClient("missing_fields", "User ID and face image are required")
		}
		face, err := m.prepareCapture("image", req.FaceImage)
		if err != nil {
			return nil, err
		}
		_, err = infer(ctx, func(ctx context.Context) (any, error) {
			return m.cmp.Compare(ctx, face.JPEG, face.JPEG, comparator.DefaultOptions(m.primaryModel()))
		})
		if err != nil {
			return nil, err
		}
		return types.RegisterResponse{
			Success:  true,
			Message:  "Face registered successfully",
			UserID:   req.UserID,
			Verified: true,
		}, nil
	})
}

// RejectInput runs a request that could not be decoded through the pipeline
// as a client error, so it gets the same resource checks and recording.
func (m *Manager) RejectInput(ctx context.Context, op, reason, msg string) Outcome {
	return m.pipe.Run(ctx, op, func(context.Context, InferFunc) (any, error) {
		return nil, ErrClient(reason, msg)
	})
}

// MatchPercentage rescales similarity above threshold onto 0..100.
func MatchPercentage(similarity, threshold float64) float64 {
	if threshold >= 1 {
		return 0
	}
	p := (similarity - threshold) * 100 / (1 - threshold)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// VerifyVoter compares a capture with the voter's registered face and, on
// a match, stores the capture as evidence.
func (m *Manager) VerifyVoter(ctx context.Context, req types.VotingRequest) Outcome {
	return m.pipe.Run(ctx, "verify_voting", func(ctx context.Context, infer InferFunc) (any, error) {
		if strings.TrimSpace(req.Image) == "" || strings.TrimSpace(req.VoterID) == "" {
			return nil, ErrClient("missing_fields", "Image and voter ID are required")
		}
		if m.cfg.Directory == nil {
			return nil, ErrDependencyUnavailable("voter directory not configured")
		}
		captured, err := m.prepareCapture("captured image", req.Image)
		if err != nil {
			return nil, err
		}
		voter, err := m.cfg.Directory.GetUser(ctx, req.VoterID)
		if err != nil {
			return nil, err
		}
		registered, err := m.prepareReference(ctx, "registered face image", voter.FaceImageURL)
		if err != nil {
			return nil, err
		}
		v, err := infer(ctx, func(ctx context.Context) (any, error) {
			return m.cmp.Compare(ctx, captured.JPEG, registered.JPEG, comparator.DefaultOptions(m.primaryModel()))
		})
		if err != nil {
			return nil, err
		}
		sim := v.(comparator.Result).Similarity()
		pct := MatchPercentage(sim, m.cfg.MatchThreshold)
		if sim <= m.cfg.MatchThreshold {
			return types.VotingResponse{
				Success:         false,
				Message:         "Face does not match registered face",
				MatchPercentage: pct,
				Error:           "Face verification failed",
			}, nil
		}
		if m.cfg.ImageHost == nil {
			return nil, ErrServer("evidence_upload_failed", errors.New("image host not configured"))
		}
		url, err := m.cfg.ImageHost.Upload(ctx, captured.JPEG)
		if err != nil {
			return nil, ErrServer("evidence_upload_failed", fmt.Errorf("upload verification image: %w", err))
		}
		m.log.Info().Str("voter_id", voter.ID).Float64("match", pct).Msg("voter identified")
		return types.VotingResponse{
			Success:         true,
			Message:         "Face identified successfully",
			MatchPercentage: pct,
			Voter:           voter.Data,
			ImageURL:        url,
		}, nil
	})
}

// Health re-checks warm-up, starting it if needed, and reports whether the
// service can take traffic.
func (m *Manager) Health(ctx context.Context) (types.HealthResponse, bool) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.HealthWait)
	defer cancel()
	resp := types.HealthResponse{Service: "face-verification", Version: Version}
	err := m.warmup.EnsureReady(ctx)
	resp.Warmup = m.warmup.State().String()
	if err != nil {
		resp.Status = "unhealthy"
		resp.Error = "Models not initialized: " + err.Error()
		return resp, false
	}
	resp.Status = "healthy"
	resp.Timestamp = time.Now().Format(time.RFC3339)
	return resp, true
}
