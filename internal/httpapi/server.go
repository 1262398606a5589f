package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"facegate/internal/manager"
	"facegate/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Verify(ctx context.Context, req types.VerifyRequest) manager.Outcome
	Register(ctx context.Context, req types.RegisterRequest) manager.Outcome
	VerifyVoter(ctx context.Context, req types.VotingRequest) manager.Outcome
	// RejectInput records a request that failed before reaching op.
	RejectInput(ctx context.Context, op, reason, msg string) manager.Outcome
	Health(ctx context.Context) (types.HealthResponse, bool)
	Status(ctx context.Context) types.StatusResponse
	Ready() bool
	ResetWarmup() bool
}

type server struct {
	svc Service
}

// NewMux builds the router with middlewares and all routes.
func NewMux(svc Service) http.Handler {
	s := &server{svc: svc}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", "Authorization", "X-Request-Id"}),
			ExposedHeaders: []string{"Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Get("/", s.health)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("warming up"))
	})
	r.Get("/status", s.status)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Post("/admin/warmup/reset", s.resetWarmup)

	r.Group(func(r chi.Router) {
		if rateRPS > 0 {
			store := newLimiterStore(rateRPS, rateBurst)
			store.startJanitor(serverBaseCtx, 2*time.Minute)
			r.Use(rateLimitMiddleware(store))
		}
		r.Post("/verify", s.verify)
		r.Post("/register", s.register)
		r.Post("/verify-voting", s.verifyVoting)
	})

	MountSwagger(r)
	return r
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

// requestError is a request-decoding failure with its own status.
type requestError struct {
	status int
	reason string
	msg    string
}

func (e requestError) Error() string   { return e.msg }
func (e requestError) StatusCode() int { return e.status }

// decodeJSON enforces content type and body size, then decodes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return requestError{http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json"}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return requestError{http.StatusRequestEntityTooLarge, "body_too_large", "request body too large"}
		}
		return requestError{http.StatusBadRequest, "invalid_json", "invalid JSON body"}
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, err error) int {
	status, reason := decodeFailure(err)
	writeJSONError(w, status, reason, err.Error())
	return status
}

func decodeFailure(err error) (status int, reason string) {
	var re requestError
	if errors.As(err, &re) {
		return re.status, re.reason
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), "bad_request"
	}
	return http.StatusBadRequest, "bad_request"
}

// reject passes an undecodable request through the pipeline as a client
// error so it is checked and recorded like any other, keeping its status.
func (s *server) reject(w http.ResponseWriter, r *http.Request, op string, err error) {
	_, reason := decodeFailure(err)
	s.respond(w, r, op, func(ctx context.Context) manager.Outcome {
		return s.svc.RejectInput(ctx, op, reason, err.Error())
	}, func(w http.ResponseWriter, _ manager.Outcome) int {
		return writeDecodeError(w, err)
	})
}

// serve runs one pipeline-backed operation and writes its outcome.
func (s *server) serve(w http.ResponseWriter, r *http.Request, op string, run func(ctx context.Context) manager.Outcome) {
	s.respond(w, r, op, run, writeOutcome)
}

func (s *server) respond(w http.ResponseWriter, r *http.Request, op string, run func(ctx context.Context) manager.Outcome, write func(http.ResponseWriter, manager.Outcome) int) {
	start := time.Now()
	lvl := requestLogLevel(r)
	rid := middleware.GetReqID(r.Context())
	if lvl >= LevelDebug {
		zlog.Debug().Str("op", op).Str("request_id", rid).Msg("request start")
	}
	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	out := run(ctx)
	if r.Context().Err() != nil {
		// client went away; nothing to write
		return
	}
	status := write(w, out)
	if shouldLog(lvl, status) {
		ev := zlog.Info()
		if status >= 500 {
			ev = zlog.Error()
		}
		ev.Str("op", op).Str("request_id", rid).Int("status", status).
			Str("outcome", string(out.Kind)).Str("reason", out.Reason).
			Dur("dur", time.Since(start)).Msg("request end")
	}
}

// verify godoc
// @Summary      Verify two faces
// @Description  Compares a captured image with a registered image (base64 or URL) across the model ensemble.
// @Description  A completed comparison below the match threshold is 200 with success=false and verified=false; it is never 401.
// @Tags         verification
// @Accept       json
// @Produce      json
// @Param        request  body      types.VerifyRequest  true  "Images to compare"
// @Success      200      {object}  types.VerifyResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      500      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Failure      504      {object}  types.ErrorResponse
// @Router       /verify [post]
func (s *server) verify(w http.ResponseWriter, r *http.Request) {
	var req types.VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.reject(w, r, "verify", err)
		return
	}
	s.serve(w, r, "verify", func(ctx context.Context) manager.Outcome { return s.svc.Verify(ctx, req) })
}

// register godoc
// @Summary      Register a face
// @Description  Checks that a face image is usable for later verification.
// @Tags         verification
// @Accept       json
// @Produce      json
// @Param        request  body      types.RegisterRequest  true  "Face to register"
// @Success      200      {object}  types.RegisterResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /register [post]
func (s *server) register(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.reject(w, r, "register", err)
		return
	}
	s.serve(w, r, "register", func(ctx context.Context) manager.Outcome { return s.svc.Register(ctx, req) })
}

// verifyVoting godoc
// @Summary      Identify a voter
// @Description  Compares a capture with the voter's registered face and stores the capture on a match.
// @Tags         verification
// @Accept       json
// @Produce      json
// @Param        request  body      types.VotingRequest  true  "Capture and voter id"
// @Success      200      {object}  types.VotingResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      500      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Failure      504      {object}  types.ErrorResponse
// @Router       /verify-voting [post]
func (s *server) verifyVoting(w http.ResponseWriter, r *http.Request) {
	var req types.VotingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.reject(w, r, "verify_voting", err)
		return
	}
	s.serve(w, r, "verify_voting", func(ctx context.Context) manager.Outcome { return s.svc.VerifyVoter(ctx, req) })
}

// health godoc
// @Summary      Health check
// @Description  Re-checks comparator warm-up; 503 until it is ready.
// @Tags         ops
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Failure      503  {object}  types.HealthResponse
// @Router       / [get]
func (s *server) health(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.svc.Health(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// status godoc
// @Summary      Admission status
// @Tags         ops
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (s *server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status(r.Context()))
}

// resetWarmup godoc
// @Summary      Re-arm a failed warm-up
// @Tags         ops
// @Produce      json
// @Success      200  {object}  map[string]bool
// @Router       /admin/warmup/reset [post]
func (s *server) resetWarmup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"reset": s.svc.ResetWarmup()})
}
