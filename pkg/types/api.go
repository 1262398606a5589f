package types

// VerifyRequest is the payload for POST /verify.
type VerifyRequest struct {
	// Captured image as base64 (a data URL prefix is accepted).
	// example: data:image/jpeg;base64,/9j/4AAQ...
	Image1 string `json:"image1" example:"data:image/jpeg;base64,/9j/4AAQ..."`
	// Registered image, either base64 or an http(s) URL.
	// example: https://res.cloudinary.com/demo/image/upload/face.jpg
	Image2 string `json:"image2" example:"https://res.cloudinary.com/demo/image/upload/face.jpg"`
}

// VerifyResponse is returned by POST /verify when the comparison ran.
type VerifyResponse struct {
	// True when the averaged similarity reached the match threshold.
	Success bool `json:"success"`
	// Same as Success; kept explicit for clients that branch on it.
	Verified bool `json:"verified"`
	// Averaged similarity across models (0..1).
	// example: 0.87
	MatchPercentage float64 `json:"matchPercentage" example:"0.87"`
	// Confidence grade of the similarity.
	// example: VERY_HIGH
	ConfidenceLevel ConfidenceLevel `json:"confidenceLevel" example:"VERY_HIGH"`
	// Per-model similarity scores.
	ModelResults map[string]float64 `json:"modelResults"`
	// Reserved for client guidance; currently always empty.
	Recommendations []string `json:"recommendations"`
	// Set when the images did not match.
	Error string `json:"error,omitempty"`
}

// RegisterRequest is the payload for POST /register.
type RegisterRequest struct {
	// example: 64f1c2a9e1
	UserID string `json:"userId" example:"64f1c2a9e1"`
	// Face image as base64 (a data URL prefix is accepted).
	FaceImage string `json:"faceImage"`
}

// RegisterResponse is returned by POST /register.
type RegisterResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	UserID   string `json:"userId"`
	Verified bool   `json:"verified"`
}

// VotingRequest is the payload for POST /verify-voting.
type VotingRequest struct {
	// Captured face image as base64.
	Image string `json:"image"`
	// Directory identifier of the voter.
	// example: 64f1c2a9e1
	VoterID string `json:"voterId" example:"64f1c2a9e1"`
}

// VotingResponse is returned by POST /verify-voting.
type VotingResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Match strength above the threshold scaled to 0..100.
	// example: 64.2
	MatchPercentage float64 `json:"matchPercentage" example:"64.2"`
	// Directory record of the voter (only on success).
	Voter map[string]any `json:"voter,omitempty"`
	// Hosted evidence image (only on success).
	ImageURL string `json:"imageUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Always false for errors.
	Success bool `json:"success"`
	// Error message.
	// example: server busy, retry later
	Error string `json:"error" example:"server busy, retry later"`
	// Machine-readable reason code.
	// example: busy
	Reason string `json:"reason" example:"busy"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}

// HealthResponse is returned by GET /.
type HealthResponse struct {
	// example: healthy
	Status  string `json:"status" example:"healthy"`
	Service string `json:"service" example:"face-verification"`
	Version string `json:"version" example:"1.0.0"`
	// example: ready
	Warmup    string `json:"warmup" example:"ready"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GateStatus summarizes the admission gate.
type GateStatus struct {
	// example: 1
	Capacity int `json:"capacity" example:"1"`
	// example: 1
	InUse int `json:"in_use" example:"1"`
	// Requests blocked waiting for a slot.
	// example: 0
	Waiting int `json:"waiting" example:"0"`
	// example: 30
	WaitSeconds float64 `json:"wait_seconds" example:"30"`
}

// DispatcherStatus summarizes the worker pool.
type DispatcherStatus struct {
	Workers         int     `json:"workers"`
	Busy            int     `json:"busy"`
	Abandoned       int     `json:"abandoned"`
	Completed       uint64  `json:"completed_total"`
	Failed          uint64  `json:"failed_total"`
	TimedOut        uint64  `json:"timed_out_total"`
	Refreshes       uint64  `json:"refreshes_total"`
	DeadlineSeconds float64 `json:"deadline_seconds"`
}

// WarmupStatus summarizes the warm-up state machine.
type WarmupStatus struct {
	// example: ready
	State     string `json:"state" example:"ready"`
	Attempts  int64  `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	ReadyUnix int64  `json:"ready_unix,omitempty"`
}

// MemoryStatus summarizes the resource monitor.
type MemoryStatus struct {
	RSSBytes       uint64 `json:"rss_bytes"`
	HeapBytes      uint64 `json:"heap_bytes"`
	ThresholdBytes uint64 `json:"threshold_bytes"`
	Checks         uint64 `json:"checks_total"`
	Reclaims       uint64 `json:"reclaims_total"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Gate       GateStatus       `json:"gate"`
	Dispatcher DispatcherStatus `json:"dispatcher"`
	Warmup     WarmupStatus     `json:"warmup"`
	Memory     MemoryStatus     `json:"memory"`
	// Recorded request outcomes keyed by "<op>:<kind>".
	Outcomes map[string]int64 `json:"outcomes,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
