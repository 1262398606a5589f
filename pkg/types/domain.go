package types

// ConfidenceLevel grades an ensemble similarity score.
type ConfidenceLevel string

const (
	ConfidenceVeryHigh ConfidenceLevel = "VERY_HIGH"
	ConfidenceHigh     ConfidenceLevel = "HIGH"
	ConfidenceMedium   ConfidenceLevel = "MEDIUM"
	ConfidenceNone     ConfidenceLevel = "NONE"
)

// Similarity thresholds for confidence grading.
const (
	VeryHighConfidence = 0.85
	HighConfidence     = 0.80
	MediumConfidence   = 0.75
)

// Grade maps an averaged similarity onto a confidence level.
func Grade(similarity float64) ConfidenceLevel {
	switch {
	case similarity >= VeryHighConfidence:
		return ConfidenceVeryHigh
	case similarity >= HighConfidence:
		return ConfidenceHigh
	case similarity >= MediumConfidence:
		return ConfidenceMedium
	default:
		return ConfidenceNone
	}
}

// Voter is a user record returned by the backend directory.
type Voter struct {
	// Identifier the record was requested with.
	ID string `json:"id"`
	// URL of the registered reference face image.
	FaceImageURL string `json:"faceImageUrl"`
	// Full record as returned by the directory, echoed back to callers.
	Data map[string]any `json:"-"`
}
