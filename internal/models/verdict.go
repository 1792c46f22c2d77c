package models

// VerdictReason explains why the moderation step produced its outcome.
type VerdictReason string

const (
	ReasonNone VerdictReason = "none"
	// ReasonUnsafeText means the classifier flagged the content.
	ReasonUnsafeText VerdictReason = "unsafe_content"
	// ReasonServiceFallback marks a fail-open approval issued because the
	// classifier was unreachable. It must stay distinguishable from a normal
	// approval in logs and metrics.
	ReasonServiceFallback VerdictReason = "service-unavailable-fallback"
)

// Verdict is the moderation outcome for one piece of content. It is produced
// per message, consumed once, and never stored here.
type Verdict struct {
	Blocked    bool          `json:"blocked"`
	Reason     VerdictReason `json:"reason"`
	Confidence float64       `json:"confidence,omitempty"`
}
