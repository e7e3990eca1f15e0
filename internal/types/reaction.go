package types

// Ad reaction actions.
const (
	ActionClick  = "CLICK"
	ActionIgnore = "IGNORE"
	ActionReport = "REPORT"
)

// Flow step decisions.
const (
	DecisionContinue = "CONTINUE"
	DecisionDropOff  = "DROP_OFF"
)

// Intent levels.
const (
	IntentHigh   = "High"
	IntentMedium = "Medium"
	IntentLow    = "Low"
	IntentNone   = "None"
)

// AdReaction is one persona's structured judgment of one ad. Reasoning
// carries the dual-process narrative as "[Gut] ... | [Audit] ... | [Decision] ..."
// segments, assembled at parse time.
type AdReaction struct {
	PersonaUUID       string   `json:"persona_uuid"`
	AdID              string   `json:"ad_id"`
	TrustScore        int      `json:"trust_score"`     // 0-10, post-audit
	RelevanceScore    int      `json:"relevance_score"` // 0-10
	Action            string   `json:"action"`          // CLICK | IGNORE | REPORT
	IntentLevel       string   `json:"intent_level"`    // High | Medium | Low | None
	Reasoning         string   `json:"reasoning"`
	EmotionalResponse string   `json:"emotional_response"`
	Barriers          []string `json:"barriers,omitempty"`
}

// ScreenDecision is one persona's judgment at one screen of a flow.
type ScreenDecision struct {
	PersonaUUID          string   `json:"persona_uuid"`
	FlowID               string   `json:"flow_id"`
	ViewID               string   `json:"view_id"`
	ViewNumber           int      `json:"view_number"`
	StepType             string   `json:"step_type"` // MANDATORY | OPTIONAL
	Decision             string   `json:"decision"`  // CONTINUE | DROP_OFF
	Reasoning            string   `json:"reasoning"`
	DropOffReason        string   `json:"drop_off_reason,omitempty"`
	TrustScore           int      `json:"trust_score"`
	ClarityScore         int      `json:"clarity_score"`
	ValuePerceptionScore int      `json:"value_perception_score"`
	EmotionalState       string   `json:"emotional_state"`
	FrictionPoints       []string `json:"friction_points,omitempty"`
	TimeSpentSeconds     int      `json:"time_spent_seconds"`
}

// Journey is the ordered trace of one persona through one flow variant.
// Completed is true only when the final screen was reached without DROP_OFF.
type Journey struct {
	PersonaUUID      string           `json:"persona_uuid"`
	FlowID           string           `json:"flow_id"`
	TotalScreensSeen int              `json:"total_screens_seen"`
	Completed        bool             `json:"completed_flow"`
	DroppedOffAtView int              `json:"dropped_off_at_view,omitempty"` // 0 when completed
	DropOffReason    string           `json:"drop_off_reason,omitempty"`
	Decisions        []ScreenDecision `json:"decisions"`
	TotalTimeSeconds int              `json:"total_time_seconds"`
}

// Verdict is the validator's judgment of a single reaction. Flags name the
// rule that fired plus the fields it inspected, so a flagged reaction is
// auditable in the final report. The validator never mutates the reaction.
type Verdict struct {
	Valid bool     `json:"valid"`
	Flags []string `json:"flags,omitempty"`
}

// ValidationSummary aggregates verdicts over a batch of reactions.
type ValidationSummary struct {
	Total             int     `json:"total"`
	Valid             int     `json:"valid"`
	Flagged           int     `json:"flagged"`
	FlaggedPercentage float64 `json:"flagged_percentage"`
}
