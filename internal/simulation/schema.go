package simulation

// Response schemas passed to the model via structured output. Kept shallow
// so schema-strict models accept them.

const anchorSchema = `{
  "type": "object",
  "properties": {
    "trust_signals": {"type": "string"},
    "visual_quality": {"type": "string"},
    "color_psychology": {"type": "string"},
    "brand_perception": {"type": "string"},
    "scam_indicators": {"type": "string"}
  },
  "required": ["trust_signals", "visual_quality", "color_psychology", "brand_perception", "scam_indicators"]
}`

const tier1ReactionSchema = `{
  "type": "object",
  "properties": {
    "system1_gut_reaction": {"type": "string"},
    "system2_critical_audit": {"type": "string"},
    "identity_anchors": {"type": "array", "items": {"type": "string"}},
    "friction_points": {"type": "array", "items": {"type": "string"}},
    "social_pressure": {"type": "string"},
    "final_trust_score": {"type": "integer"},
    "final_relevance_score": {"type": "integer"},
    "final_action": {"type": "string", "enum": ["CLICK", "IGNORE", "REPORT"]},
    "intent_level": {"type": "string", "enum": ["High", "Medium", "Low", "None"]},
    "reasoning": {"type": "string"},
    "emotional_response": {"type": "string"},
    "primary_barrier": {"type": "string"}
  },
  "required": ["system1_gut_reaction", "system2_critical_audit", "final_trust_score", "final_relevance_score", "final_action", "intent_level", "reasoning", "emotional_response"]
}`

const tier2ReactionSchema = `{
  "type": "object",
  "properties": {
    "gut_reaction": {"type": "string"},
    "critical_audit": {"type": "string"},
    "constraint_hits": {"type": "array", "items": {"type": "string"}},
    "trust_score": {"type": "integer"},
    "relevance_score": {"type": "integer"},
    "action": {"type": "string", "enum": ["CLICK", "IGNORE", "REPORT"]},
    "intent_level": {"type": "string", "enum": ["High", "Medium", "Low", "None"]},
    "reasoning": {"type": "string"},
    "emotional_response": {"type": "string"},
    "primary_barrier": {"type": "string"}
  },
  "required": ["gut_reaction", "critical_audit", "trust_score", "relevance_score", "action", "intent_level", "reasoning", "emotional_response"]
}`

const screenAnalysisSchema = `{
  "type": "object",
  "properties": {
    "main_content": {"type": "string"},
    "key_information": {"type": "string"},
    "required_action": {"type": "string"},
    "design_quality": {"type": "string"},
    "friction_points": {"type": "string"}
  },
  "required": ["main_content", "key_information", "required_action", "design_quality", "friction_points"]
}`

const screenDecisionSchema = `{
  "type": "object",
  "properties": {
    "step_type": {"type": "string", "enum": ["MANDATORY", "OPTIONAL"]},
    "decision": {"type": "string", "enum": ["CONTINUE", "DROP_OFF"]},
    "reasoning": {"type": "string"},
    "drop_off_reason": {"type": "string"},
    "trust_score": {"type": "integer"},
    "clarity_score": {"type": "integer"},
    "value_perception_score": {"type": "integer"},
    "emotional_state": {"type": "string"},
    "friction_points": {"type": "array", "items": {"type": "string"}},
    "time_spent_seconds": {"type": "integer"}
  },
  "required": ["decision", "reasoning", "trust_score", "clarity_score", "value_perception_score", "emotional_state", "time_spent_seconds"]
}`

type tier1Response struct {
	System1GutReaction   string   `json:"system1_gut_reaction"`
	System2CriticalAudit string   `json:"system2_critical_audit"`
	IdentityAnchors      []string `json:"identity_anchors"`
	FrictionPoints       []string `json:"friction_points"`
	SocialPressure       string   `json:"social_pressure"`
	FinalTrustScore      int      `json:"final_trust_score"`
	FinalRelevanceScore  int      `json:"final_relevance_score"`
	FinalAction          string   `json:"final_action"`
	IntentLevel          string   `json:"intent_level"`
	Reasoning            string   `json:"reasoning"`
	EmotionalResponse    string   `json:"emotional_response"`
	PrimaryBarrier       string   `json:"primary_barrier"`
}

type tier2Response struct {
	GutReaction       string   `json:"gut_reaction"`
	CriticalAudit     string   `json:"critical_audit"`
	ConstraintHits    []string `json:"constraint_hits"`
	TrustScore        int      `json:"trust_score"`
	RelevanceScore    int      `json:"relevance_score"`
	Action            string   `json:"action"`
	IntentLevel       string   `json:"intent_level"`
	Reasoning         string   `json:"reasoning"`
	EmotionalResponse string   `json:"emotional_response"`
	PrimaryBarrier    string   `json:"primary_barrier"`
}

type anchorResponse struct {
	TrustSignals    string `json:"trust_signals"`
	VisualQuality   string `json:"visual_quality"`
	ColorPsychology string `json:"color_psychology"`
	BrandPerception string `json:"brand_perception"`
	ScamIndicators  string `json:"scam_indicators"`
}

type screenAnalysisResponse struct {
	MainContent    string `json:"main_content"`
	KeyInformation string `json:"key_information"`
	RequiredAction string `json:"required_action"`
	DesignQuality  string `json:"design_quality"`
	FrictionPoints string `json:"friction_points"`
}

type screenDecisionResponse struct {
	StepType             string   `json:"step_type"`
	Decision             string   `json:"decision"`
	Reasoning            string   `json:"reasoning"`
	DropOffReason        string   `json:"drop_off_reason"`
	TrustScore           int      `json:"trust_score"`
	ClarityScore         int      `json:"clarity_score"`
	ValuePerceptionScore int      `json:"value_perception_score"`
	EmotionalState       string   `json:"emotional_state"`
	FrictionPoints       []string `json:"friction_points"`
	TimeSpentSeconds     int      `json:"time_spent_seconds"`
}
