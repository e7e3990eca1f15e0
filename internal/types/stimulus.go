package types

// Step types for flow screens.
const (
	StepMandatory = "MANDATORY"
	StepOptional  = "OPTIONAL"
)

// Ad is an advertising creative presented to personas.
type Ad struct {
	AdID        string `json:"ad_id" yaml:"ad_id"`
	Name        string `json:"name" yaml:"name"`
	Copy        string `json:"copy" yaml:"copy"`
	ImagePath   string `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	ImageURL    string `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Screen is a single view within a product flow. ViewNumber is 1-based and
// fixes the step order; personas cannot visit screens out of order.
type Screen struct {
	ViewID      string `json:"view_id" yaml:"view_id"`
	ViewNumber  int    `json:"view_number" yaml:"view_number"`
	ViewName    string `json:"view_name" yaml:"view_name"`
	ImagePath   string `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	StepType    string `json:"step_type" yaml:"step_type"` // MANDATORY | OPTIONAL
}

// Flow is an ordered sequence of screens shown to a persona in order.
type Flow struct {
	FlowID   string   `json:"flow_id" yaml:"flow_id"`
	FlowName string   `json:"flow_name" yaml:"flow_name"`
	Screens  []Screen `json:"screens" yaml:"screens"`
}

// VisualAnchor is the stimulus-level visual grounding produced once per ad
// by the expensive tier and reused by every cheap-tier call. ScamIndicators
// is "None detected" when the analysis found no red flags.
type VisualAnchor struct {
	AdID            string `json:"ad_id"`
	TrustSignals    string `json:"trust_signals"`
	VisualQuality   string `json:"visual_quality"`
	ColorPsychology string `json:"color_psychology"`
	BrandPerception string `json:"brand_perception"`
	ScamIndicators  string `json:"scam_indicators"`
}

// HasScamIndicators reports whether the anchor flagged any red flags.
func (a VisualAnchor) HasScamIndicators() bool {
	return a.ScamIndicators != "" && a.ScamIndicators != "None detected" &&
		a.ScamIndicators != "Unable to assess" && a.ScamIndicators != "Not analyzed"
}
