// Package types defines the shared data model for the simulation pipeline:
// personas, stimuli, reactions, journeys, and validation verdicts.
package types

// Zone classifies a persona's geography.
const (
	ZoneUrban = "Urban"
	ZoneRural = "Rural"
)

// Purchasing power tiers.
const (
	TierHigh = "High"
	TierMid  = "Mid"
	TierLow  = "Low"
)

// Scam vulnerability levels.
const (
	VulnerabilityHigh = "High"
	VulnerabilityLow  = "Low"
)

// Primary devices.
const (
	DeviceAndroid      = "Android"
	DeviceIPhone       = "iPhone"
	DeviceDesktop      = "Desktop"
	DeviceFeaturePhone = "Feature Phone"
)

// RawPersona is a persona record as loaded from a dataset, before
// psychographic enrichment. Narrative fields are optional free text.
type RawPersona struct {
	UUID           string `json:"uuid" yaml:"uuid"`
	Occupation     string `json:"occupation" yaml:"occupation"`
	Sex            string `json:"sex" yaml:"sex"`
	Age            int    `json:"age" yaml:"age"`
	MaritalStatus  string `json:"marital_status,omitempty" yaml:"marital_status,omitempty"`
	EducationLevel string `json:"education_level" yaml:"education_level"`

	State    string `json:"state" yaml:"state"`
	District string `json:"district" yaml:"district"`
	Zone     string `json:"zone" yaml:"zone"` // Urban | Rural

	FirstLanguage  string `json:"first_language" yaml:"first_language"`
	SecondLanguage string `json:"second_language,omitempty" yaml:"second_language,omitempty"`

	// Rich narrative fields. These carry most of the signal for the
	// simulation prompts when present.
	ProfessionalPersona     string `json:"professional_persona,omitempty" yaml:"professional_persona,omitempty"`
	CulturalBackground      string `json:"cultural_background,omitempty" yaml:"cultural_background,omitempty"`
	LinguisticPersona       string `json:"linguistic_persona,omitempty" yaml:"linguistic_persona,omitempty"`
	HobbiesAndInterests     string `json:"hobbies_and_interests,omitempty" yaml:"hobbies_and_interests,omitempty"`
	SkillsAndExpertise      string `json:"skills_and_expertise,omitempty" yaml:"skills_and_expertise,omitempty"`
	CareerGoalsAndAmbitions string `json:"career_goals_and_ambitions,omitempty" yaml:"career_goals_and_ambitions,omitempty"`
	SportsPersona           string `json:"sports_persona,omitempty" yaml:"sports_persona,omitempty"`
	ArtsPersona             string `json:"arts_persona,omitempty" yaml:"arts_persona,omitempty"`
	TravelPersona           string `json:"travel_persona,omitempty" yaml:"travel_persona,omitempty"`
	CulinaryPersona         string `json:"culinary_persona,omitempty" yaml:"culinary_persona,omitempty"`
}

// Persona is a hydrated, simulation-ready persona. Demographic fields are
// copied verbatim from the RawPersona; enrichment only adds psychographic
// fields. Immutable once created for a run; the UUID is the join key for
// every reaction and journey the persona produces.
type Persona struct {
	UUID           string `json:"uuid"`
	Occupation     string `json:"occupation"`
	State          string `json:"state"`
	District       string `json:"district"`
	Zone           string `json:"zone"`
	Age            int    `json:"age"`
	Sex            string `json:"sex"`
	EducationLevel string `json:"education_level"`
	FirstLanguage  string `json:"first_language"`

	ProfessionalPersona     string `json:"professional_persona,omitempty"`
	CulturalBackground      string `json:"cultural_background,omitempty"`
	LinguisticPersona       string `json:"linguistic_persona,omitempty"`
	HobbiesAndInterests     string `json:"hobbies_and_interests,omitempty"`
	SkillsAndExpertise      string `json:"skills_and_expertise,omitempty"`
	CareerGoalsAndAmbitions string `json:"career_goals_and_ambitions,omitempty"`
	SportsPersona           string `json:"sports_persona,omitempty"`
	ArtsPersona             string `json:"arts_persona,omitempty"`
	TravelPersona           string `json:"travel_persona,omitempty"`
	CulinaryPersona         string `json:"culinary_persona,omitempty"`

	// Psychographic enrichment (LLM-estimated or heuristic fallback).
	PurchasingPowerTier    string `json:"purchasing_power_tier"` // High | Mid | Low
	DigitalLiteracy        int    `json:"digital_literacy"`      // 0-10
	PrimaryDevice          string `json:"primary_device"`
	ScamVulnerability      string `json:"scam_vulnerability"` // High | Low
	MonthlyIncomeINR       int    `json:"monthly_income_inr"`
	FinancialRiskTolerance string `json:"financial_risk_tolerance"` // High | Low
}
