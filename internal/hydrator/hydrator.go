// Package hydrator enriches raw persona records with psychographic
// attributes. Enrichment is additive: raw demographic fields are copied
// verbatim and never overwritten. When an LLM is unavailable or fails,
// a deterministic heuristic fallback produces the enrichment instead.
package hydrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"apriori/internal/llm"
	"apriori/internal/logging"
	"apriori/internal/types"
)

const hydrationSystemPrompt = "You are an expert demographer analyzing Indian consumer profiles. Return only valid JSON."

const hydrationPromptTemplate = `Profile:
- Occupation: %s
- Location: %s, %s (%s)
- Age: %d
- Sex: %s
- Education: %s
- Language: %s

Task: Estimate the following attributes based on Indian economic data, regional context, and occupation.

Guidelines:
- A "Farmer" in Punjab (mechanized farming) = High tier
- A "Farmer" in Bihar (subsistence) = Low tier
- Urban tech workers = High digital literacy
- Rural manual labor = Low digital literacy
- Age 18-30 = Higher digital literacy
- Age 60+ = Lower digital literacy
- iPhone ownership is rare (<5%% of population)
- Feature phones still common in rural areas
- Scam vulnerability HIGH if: Low education + Low literacy + Rural
- Risk tolerance HIGH if: Young + Mid-High income + Urban`

// HydrationSchema is the response schema for LLM-assisted enrichment.
const HydrationSchema = `{
  "type": "object",
  "properties": {
    "purchasing_power_tier": {"type": "string", "enum": ["High", "Mid", "Low"]},
    "digital_literacy": {"type": "integer", "minimum": 0, "maximum": 10},
    "primary_device": {"type": "string", "enum": ["Android", "iPhone", "Desktop", "Feature Phone"]},
    "scam_vulnerability": {"type": "string", "enum": ["High", "Low"]},
    "monthly_income_inr": {"type": "integer"},
    "financial_risk_tolerance": {"type": "string", "enum": ["High", "Low"]}
  },
  "required": ["purchasing_power_tier", "digital_literacy", "primary_device", "scam_vulnerability", "monthly_income_inr", "financial_risk_tolerance"]
}`

type enrichment struct {
	PurchasingPowerTier    string `json:"purchasing_power_tier"`
	DigitalLiteracy        int    `json:"digital_literacy"`
	PrimaryDevice          string `json:"primary_device"`
	ScamVulnerability      string `json:"scam_vulnerability"`
	MonthlyIncomeINR       int    `json:"monthly_income_inr"`
	FinancialRiskTolerance string `json:"financial_risk_tolerance"`
}

// Hydrator enriches personas, optionally with an LLM backend.
type Hydrator struct {
	client      llm.Client
	concurrency int
}

// New creates a hydrator. A nil client restricts enrichment to heuristics.
func New(client llm.Client, concurrency int) *Hydrator {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Hydrator{client: client, concurrency: concurrency}
}

// Hydrate enriches a single raw persona without network I/O.
// Deterministic for a given input.
func Hydrate(raw types.RawPersona) types.Persona {
	p := copyDemographics(raw)
	applyHeuristics(raw, &p)
	return p
}

// HydrateWithLLM enriches a persona via the model, falling back to the
// heuristic path on any failure. The fallback is never an error.
func (h *Hydrator) HydrateWithLLM(ctx context.Context, raw types.RawPersona) types.Persona {
	if h.client == nil {
		return Hydrate(raw)
	}

	prompt := fmt.Sprintf(hydrationPromptTemplate,
		raw.Occupation, raw.District, raw.State, raw.Zone,
		raw.Age, raw.Sex, raw.EducationLevel, raw.FirstLanguage)

	var response string
	var err error
	if h.client.SchemaCapable() {
		response, err = h.client.CompleteWithSchema(ctx, hydrationSystemPrompt, prompt, HydrationSchema)
	} else {
		response, err = h.client.CompleteWithSystem(ctx, hydrationSystemPrompt, prompt+"\n\nReturn ONLY valid JSON with keys: purchasing_power_tier, digital_literacy, primary_device, scam_vulnerability, monthly_income_inr, financial_risk_tolerance.")
	}
	if err != nil {
		logging.HydratorWarn("LLM enrichment failed for %s, using heuristics: %v", raw.UUID, err)
		return Hydrate(raw)
	}

	var e enrichment
	if err := llm.ExtractJSON(response, &e); err != nil {
		logging.HydratorWarn("unparseable enrichment for %s, using heuristics: %v", raw.UUID, err)
		return Hydrate(raw)
	}
	if !validEnrichment(e) {
		logging.HydratorWarn("out-of-range enrichment for %s, using heuristics", raw.UUID)
		return Hydrate(raw)
	}

	p := copyDemographics(raw)
	p.PurchasingPowerTier = e.PurchasingPowerTier
	p.DigitalLiteracy = e.DigitalLiteracy
	p.PrimaryDevice = e.PrimaryDevice
	p.ScamVulnerability = e.ScamVulnerability
	p.MonthlyIncomeINR = e.MonthlyIncomeINR
	p.FinancialRiskTolerance = e.FinancialRiskTolerance
	return p
}

// HydrateBatch enriches personas concurrently, preserving input order.
func (h *Hydrator) HydrateBatch(ctx context.Context, raws []types.RawPersona) ([]types.Persona, error) {
	personas := make([]types.Persona, len(raws))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, raw := range raws {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			personas[i] = h.HydrateWithLLM(ctx, raw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logging.Hydrator("hydrated %d personas (concurrency=%d)", len(personas), h.concurrency)
	return personas, nil
}

// copyDemographics carries the raw record into a Persona verbatim,
// assigning a uuid when the record lacks one.
func copyDemographics(raw types.RawPersona) types.Persona {
	id := strings.TrimSpace(raw.UUID)
	if id == "" {
		id = uuid.NewString()
	}
	return types.Persona{
		UUID:                    id,
		Occupation:              raw.Occupation,
		Sex:                     raw.Sex,
		Age:                     raw.Age,
		EducationLevel:          raw.EducationLevel,
		State:                   raw.State,
		District:                raw.District,
		Zone:                    raw.Zone,
		FirstLanguage:           raw.FirstLanguage,
		ProfessionalPersona:     raw.ProfessionalPersona,
		CulturalBackground:      raw.CulturalBackground,
		LinguisticPersona:       raw.LinguisticPersona,
		HobbiesAndInterests:     raw.HobbiesAndInterests,
		SkillsAndExpertise:      raw.SkillsAndExpertise,
		CareerGoalsAndAmbitions: raw.CareerGoalsAndAmbitions,
		SportsPersona:           raw.SportsPersona,
		ArtsPersona:             raw.ArtsPersona,
		TravelPersona:           raw.TravelPersona,
		CulinaryPersona:         raw.CulinaryPersona,
	}
}

// applyHeuristics fills psychographic fields from demographic signals.
func applyHeuristics(raw types.RawPersona, p *types.Persona) {
	isUrban := raw.Zone == types.ZoneUrban
	isYoung := raw.Age < 35
	hasEducation := raw.EducationLevel != "Illiterate" && raw.EducationLevel != "Primary"

	if isUrban && isYoung && hasEducation {
		p.DigitalLiteracy = 7
	} else {
		p.DigitalLiteracy = 3
	}

	if isUrban {
		p.PurchasingPowerTier = types.TierMid
		p.MonthlyIncomeINR = 25000
	} else {
		p.PurchasingPowerTier = types.TierLow
		p.MonthlyIncomeINR = 12000
	}

	if isYoung {
		p.PrimaryDevice = types.DeviceAndroid
		p.FinancialRiskTolerance = "High"
	} else {
		p.PrimaryDevice = types.DeviceFeaturePhone
		p.FinancialRiskTolerance = "Low"
	}

	if hasEducation {
		p.ScamVulnerability = types.VulnerabilityLow
	} else {
		p.ScamVulnerability = types.VulnerabilityHigh
	}
}

func validEnrichment(e enrichment) bool {
	if e.DigitalLiteracy < 0 || e.DigitalLiteracy > 10 {
		return false
	}
	switch e.PurchasingPowerTier {
	case types.TierHigh, types.TierMid, types.TierLow:
	default:
		return false
	}
	switch e.ScamVulnerability {
	case types.VulnerabilityHigh, types.VulnerabilityLow:
	default:
		return false
	}
	switch e.PrimaryDevice {
	case types.DeviceAndroid, types.DeviceIPhone, types.DeviceDesktop, types.DeviceFeaturePhone:
	default:
		return false
	}
	return true
}
