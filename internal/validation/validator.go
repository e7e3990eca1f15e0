// Package validation cross-checks simulated reactions for logical
// consistency. It is the anti-hallucination layer: a reaction that
// contradicts the persona's own constraints gets flagged, not trusted.
// All rules are pure and deterministic; the same inputs always produce
// the same verdict.
package validation

import (
	"fmt"
	"strings"

	"apriori/internal/logging"
	"apriori/internal/types"
)

// Thresholds carries the tuning constants the rules compare against.
type Thresholds struct {
	// TrustScore below which a CLICK is contradictory.
	TrustScore int
	// MinLiteracyForForm is the digital literacy a complex form demands.
	MinLiteracyForForm int
}

// DefaultThresholds returns the standard rule constants.
func DefaultThresholds() Thresholds {
	return Thresholds{TrustScore: 3, MinLiteracyForForm: 5}
}

// Context is everything a rule may inspect for one reaction.
type Context struct {
	Persona  types.Persona
	Reaction types.AdReaction
	// Ad and Anchor are optional; rules needing them pass when absent.
	Ad     *types.Ad
	Anchor *types.VisualAnchor
}

// Rule is a single named consistency check. It returns a flag message when
// the reaction is implausible.
type Rule struct {
	Name  string
	Check func(c Context, t Thresholds) (string, bool)
}

// Validator runs an ordered, independent rule set over reactions.
type Validator struct {
	thresholds Thresholds
	rules      []Rule
}

// New creates a validator with the standard rules.
func New(t Thresholds) *Validator {
	return &Validator{thresholds: t, rules: standardRules()}
}

// Validate runs every rule over one reaction. Rules are independent; a
// reaction can collect multiple flags.
func (v *Validator) Validate(c Context) types.Verdict {
	var flags []string
	for _, rule := range v.rules {
		if msg, flagged := rule.Check(c, v.thresholds); flagged {
			flags = append(flags, msg)
		}
	}
	return types.Verdict{Valid: len(flags) == 0, Flags: flags}
}

// FlaggedReaction couples a flagged reaction with its violations.
type FlaggedReaction struct {
	PersonaUUID string           `json:"persona_uuid"`
	AdID        string           `json:"ad_id"`
	Flags       []string         `json:"flags"`
	Reaction    types.AdReaction `json:"reaction"`
}

// BatchResult summarizes a validation pass over one run's reactions.
type BatchResult struct {
	Summary types.ValidationSummary
	Valid   []types.AdReaction
	Flagged []FlaggedReaction
}

// ValidateBatch checks every reaction against its persona and ad context.
// Reactions without a known persona are skipped entirely (they count
// toward neither valid nor flagged).
func (v *Validator) ValidateBatch(personas []types.Persona, reactions []types.AdReaction, ads []types.Ad, anchors map[string]types.VisualAnchor) BatchResult {
	personaByUUID := make(map[string]types.Persona, len(personas))
	for _, p := range personas {
		personaByUUID[p.UUID] = p
	}
	adByID := make(map[string]types.Ad, len(ads))
	for _, ad := range ads {
		adByID[ad.AdID] = ad
	}

	result := BatchResult{}
	for _, reaction := range reactions {
		persona, ok := personaByUUID[reaction.PersonaUUID]
		if !ok {
			logging.Validation("skipping reaction with unknown persona %s", reaction.PersonaUUID)
			continue
		}

		c := Context{Persona: persona, Reaction: reaction}
		if ad, ok := adByID[reaction.AdID]; ok {
			c.Ad = &ad
		}
		if anchor, ok := anchors[reaction.AdID]; ok {
			c.Anchor = &anchor
		}

		verdict := v.Validate(c)
		result.Summary.Total++
		if verdict.Valid {
			result.Summary.Valid++
			result.Valid = append(result.Valid, reaction)
		} else {
			result.Summary.Flagged++
			result.Flagged = append(result.Flagged, FlaggedReaction{
				PersonaUUID: reaction.PersonaUUID,
				AdID:        reaction.AdID,
				Flags:       verdict.Flags,
				Reaction:    reaction,
			})
		}
	}

	if result.Summary.Total > 0 {
		result.Summary.FlaggedPercentage = float64(result.Summary.Flagged) / float64(result.Summary.Total) * 100
	}

	logging.Validation("batch: %d total, %d valid, %d flagged (%.1f%%)",
		result.Summary.Total, result.Summary.Valid, result.Summary.Flagged, result.Summary.FlaggedPercentage)
	return result
}

var formKeywords = []string{"fill", "form", "register", "sign up", "apply now", "details"}

var luxuryKeywords = []string{"premium", "luxury", "exclusive", "₹50", "₹1 lakh", "₹2 lakh"}

var iosKeywords = []string{"ios", "app store", "iphone"}

var appInstallKeywords = []string{"download app", "install now"}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func barriersMention(barriers []string, words ...string) bool {
	for _, b := range barriers {
		lower := strings.ToLower(b)
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
	}
	return false
}

func standardRules() []Rule {
	return []Rule{
		{
			// The scam paradox: "this looks sketchy" but clicks anyway
			Name: "trust_action_contradiction",
			Check: func(c Context, t Thresholds) (string, bool) {
				r := c.Reaction
				if r.TrustScore < t.TrustScore && r.Action == types.ActionClick {
					return fmt.Sprintf("SUSPICIOUS_CLICK_DESPITE_LOW_TRUST: trust=%d, action=%s",
						r.TrustScore, r.Action), true
				}
				return "", false
			},
		},
		{
			Name: "ios_device_mismatch",
			Check: func(c Context, t Thresholds) (string, bool) {
				if c.Ad == nil {
					return "", false
				}
				copyLower := strings.ToLower(c.Ad.Copy)
				if !containsAny(copyLower, iosKeywords) {
					return "", false
				}
				device := c.Persona.PrimaryDevice
				if device != types.DeviceAndroid && device != types.DeviceFeaturePhone {
					return "", false
				}
				r := c.Reaction
				if r.Action == types.ActionClick && (r.IntentLevel == types.IntentHigh || r.IntentLevel == types.IntentMedium) {
					return fmt.Sprintf("IMPOSSIBLE_CONVERSION_DEVICE_MISMATCH: ad_requires=iOS, user_device=%s", device), true
				}
				return "", false
			},
		},
		{
			Name: "feature_phone_app_install",
			Check: func(c Context, t Thresholds) (string, bool) {
				if c.Ad == nil {
					return "", false
				}
				copyLower := strings.ToLower(c.Ad.Copy)
				if !containsAny(copyLower, appInstallKeywords) {
					return "", false
				}
				if c.Persona.PrimaryDevice == types.DeviceFeaturePhone && c.Reaction.Action == types.ActionClick {
					return "IMPOSSIBLE_ACTION_FEATURE_PHONE: ad_requires=smartphone, user_device=Feature Phone", true
				}
				return "", false
			},
		},
		{
			// High-confidence click on a complex form by a low-literacy
			// persona, with no acknowledged barrier
			Name: "literacy_barrier",
			Check: func(c Context, t Thresholds) (string, bool) {
				if c.Ad == nil {
					return "", false
				}
				copyLower := strings.ToLower(c.Ad.Copy)
				if !containsAny(copyLower, formKeywords) {
					return "", false
				}
				if c.Persona.DigitalLiteracy >= t.MinLiteracyForForm {
					return "", false
				}
				r := c.Reaction
				if r.Action == types.ActionClick && r.IntentLevel == types.IntentHigh &&
					!barriersMention(r.Barriers, "literacy", "form") {
					return fmt.Sprintf("UNREALISTIC_CONVERSION_LOW_LITERACY: literacy=%d, requires_form=true",
						c.Persona.DigitalLiteracy), true
				}
				return "", false
			},
		},
		{
			Name: "affordability_paradox",
			Check: func(c Context, t Thresholds) (string, bool) {
				if c.Ad == nil {
					return "", false
				}
				copyLower := strings.ToLower(c.Ad.Copy)
				if !containsAny(copyLower, luxuryKeywords) {
					return "", false
				}
				if c.Persona.PurchasingPowerTier != types.TierLow {
					return "", false
				}
				r := c.Reaction
				if r.IntentLevel == types.IntentHigh && !barriersMention(r.Barriers, "afford", "expensive") {
					return "UNLIKELY_HIGH_INTENT_LOW_INCOME: income_tier=Low, product=luxury, intent=High", true
				}
				return "", false
			},
		},
		{
			// A burned persona trusting a visibly suspicious ad
			Name: "scam_vulnerability_trust_mismatch",
			Check: func(c Context, t Thresholds) (string, bool) {
				if c.Persona.ScamVulnerability != types.VulnerabilityHigh || c.Anchor == nil {
					return "", false
				}
				if c.Anchor.HasScamIndicators() && c.Reaction.TrustScore >= 7 {
					return fmt.Sprintf("UNREALISTIC_TRUST_HIGH_VULNERABILITY: vulnerability=High, scam_indicators=yes, trust=%d",
						c.Reaction.TrustScore), true
				}
				return "", false
			},
		},
		{
			Name: "relevance_intent_mismatch",
			Check: func(c Context, t Thresholds) (string, bool) {
				r := c.Reaction
				if r.RelevanceScore <= 2 && r.IntentLevel == types.IntentHigh {
					return fmt.Sprintf("INCONSISTENT_INTENT: relevance=%d, intent=High", r.RelevanceScore), true
				}
				return "", false
			},
		},
		{
			Name: "contradictory_report",
			Check: func(c Context, t Thresholds) (string, bool) {
				r := c.Reaction
				if r.Action == types.ActionReport && (r.TrustScore >= 6 || r.RelevanceScore >= 7) {
					return fmt.Sprintf("CONTRADICTORY_REPORT: action=REPORT, trust=%d, relevance=%d",
						r.TrustScore, r.RelevanceScore), true
				}
				return "", false
			},
		},
	}
}
