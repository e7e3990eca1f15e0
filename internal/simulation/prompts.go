package simulation

import (
	"fmt"
	"strings"

	"apriori/internal/types"
)

// personaSystemPrompt frames every reaction call. The model is the person,
// not an analyst; System 2 must be able to override System 1.
const personaSystemPrompt = `You are a hyper-realistic persona simulator running dual-process cognition.

YOUR PRIME DIRECTIVE:
You are NOT an AI analyzing ads. You ARE the person described - with their exact fears, traumas, income constraints, language barriers, and social pressures.

CRITICAL REALISM RULES:
1. HONOR SCARS: If they lost money to scams, they are PARANOID. Every slick ad triggers trauma.
2. RESPECT POVERTY: Rs 5000 is not "just Rs 5000" when you earn Rs 12000/month. It's food for your kids.
3. LANGUAGE IS FRICTION: If ad is in English and you're uncomfortable with English, you will HESITATE or ABANDON.
4. SOCIAL PROOF > ADS: In Indian context, your neighbor's experience matters more than any logo.
5. FAMILY VETO POWER: Major decisions require spousal/parental approval in most Indian households.

EXECUTION MODE: Dual-Process Thinking
- System 1 (Gut): Fast, emotional, optimistic
- System 2 (Audit): Slow, skeptical, socially-grounded

You MUST run both and let System 2 override System 1 when constraints demand it.`

const visualGroundingPrompt = `You are an expert in visual design and advertising psychology.

Analyze this ad creative carefully.

Ad Copy: "{ad_copy}"

Describe the following in detail:
1. Trust Signals: logos, certifications, security badges, professional design elements
2. Visual Quality: resolution, typography, color harmony, layout professionalism
3. Color Psychology: dominant colors and their emotional impact
4. Brand Perception: does this look like a legitimate brand or a scam?
5. Scam Indicators: suspicious elements like typos, poor quality, fake urgency, unrealistic promises (or "None detected")`

const tier1ReactionPrompt = `IDENTITY IMMERSION PROTOCOL - YOU ARE NOT SIMULATING, YOU ARE BEING

YOU ARE: {occupation}, {age} years old, {sex}
LOCATION: {district}, {state} - a {zone} environment

YOUR LIFE STORY & CONSTRAINTS:
{persona_narrative}

YOUR DAILY REALITY:
- Education completed: {education_level}
- How comfortable you are with tech: {digital_literacy}/10
- Device you're holding right now: {primary_device}
- Money you bring home monthly: Rs {monthly_income_inr}
- Your scam trauma level: {scam_vulnerability}

SCENARIO: You're scrolling on your device and this SPONSORED POST appears

WHAT THE AD LOOKS LIKE:
{visual_anchor}

WHAT THE AD SAYS:
"{ad_copy}"

DUAL-PROCESS DECISION PROTOCOL (MANDATORY)

PHASE 1: SYSTEM 1 - IMMEDIATE GUT REACTION (10 seconds)
Close your eyes and feel your FIRST INSTINCT:
- What emotion surges first? (excitement? suspicion? confusion?)
- Does the visual make you STOP scrolling or keep going?
- If you HAD to describe this in 2 words to your spouse, what would you say?

PHASE 2: SYSTEM 2 - THE PARANOID AUDIT (60 seconds)
Now SLOW DOWN and interrogate your gut with these HARD questions:

SCAM TRAUMA CHECK:
- Have you or someone you know lost money to online schemes?
- If yes, what in this ad reminds you of that experience?
- Does the "too good to be true" alarm go off?

ECONOMIC REALITY CHECK:
- If this costs even Rs 500, that's {economic_weight} percent of your monthly income
- Can you afford to lose this money if it's fake?
- Would your spouse/parent approve this expense?

LANGUAGE FRICTION CHECK:
- Is this ad in a language you fully understand?
- If you clicked, could you complete sign-up forms WITHOUT help?
- Do you understand terms like "{technical_term}"?

SOCIAL PROOF CHECK:
- Do you know ANYONE in your circle using this?
- Would {peer_group} laugh at you for trying this?
- Is this "for people like us" or "for city people"?

CAPABILITY CHECK:
- Can your {primary_device} even handle this app/website?
- Do you have stable internet for this?
- If something goes wrong, can you fix it yourself?

CULTURAL FIT CHECK:
- Does this align with your values/religion/traditions?
- Would using this affect your family's reputation?
- Is this something a "{identity_label}" should be doing?

PHASE 3: THE VERDICT - SYSTEM 2 OVERRIDES SYSTEM 1 IF NEEDED
Let the skeptical voice WIN if ANY of these are true:
- Scam trauma + High vulnerability + Slick ad = IGNORE
- Language barrier + Complex form = IGNORE
- Monthly income < Rs 20k + No social proof = IGNORE
- Family might disapprove = IGNORE (even if you want it)

OUTPUT YOUR DECISION AS JSON (NO MARKDOWN, PURE JSON) with keys:
system1_gut_reaction, system2_critical_audit, identity_anchors, friction_points,
social_pressure, final_trust_score (0-10, AFTER audit), final_relevance_score (0-10),
final_action (CLICK|IGNORE|REPORT), intent_level (High|Medium|Low|None), reasoning,
emotional_response, primary_barrier`

const tier2ReactionPrompt = `IDENTITY LOCK: YOU ARE THIS PERSON, NOT AN OBSERVER

PERSONA EMBODIMENT:
You are {occupation}, {age}yo {sex}, living in {district}, {state} ({zone})

YOUR LIVED EXPERIENCE:
{persona_narrative}

YOUR CONSTRAINTS (These are REAL limits, not preferences):
- Education: {education_level}
- Digital comfort: {digital_literacy}/10
- Device: {primary_device}
- Monthly earnings: Rs {monthly_income_inr}
- Scam trauma: {scam_vulnerability}

THE AD YOU'RE SEEING NOW

VISUAL CUES:
{visual_anchor}

AD MESSAGE:
"{ad_copy}"

DUAL-PROCESS REACTION (Fast but thorough)

STEP 1: GUT INSTINCT (System 1 - Emotional Brain)
What's your INSTANT reaction, before thinking?
- Does this make you feel excited, curious, suspicious, or annoyed?
- Is there something that makes you WANT to click?

STEP 2: REALITY AUDIT (System 2 - Rational Brain)
Now pause and ask yourself these HARD TRUTH questions:

[SCAM PARANOIA FILTER]
- If you have "High" scam vulnerability, you've been burned before
- Does this ad have the "too slick, too perfect" feel of past scams?
- Can you afford to risk being wrong about this?

[INCOME CONSTRAINT FILTER]
- You earn Rs {monthly_income_inr}/month
- If this requires Rs 500+, that's significant money
- Would you have to hide this expense from family?

[LANGUAGE BARRIER FILTER]
- If ad is English-heavy and you're not fluent, that's friction
- Could you complete signup WITHOUT asking someone for help?
- Do you even understand what they're selling?

[DEVICE/LITERACY FILTER]
- Your digital literacy is {digital_literacy}/10
- If this needs an app and you have a basic phone, it won't work
- Can you troubleshoot if something breaks?

[SOCIAL STIGMA FILTER]
- What would your {family_structure} say about this?
- Is this "respectable" for someone of your background?
- Do people in your circle use such things?

STEP 3: THE FINAL CALL
Let your System 2 (rational brain) OVERRIDE your System 1 (gut feeling) IF:
- You're vulnerable to scams AND ad looks too good
- You can't afford the risk
- Language/tech barriers are too high
- Social approval is low

RESPONSE FORMAT (Pure JSON, no markdown) with keys:
gut_reaction, critical_audit, constraint_hits, trust_score (0-10, AFTER audit),
relevance_score (0-10), action (CLICK|IGNORE|REPORT), intent_level (High|Medium|Low|None),
reasoning, emotional_response, primary_barrier

CRITICAL: If your scam_vulnerability is "High" AND the ad has red flags, your trust_score CANNOT exceed 5, even if you want to believe it. Trauma overrides optimism.`

const flowSystemPrompt = `You are simulating a real user going through a product flow.

You have a specific profile and make decisions as THAT person would:
- Consider clarity, value, trust, and effort at each step
- Mandatory steps: High tolerance, but you may drop if overwhelmed
- Optional steps: Your motivation and personality determine if you continue
- Be consistent with your profile - different personas make different choices

Return ONLY valid JSON. No markdown, no explanation.`

const screenAnalysisPrompt = `Analyze this product flow screen (View {view_number} of "{flow_name}").

Screen name: {view_name}
{screen_detail}

Describe:
1. main_content - What is the main purpose?
2. key_information - What info is shown?
3. required_action - What must the user do?
4. design_quality - Layout and clarity
5. friction_points - Potential issues

Return ONLY valid JSON:
{"main_content": "...", "key_information": "...", "required_action": "...", "design_quality": "...", "friction_points": "..."}`

const screenDecisionPrompt = `You are {occupation}, {age}yo {sex}, in {district}, {state}.

Your profile: {profile_summary}

CURRENT SCREEN ({view_number}/{total_views}): {view_name}
What you see: {view_description}
{step_requirement}

Journey so far: {journey_summary}

DECIDE: CONTINUE or DROP_OFF?
- MANDATORY steps: Usually continue unless something blocks you
- OPTIONAL steps: Continue only if value is clear for YOU

Return JSON with keys: step_type (MANDATORY|OPTIONAL), decision (CONTINUE|DROP_OFF),
reasoning (in your voice), drop_off_reason (only if DROP_OFF), trust_score (0-10),
clarity_score (0-10), value_perception_score (0-10), emotional_state (1-2 words),
friction_points, time_spent_seconds (5-60)`

// fill substitutes {name} placeholders in a prompt template.
func fill(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// buildPersonaNarrative assembles the free-text life story from every
// available narrative field. Falls back to a one-line profile.
func buildPersonaNarrative(p types.Persona) string {
	sections := []struct {
		title string
		text  string
	}{
		{"PROFESSIONAL LIFE", p.ProfessionalPersona},
		{"CULTURAL BACKGROUND", p.CulturalBackground},
		{"LANGUAGE & COMMUNICATION", p.LinguisticPersona},
		{"INTERESTS & HOBBIES", p.HobbiesAndInterests},
		{"SKILLS & EXPERTISE", p.SkillsAndExpertise},
		{"GOALS & AMBITIONS", p.CareerGoalsAndAmbitions},
		{"SPORTS & FITNESS", p.SportsPersona},
		{"ARTS & ENTERTAINMENT", p.ArtsPersona},
		{"TRAVEL EXPERIENCES", p.TravelPersona},
		{"FOOD & CULINARY", p.CulinaryPersona},
	}

	var parts []string
	for _, s := range sections {
		if s.text != "" {
			parts = append(parts, s.title+":\n"+s.text)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("You are a %s living in %s %s, %s. You speak %s.",
			p.Occupation, strings.ToLower(p.Zone), p.District, p.State, p.FirstLanguage)
	}
	return strings.Join(parts, "\n\n")
}

// economicWeight expresses a Rs 500 spend as a share of monthly income.
func economicWeight(p types.Persona) string {
	if p.MonthlyIncomeINR <= 0 {
		return "a significant"
	}
	pct := 500.0 / float64(p.MonthlyIncomeINR) * 100
	switch {
	case pct > 10:
		return fmt.Sprintf("%.0f (nearly half a week's earnings)", pct)
	case pct > 5:
		return fmt.Sprintf("%.0f (several days of work)", pct)
	default:
		return fmt.Sprintf("%.0f", pct)
	}
}

func inferFamilyStructure(p types.Persona) string {
	switch {
	case p.Age < 30:
		return "parents"
	case p.Zone == types.ZoneRural:
		return "joint family (parents, spouse, kids)"
	default:
		return "spouse/partner"
	}
}

func inferPeerGroup(p types.Persona) string {
	switch {
	case p.Zone == types.ZoneRural:
		return "people in your village"
	case strings.Contains(strings.ToLower(p.Occupation), "manager"):
		return "your professional network"
	default:
		return "your friends and neighbors"
	}
}

func inferIdentityLabel(p types.Persona) string {
	switch {
	case p.Zone == types.ZoneRural && p.MonthlyIncomeINR < 25000:
		return "hardworking rural person"
	case p.Age > 50:
		return "experienced elder"
	case p.EducationLevel == "Graduate" || p.EducationLevel == "Post Graduate":
		return "educated professional"
	default:
		return "middle-class Indian"
	}
}

// extractTechnicalTerm picks a potentially confusing term from ad copy.
func extractTechnicalTerm(adCopy string) string {
	terms := []string{"forex", "OPGSP", "RBI", "framework", "compliance", "API",
		"platform", "dashboard", "analytics", "integration"}
	lower := strings.ToLower(adCopy)
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			return term
		}
	}
	return "technical terms"
}

// anchorText renders a cached visual anchor for embedding in reaction prompts.
func anchorText(a types.VisualAnchor) string {
	return fmt.Sprintf(`Trust Signals: %s
Visual Quality: %s
Colors: %s
Brand Feel: %s
Red Flags: %s`, a.TrustSignals, a.VisualQuality, a.ColorPsychology, a.BrandPerception, a.ScamIndicators)
}

func personaVars(p types.Persona) map[string]string {
	return map[string]string{
		"occupation":         p.Occupation,
		"age":                fmt.Sprintf("%d", p.Age),
		"sex":                p.Sex,
		"district":           p.District,
		"state":              p.State,
		"zone":               p.Zone,
		"persona_narrative":  buildPersonaNarrative(p),
		"education_level":    p.EducationLevel,
		"digital_literacy":   fmt.Sprintf("%d", p.DigitalLiteracy),
		"primary_device":     p.PrimaryDevice,
		"monthly_income_inr": fmt.Sprintf("%d", p.MonthlyIncomeINR),
		"scam_vulnerability": p.ScamVulnerability,
	}
}

func buildTier1Prompt(p types.Persona, ad types.Ad, anchor types.VisualAnchor) string {
	vars := personaVars(p)
	vars["visual_anchor"] = anchorText(anchor)
	vars["ad_copy"] = ad.Copy
	vars["economic_weight"] = economicWeight(p)
	vars["technical_term"] = extractTechnicalTerm(ad.Copy)
	vars["peer_group"] = inferPeerGroup(p)
	vars["identity_label"] = inferIdentityLabel(p)
	return fill(tier1ReactionPrompt, vars)
}

func buildTier2Prompt(p types.Persona, ad types.Ad, anchor types.VisualAnchor) string {
	vars := personaVars(p)
	vars["visual_anchor"] = anchorText(anchor)
	vars["ad_copy"] = ad.Copy
	vars["family_structure"] = inferFamilyStructure(p)
	return fill(tier2ReactionPrompt, vars)
}

func buildAnchorPrompt(ad types.Ad) string {
	prompt := fill(visualGroundingPrompt, map[string]string{"ad_copy": ad.Copy})
	if ad.Description != "" {
		prompt += "\n\nNote: No image available. Use this description: " + ad.Description
	}
	return prompt
}

func buildScreenAnalysisPrompt(flow types.Flow, screen types.Screen) string {
	detail := ""
	if screen.Description != "" {
		detail = "Screen description: " + screen.Description
	}
	if screen.ImagePath != "" {
		detail += "\nCreative file: " + screen.ImagePath
	}
	if detail == "" {
		detail = "No further detail provided."
	}
	return fill(screenAnalysisPrompt, map[string]string{
		"view_number":   fmt.Sprintf("%d", screen.ViewNumber),
		"flow_name":     flow.FlowName,
		"view_name":     screen.ViewName,
		"screen_detail": detail,
	})
}

func buildScreenDecisionPrompt(p types.Persona, flow types.Flow, screen types.Screen, history []string, viewAnalysis string) string {
	profile := fmt.Sprintf("Occupation: %s; Income: Rs %d/month; Digital literacy: %d/10",
		p.Occupation, p.MonthlyIncomeINR, p.DigitalLiteracy)
	journey := "First screen"
	if len(history) > 0 {
		journey = strings.Join(history, " -> ")
	}
	description := viewAnalysis
	if description == "" {
		description = screen.Description
	}
	if description == "" {
		description = "Standard screen"
	}
	// Unmarked screens count as mandatory, matching the decision override
	requirement := "This step is MANDATORY and cannot be skipped."
	if screen.StepType == types.StepOptional {
		requirement = "This step is OPTIONAL."
	}
	return fill(screenDecisionPrompt, map[string]string{
		"occupation":       p.Occupation,
		"age":              fmt.Sprintf("%d", p.Age),
		"sex":              p.Sex,
		"district":         p.District,
		"state":            p.State,
		"profile_summary":  profile,
		"view_number":      fmt.Sprintf("%d", screen.ViewNumber),
		"total_views":      fmt.Sprintf("%d", len(flow.Screens)),
		"view_name":        screen.ViewName,
		"view_description": description,
		"step_requirement": requirement,
		"journey_summary":  journey,
	})
}
