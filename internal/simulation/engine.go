// Package simulation runs personas against marketing stimuli through a
// two-tier LLM pipeline. Tier 1 (expensive model) grounds each stimulus in a
// visual anchor and simulates a small high-fidelity persona sample; Tier 2
// (cheap model) handles the bulk with structured calls that combine the
// persona profile and the cached anchor.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"apriori/internal/llm"
	"apriori/internal/logging"
	"apriori/internal/types"
)

// Status marks the outcome of one (persona, stimulus) unit of work.
type Status string

const (
	StatusCompleted Status = "completed"
	// StatusFailed marks a unit whose retries were exhausted or whose run
	// was cut off. Failed units are excluded downstream, never defaulted
	// to a valid-looking reaction.
	StatusFailed Status = "simulation_failed"
)

// ReactionOutcome is the write-once result slot for one persona/ad pair.
type ReactionOutcome struct {
	PersonaUUID string            `json:"persona_uuid"`
	AdID        string            `json:"ad_id"`
	Tier        int               `json:"tier"`
	Status      Status            `json:"status"`
	Reaction    *types.AdReaction `json:"reaction,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// JourneyOutcome is the write-once result slot for one persona/flow pair.
type JourneyOutcome struct {
	PersonaUUID string         `json:"persona_uuid"`
	FlowID      string         `json:"flow_id"`
	Status      Status         `json:"status"`
	Journey     *types.Journey `json:"journey,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// CompletedReactions filters outcomes down to usable reactions.
func CompletedReactions(outcomes []ReactionOutcome) []types.AdReaction {
	reactions := make([]types.AdReaction, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Status == StatusCompleted && o.Reaction != nil {
			reactions = append(reactions, *o.Reaction)
		}
	}
	return reactions
}

// CompletedJourneys filters outcomes down to usable journeys.
func CompletedJourneys(outcomes []JourneyOutcome) []types.Journey {
	journeys := make([]types.Journey, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Status == StatusCompleted && o.Journey != nil {
			journeys = append(journeys, *o.Journey)
		}
	}
	return journeys
}

// Config tunes the engine.
type Config struct {
	// Tier1SampleSize is the fraction of personas given high-fidelity
	// Tier-1 reaction calls. The rest go through Tier 2.
	Tier1SampleSize float64
	// MaxWorkers bounds simulation goroutines. The global LLM call limit
	// is enforced separately by the scheduler inside the clients.
	MaxWorkers int
	// Seed fixes tier-1 sampling for reproducible runs. Zero means
	// time-based.
	Seed int64
	// MaxAttempts is the per-unit call-and-parse budget. A response that
	// fails to parse is re-issued like a failed call until the budget runs
	// out; only then is the unit excluded.
	MaxAttempts int
}

// Engine orchestrates tiered persona simulation.
type Engine struct {
	tier1 llm.Client
	tier2 llm.Client
	cfg   Config

	anchorMu sync.Mutex
	anchors  map[string]types.VisualAnchor

	screenMu    sync.Mutex
	screenNotes map[string]string
}

// NewEngine creates an engine over scheduled clients for both tiers.
func NewEngine(tier1, tier2 llm.Client, cfg Config) *Engine {
	if cfg.Tier1SampleSize <= 0 || cfg.Tier1SampleSize > 1 {
		cfg.Tier1SampleSize = 0.1
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 16
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Engine{
		tier1:       tier1,
		tier2:       tier2,
		cfg:         cfg,
		anchors:     make(map[string]types.VisualAnchor),
		screenNotes: make(map[string]string),
	}
}

// VisualAnchor returns the anchor for an ad, computing it at most once per
// stimulus. Analysis failure yields a neutral anchor; the anchor is prompt
// context, so a degraded anchor weakens fidelity without blocking the run.
func (e *Engine) VisualAnchor(ctx context.Context, ad types.Ad) types.VisualAnchor {
	e.anchorMu.Lock()
	if a, ok := e.anchors[ad.AdID]; ok {
		e.anchorMu.Unlock()
		return a
	}
	e.anchorMu.Unlock()

	anchor := e.computeAnchor(ctx, ad)

	e.anchorMu.Lock()
	defer e.anchorMu.Unlock()
	// First writer wins under races; anchors are identical in content intent
	if a, ok := e.anchors[ad.AdID]; ok {
		return a
	}
	e.anchors[ad.AdID] = anchor
	return anchor
}

func (e *Engine) computeAnchor(ctx context.Context, ad types.Ad) types.VisualAnchor {
	timer := logging.StartTimer(logging.CategorySimulation, fmt.Sprintf("visual anchor %s", ad.AdID))
	defer timer.Stop()

	response, err := completeStructured(ctx, e.tier1, personaSystemPrompt, buildAnchorPrompt(ad), anchorSchema)
	if err != nil {
		logging.SimulationWarn("anchor analysis failed for ad %s, using neutral anchor: %v", ad.AdID, err)
		return types.VisualAnchor{
			AdID:            ad.AdID,
			TrustSignals:    "Not analyzed",
			VisualQuality:   "Standard",
			ColorPsychology: "Neutral tones",
			BrandPerception: "Moderate",
			ScamIndicators:  "Unable to assess",
		}
	}

	var a anchorResponse
	if err := llm.ExtractJSON(response, &a); err != nil {
		logging.SimulationWarn("unparseable anchor for ad %s: %v", ad.AdID, err)
		return types.VisualAnchor{
			AdID:            ad.AdID,
			TrustSignals:    "Not analyzed",
			VisualQuality:   "Standard",
			ColorPsychology: "Neutral tones",
			BrandPerception: "Moderate",
			ScamIndicators:  "Unable to assess",
		}
	}

	return types.VisualAnchor{
		AdID:            ad.AdID,
		TrustSignals:    a.TrustSignals,
		VisualQuality:   a.VisualQuality,
		ColorPsychology: a.ColorPsychology,
		BrandPerception: a.BrandPerception,
		ScamIndicators:  a.ScamIndicators,
	}
}

// RunAdSimulation reacts every persona to every ad. One outcome per pair;
// order follows the persona-major, ad-minor input order.
func (e *Engine) RunAdSimulation(ctx context.Context, personas []types.Persona, ads []types.Ad) ([]ReactionOutcome, error) {
	if len(personas) == 0 || len(ads) == 0 {
		return nil, fmt.Errorf("simulation requires at least one persona and one ad")
	}

	start := time.Now()
	logging.Simulation("ad simulation: %d personas x %d ads", len(personas), len(ads))

	// Anchors first: each ad analyzed exactly once
	ag, actx := errgroup.WithContext(ctx)
	ag.SetLimit(e.cfg.MaxWorkers)
	for _, ad := range ads {
		ag.Go(func() error {
			e.VisualAnchor(actx, ad)
			return nil
		})
	}
	if err := ag.Wait(); err != nil {
		return nil, err
	}

	tier1Set := e.sampleTier1(personas)
	logging.Simulation("tier split: %d tier-1, %d tier-2", len(tier1Set), len(personas)-len(tier1Set))

	outcomes := make([]ReactionOutcome, len(personas)*len(ads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxWorkers)
	for pi, persona := range personas {
		for ai, ad := range ads {
			slot := pi*len(ads) + ai
			tier := 2
			if tier1Set[persona.UUID] {
				tier = 1
			}
			g.Go(func() error {
				outcomes[slot] = e.simulateReaction(gctx, persona, ad, tier)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, o := range outcomes {
		if o.Status == StatusFailed {
			failed++
		}
	}
	logging.Simulation("ad simulation done in %v: %d outcomes, %d failed",
		time.Since(start), len(outcomes), failed)
	return outcomes, nil
}

// sampleTier1 picks the high-fidelity persona subset.
func (e *Engine) sampleTier1(personas []types.Persona) map[string]bool {
	count := int(float64(len(personas)) * e.cfg.Tier1SampleSize)
	if count < 1 {
		count = 1
	}
	if count > len(personas) {
		count = len(personas)
	}

	seed := e.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	perm := rng.Perm(len(personas))
	set := make(map[string]bool, count)
	for _, idx := range perm[:count] {
		set[personas[idx].UUID] = true
	}
	return set
}

func (e *Engine) simulateReaction(ctx context.Context, persona types.Persona, ad types.Ad, tier int) ReactionOutcome {
	outcome := ReactionOutcome{PersonaUUID: persona.UUID, AdID: ad.AdID, Tier: tier}

	anchor := e.VisualAnchor(ctx, ad)

	var reaction types.AdReaction
	var err error
	if tier == 1 {
		reaction, err = e.reactTier1(ctx, persona, ad, anchor)
	} else {
		reaction, err = e.reactTier2(ctx, persona, ad, anchor)
	}
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Error = err.Error()
		logging.SimulationWarn("reaction failed: persona=%s ad=%s tier=%d: %v",
			persona.UUID, ad.AdID, tier, err)
		return outcome
	}

	outcome.Status = StatusCompleted
	outcome.Reaction = &reaction
	return outcome
}

func (e *Engine) reactTier1(ctx context.Context, persona types.Persona, ad types.Ad, anchor types.VisualAnchor) (types.AdReaction, error) {
	var r tier1Response
	err := e.attemptStructured(ctx, e.tier1, personaSystemPrompt,
		buildTier1Prompt(persona, ad, anchor), tier1ReactionSchema, func(response string) error {
			r = tier1Response{}
			if err := llm.ExtractJSON(response, &r); err != nil {
				return err
			}
			if !validAction(r.FinalAction) {
				return fmt.Errorf("%w: action %q", llm.ErrMalformedResponse, r.FinalAction)
			}
			return nil
		})
	if err != nil {
		return types.AdReaction{}, err
	}

	barriers := dedupe(append(append([]string{}, r.FrictionPoints...), r.IdentityAnchors...))
	if r.PrimaryBarrier != "" {
		barriers = append(barriers, "PRIMARY: "+r.PrimaryBarrier)
	}

	return types.AdReaction{
		PersonaUUID:       persona.UUID,
		AdID:              ad.AdID,
		TrustScore:        clampScore(r.FinalTrustScore),
		RelevanceScore:    clampScore(r.FinalRelevanceScore),
		Action:            r.FinalAction,
		IntentLevel:       normalizeIntent(r.IntentLevel),
		Reasoning:         joinReasoning(r.System1GutReaction, r.System2CriticalAudit, r.Reasoning),
		EmotionalResponse: r.EmotionalResponse,
		Barriers:          barriers,
	}, nil
}

func (e *Engine) reactTier2(ctx context.Context, persona types.Persona, ad types.Ad, anchor types.VisualAnchor) (types.AdReaction, error) {
	var r tier2Response
	err := e.attemptStructured(ctx, e.tier2, personaSystemPrompt,
		buildTier2Prompt(persona, ad, anchor), tier2ReactionSchema, func(response string) error {
			r = tier2Response{}
			if err := llm.ExtractJSON(response, &r); err != nil {
				return err
			}
			if !validAction(r.Action) {
				return fmt.Errorf("%w: action %q", llm.ErrMalformedResponse, r.Action)
			}
			return nil
		})
	if err != nil {
		return types.AdReaction{}, err
	}

	barriers := dedupe(r.ConstraintHits)
	if r.PrimaryBarrier != "" {
		barriers = append(barriers, "PRIMARY: "+r.PrimaryBarrier)
	}

	return types.AdReaction{
		PersonaUUID:       persona.UUID,
		AdID:              ad.AdID,
		TrustScore:        clampScore(r.TrustScore),
		RelevanceScore:    clampScore(r.RelevanceScore),
		Action:            r.Action,
		IntentLevel:       normalizeIntent(r.IntentLevel),
		Reasoning:         joinReasoning(r.GutReaction, r.CriticalAudit, r.Reasoning),
		EmotionalResponse: r.EmotionalResponse,
		Barriers:          barriers,
	}, nil
}

// attemptStructured runs the full call-and-decode cycle up to MaxAttempts
// times. A response that fails to decode is re-issued like a failed call;
// the unit fails only when the budget is exhausted, the call itself errors
// out, or the context is done. Call-level retries stay with the scheduler
// so the two budgets do not compound.
func (e *Engine) attemptStructured(ctx context.Context, client llm.Client, systemPrompt, userPrompt, schema string, decode func(response string) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		response, err := completeStructured(ctx, client, systemPrompt, userPrompt, schema)
		if err == nil {
			if err = decode(response); err == nil {
				return nil
			}
		}
		lastErr = err
		if ctx.Err() != nil || !errors.Is(err, llm.ErrMalformedResponse) {
			return lastErr
		}
		if attempt < e.cfg.MaxAttempts {
			logging.SimulationDebug("attempt %d/%d failed, re-issuing: %v", attempt, e.cfg.MaxAttempts, err)
		}
	}
	return lastErr
}

// completeStructured prefers schema enforcement and falls back to plain
// prompting when the model rejects schemas.
func completeStructured(ctx context.Context, client llm.Client, systemPrompt, userPrompt, schema string) (string, error) {
	if client.SchemaCapable() {
		response, err := client.CompleteWithSchema(ctx, systemPrompt, userPrompt, schema)
		if err == nil {
			return response, nil
		}
		if !errors.Is(err, llm.ErrSchemaNotSupported) {
			return "", err
		}
		logging.APIWarn("schema rejected, retrying without enforcement")
	}
	return client.CompleteWithSystem(ctx, systemPrompt, userPrompt)
}

func joinReasoning(gut, audit, decision string) string {
	var parts []string
	if gut != "" {
		parts = append(parts, "[Gut] "+gut)
	}
	if audit != "" {
		parts = append(parts, "[Audit] "+audit)
	}
	if decision != "" {
		parts = append(parts, "[Decision] "+decision)
	}
	if len(parts) == 0 {
		return "No reasoning provided"
	}
	return strings.Join(parts, " | ")
}

func validAction(action string) bool {
	switch action {
	case types.ActionClick, types.ActionIgnore, types.ActionReport:
		return true
	}
	return false
}

func normalizeIntent(intent string) string {
	switch intent {
	case types.IntentHigh, types.IntentMedium, types.IntentLow, types.IntentNone:
		return intent
	}
	return types.IntentLow
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
