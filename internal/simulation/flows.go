package simulation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"apriori/internal/llm"
	"apriori/internal/logging"
	"apriori/internal/types"
)

// RunFlows walks every persona through every flow. Journeys run in parallel
// across personas and flows; screens within one journey are strictly
// sequential, since each decision sees the journey history before it.
func (e *Engine) RunFlows(ctx context.Context, personas []types.Persona, flows []types.Flow) (map[string][]JourneyOutcome, error) {
	if len(personas) == 0 || len(flows) == 0 {
		return nil, fmt.Errorf("flow simulation requires at least one persona and one flow")
	}
	for _, flow := range flows {
		if len(flow.Screens) == 0 {
			return nil, fmt.Errorf("flow %s has no screens", flow.FlowID)
		}
	}

	start := time.Now()
	logging.Flows("flow simulation: %d personas x %d flows", len(personas), len(flows))

	// Screen analyses first: each screen analyzed exactly once
	ag, actx := errgroup.WithContext(ctx)
	ag.SetLimit(e.cfg.MaxWorkers)
	for _, flow := range flows {
		for _, screen := range flow.Screens {
			ag.Go(func() error {
				e.ScreenAnalysis(actx, flow, screen)
				return nil
			})
		}
	}
	if err := ag.Wait(); err != nil {
		return nil, err
	}

	results := make(map[string][]JourneyOutcome, len(flows))
	for _, flow := range flows {
		results[flow.FlowID] = make([]JourneyOutcome, len(personas))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxWorkers)
	for _, flow := range flows {
		slots := results[flow.FlowID]
		for pi, persona := range personas {
			g.Go(func() error {
				slots[pi] = e.simulateJourney(gctx, persona, flow)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, outcomes := range results {
		for _, o := range outcomes {
			if o.Status == StatusFailed {
				failed++
			}
		}
	}
	logging.Flows("flow simulation done in %v: %d journeys, %d failed",
		time.Since(start), len(personas)*len(flows), failed)
	return results, nil
}

// simulateJourney steps one persona through one flow. Screen i+1 is only
// reached after screen i returned CONTINUE. A failed step fails the whole
// journey rather than inventing a drop-off.
func (e *Engine) simulateJourney(ctx context.Context, persona types.Persona, flow types.Flow) JourneyOutcome {
	outcome := JourneyOutcome{PersonaUUID: persona.UUID, FlowID: flow.FlowID}

	journey := types.Journey{
		PersonaUUID: persona.UUID,
		FlowID:      flow.FlowID,
		Completed:   true,
	}
	var history []string

	for _, screen := range flow.Screens {
		decision, err := e.simulateScreenStep(ctx, persona, flow, screen, history)
		if err != nil {
			outcome.Status = StatusFailed
			outcome.Error = fmt.Sprintf("screen %d (%s): %v", screen.ViewNumber, screen.ViewID, err)
			logging.FlowsDebug("journey failed: persona=%s flow=%s view=%d: %v",
				persona.UUID, flow.FlowID, screen.ViewNumber, err)
			return outcome
		}

		journey.Decisions = append(journey.Decisions, decision)
		journey.TotalScreensSeen++
		journey.TotalTimeSeconds += decision.TimeSpentSeconds
		history = append(history, fmt.Sprintf("V%d", screen.ViewNumber))

		if decision.Decision == types.DecisionDropOff {
			journey.Completed = false
			journey.DroppedOffAtView = screen.ViewNumber
			journey.DropOffReason = decision.DropOffReason
			if journey.DropOffReason == "" {
				journey.DropOffReason = decision.Reasoning
			}
			break
		}
	}

	outcome.Status = StatusCompleted
	outcome.Journey = &journey
	return outcome
}

// ScreenAnalysis returns the shared what-you-see context for a screen,
// computed at most once per flow screen. Like the ad anchor, a failed
// analysis degrades to a generic description instead of failing journeys.
func (e *Engine) ScreenAnalysis(ctx context.Context, flow types.Flow, screen types.Screen) string {
	key := flow.FlowID + "/" + screen.ViewID
	e.screenMu.Lock()
	if notes, ok := e.screenNotes[key]; ok {
		e.screenMu.Unlock()
		return notes
	}
	e.screenMu.Unlock()

	notes := e.analyzeScreen(ctx, flow, screen)

	e.screenMu.Lock()
	defer e.screenMu.Unlock()
	if existing, ok := e.screenNotes[key]; ok {
		return existing
	}
	e.screenNotes[key] = notes
	return notes
}

func (e *Engine) analyzeScreen(ctx context.Context, flow types.Flow, screen types.Screen) string {
	response, err := completeStructured(ctx, e.tier1, personaSystemPrompt,
		buildScreenAnalysisPrompt(flow, screen), screenAnalysisSchema)
	if err != nil {
		logging.FlowsDebug("screen analysis failed for %s view %d: %v", flow.FlowID, screen.ViewNumber, err)
		return ""
	}
	var a screenAnalysisResponse
	if err := llm.ExtractJSON(response, &a); err != nil {
		logging.FlowsDebug("unparseable screen analysis for %s view %d: %v", flow.FlowID, screen.ViewNumber, err)
		return ""
	}
	parts := []struct{ label, text string }{
		{"Main content", a.MainContent},
		{"Key information", a.KeyInformation},
		{"Required action", a.RequiredAction},
		{"Design quality", a.DesignQuality},
		{"Friction points", a.FrictionPoints},
	}
	var lines []string
	for _, p := range parts {
		if p.text != "" {
			lines = append(lines, p.label+": "+p.text)
		}
	}
	return strings.Join(lines, "\n")
}

func (e *Engine) simulateScreenStep(ctx context.Context, persona types.Persona, flow types.Flow, screen types.Screen, history []string) (types.ScreenDecision, error) {
	prompt := buildScreenDecisionPrompt(persona, flow, screen, history, e.ScreenAnalysis(ctx, flow, screen))

	var r screenDecisionResponse
	err := e.attemptStructured(ctx, e.tier2, flowSystemPrompt, prompt, screenDecisionSchema, func(response string) error {
		r = screenDecisionResponse{}
		if err := llm.ExtractJSON(response, &r); err != nil {
			return err
		}
		if r.Decision != types.DecisionContinue && r.Decision != types.DecisionDropOff {
			return fmt.Errorf("%w: decision %q", llm.ErrMalformedResponse, r.Decision)
		}
		return nil
	})
	if err != nil {
		return types.ScreenDecision{}, err
	}

	// The screen definition wins over the model's claimed step type
	stepType := screen.StepType
	if stepType == "" {
		stepType = types.StepMandatory
	}

	dropReason := ""
	if r.Decision == types.DecisionDropOff {
		dropReason = r.DropOffReason
	}

	timeSpent := r.TimeSpentSeconds
	if timeSpent < 0 {
		timeSpent = 0
	}

	return types.ScreenDecision{
		PersonaUUID:          persona.UUID,
		FlowID:               flow.FlowID,
		ViewID:               screen.ViewID,
		ViewNumber:           screen.ViewNumber,
		StepType:             stepType,
		Decision:             r.Decision,
		Reasoning:            r.Reasoning,
		DropOffReason:        dropReason,
		TrustScore:           clampScore(r.TrustScore),
		ClarityScore:         clampScore(r.ClarityScore),
		ValuePerceptionScore: clampScore(r.ValuePerceptionScore),
		EmotionalState:       r.EmotionalState,
		FrictionPoints:       dedupe(r.FrictionPoints),
		TimeSpentSeconds:     timeSpent,
	}, nil
}
