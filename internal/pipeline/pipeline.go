// Package pipeline wires the full simulation runs: hydrated personas and
// stimuli in, dashboard report documents out. Each run simulates, validates,
// optimizes or analyzes, persists, and reports; failed simulation units are
// excluded at the validation boundary, never fabricated.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"apriori/internal/config"
	"apriori/internal/flows"
	"apriori/internal/llm"
	"apriori/internal/logging"
	"apriori/internal/optimizer"
	"apriori/internal/report"
	"apriori/internal/simulation"
	"apriori/internal/store"
	"apriori/internal/types"
	"apriori/internal/validation"
)

// Pipeline runs end-to-end simulations. The store is optional; a nil store
// skips persistence.
type Pipeline struct {
	cfg   *config.Config
	tier1 llm.Client
	tier2 llm.Client
	store *store.Store
}

// New creates a pipeline from configured clients.
func New(cfg *config.Config, tier1, tier2 llm.Client, st *store.Store) *Pipeline {
	return &Pipeline{cfg: cfg, tier1: tier1, tier2: tier2, store: st}
}

// RunAds simulates every persona against every ad and produces the ad-mode
// report. The run is bounded by the configured run timeout; units still in
// flight at the deadline are excluded like any other failed unit, so a
// timed-out run still yields a report over the completed reactions.
func (p *Pipeline) RunAds(ctx context.Context, personas []types.Persona, ads []types.Ad) (report.AdReport, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.GetRunTimeout())
	defer cancel()

	engine := simulation.NewEngine(p.tier1, p.tier2, simulation.Config{
		Tier1SampleSize: p.cfg.Simulation.Tier1SampleSize,
		MaxAttempts:     p.cfg.LLM.MaxRetries,
	})
	outcomes, err := engine.RunAdSimulation(ctx, personas, ads)
	if err != nil {
		return report.AdReport{}, fmt.Errorf("simulating ads: %w", err)
	}
	reactions := simulation.CompletedReactions(outcomes)
	logging.Simulation("ad run: %d/%d units completed", len(reactions), len(outcomes))

	anchors := make(map[string]types.VisualAnchor, len(ads))
	for _, ad := range ads {
		anchors[ad.AdID] = engine.VisualAnchor(ctx, ad)
	}

	validator := validation.New(validation.Thresholds{
		TrustScore:         p.cfg.Thresholds.TrustScore,
		MinLiteracyForForm: p.cfg.Thresholds.MinLiteracyForForm,
	})
	batch := validator.ValidateBatch(personas, reactions, ads, anchors)

	opt := optimizer.New(optimizer.Config{
		HighOverlap:         p.cfg.Thresholds.HighOverlap,
		ClickbaitClickRate:  p.cfg.Thresholds.ClickbaitClickRate,
		ClickbaitConversion: p.cfg.Thresholds.ClickbaitConversion,
		DeviceGapFraction:   p.cfg.Thresholds.DeviceGapFraction,
	})
	result := opt.Optimize(ads, personas, batch.Valid)

	doc := report.BuildAdReport(result, batch.Summary, report.Metadata{
		NumPersonas:          len(personas),
		NumAds:               len(ads),
		ExecutionTimeSeconds: time.Since(start).Seconds(),
		TotalReactions:       len(outcomes),
		ValidReactions:       len(batch.Valid),
	})

	if err := p.persistAdRun(personas, batch, doc); err != nil {
		// Persistence failure should not cost the caller the report.
		logging.StoreError("persisting ad run: %v", err)
	}
	return doc, nil
}

// RunFlows simulates every persona through every flow variant and produces
// the flow-mode report.
func (p *Pipeline) RunFlows(ctx context.Context, personas []types.Persona, flowDefs []types.Flow) (report.FlowReport, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.GetRunTimeout())
	defer cancel()

	engine := simulation.NewEngine(p.tier1, p.tier2, simulation.Config{
		Tier1SampleSize: p.cfg.Simulation.Tier1SampleSize,
		MaxAttempts:     p.cfg.LLM.MaxRetries,
	})
	outcomes, err := engine.RunFlows(ctx, personas, flowDefs)
	if err != nil {
		return report.FlowReport{}, fmt.Errorf("simulating flows: %w", err)
	}

	journeys := make(map[string][]types.Journey, len(outcomes))
	total, completed := 0, 0
	for flowID, flowOutcomes := range outcomes {
		journeys[flowID] = simulation.CompletedJourneys(flowOutcomes)
		total += len(flowOutcomes)
		completed += len(journeys[flowID])
	}
	logging.Flows("flow run: %d/%d journeys completed simulation", completed, total)

	analyzer := flows.New(flows.Config{
		CompletionWarn:        p.cfg.Thresholds.CompletionWarn,
		ScreenDropOffCritical: p.cfg.Thresholds.ScreenDropOffCritical,
	})
	comparison := analyzer.Compare(flowDefs, journeys)

	doc := report.BuildFlowReport(comparison, personas, journeys, report.Metadata{
		NumPersonas:          len(personas),
		NumAds:               len(flowDefs),
		ExecutionTimeSeconds: time.Since(start).Seconds(),
		TotalReactions:       total,
		ValidReactions:       completed,
	})

	if err := p.persistFlowRun(personas, journeys, doc); err != nil {
		logging.StoreError("persisting flow run: %v", err)
	}
	return doc, nil
}

func (p *Pipeline) persistAdRun(personas []types.Persona, batch validation.BatchResult, doc report.AdReport) error {
	if p.store == nil {
		return nil
	}
	run, err := p.store.CreateRun(store.ModeAds, doc.Metadata.NumPersonas, doc.Metadata.NumAds)
	if err != nil {
		return err
	}
	if err := p.store.SavePersonas(run.ID, personas); err != nil {
		return err
	}

	stored := make([]store.StoredReaction, 0, len(batch.Valid)+len(batch.Flagged))
	for _, r := range batch.Valid {
		stored = append(stored, store.StoredReaction{Reaction: r, Valid: true})
	}
	for _, f := range batch.Flagged {
		stored = append(stored, store.StoredReaction{Reaction: f.Reaction, Flags: f.Flags})
	}
	if err := p.store.SaveReactions(run.ID, stored); err != nil {
		return err
	}
	return p.store.FinishRun(run.ID, doc)
}

func (p *Pipeline) persistFlowRun(personas []types.Persona, journeys map[string][]types.Journey, doc report.FlowReport) error {
	if p.store == nil {
		return nil
	}
	run, err := p.store.CreateRun(store.ModeFlows, doc.Metadata.NumPersonas, doc.Metadata.NumAds)
	if err != nil {
		return err
	}
	if err := p.store.SavePersonas(run.ID, personas); err != nil {
		return err
	}
	var all []types.Journey
	for _, flowJourneys := range journeys {
		all = append(all, flowJourneys...)
	}
	if err := p.store.SaveJourneys(run.ID, all); err != nil {
		return err
	}
	return p.store.FinishRun(run.ID, doc)
}
