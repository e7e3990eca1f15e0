// Package report assembles the final JSON documents consumed by the
// dashboard. Reports are pure projections of upstream results; building
// the same report from the same inputs yields byte-identical output.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"apriori/internal/flows"
	"apriori/internal/logging"
	"apriori/internal/optimizer"
	"apriori/internal/types"
)

// Metadata describes the run that produced a report.
type Metadata struct {
	NumPersonas          int     `json:"num_personas"`
	NumAds               int     `json:"num_ads"`
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`
	TotalReactions       int     `json:"total_reactions"`
	ValidReactions       int     `json:"valid_reactions"`
}

// AdReport is the ad-mode output document.
type AdReport struct {
	WinningPortfolio  []optimizer.PortfolioEntry         `json:"winning_portfolio"`
	AllPerformances   map[string]optimizer.AdPerformance `json:"all_performances"`
	SegmentOwnership  map[string]string                  `json:"segment_ownership"`
	AudienceSegments  map[string]map[string]int          `json:"audience_segments"`
	OverlapMatrix     map[string]map[string]float64      `json:"overlap_matrix"`
	WastedSpendAlerts []string                           `json:"wasted_spend_alerts"`
	ValidationSummary types.ValidationSummary            `json:"validation_summary"`
	Metadata          Metadata                           `json:"metadata"`
}

// BuildAdReport projects optimizer output and the validation summary into
// the dashboard document. Nil collections become empty ones so the JSON
// always carries every key with a well-typed value.
func BuildAdReport(result optimizer.Result, summary types.ValidationSummary, meta Metadata) AdReport {
	r := AdReport{
		WinningPortfolio:  result.Portfolio,
		AllPerformances:   result.Performances,
		SegmentOwnership:  result.SegmentOwnership,
		AudienceSegments:  result.AudienceSegments,
		OverlapMatrix:     result.OverlapMatrix,
		WastedSpendAlerts: result.WastedSpendAlerts,
		ValidationSummary: summary,
		Metadata:          meta,
	}
	if r.WinningPortfolio == nil {
		r.WinningPortfolio = []optimizer.PortfolioEntry{}
	}
	if r.AllPerformances == nil {
		r.AllPerformances = map[string]optimizer.AdPerformance{}
	}
	if r.SegmentOwnership == nil {
		r.SegmentOwnership = map[string]string{}
	}
	if r.AudienceSegments == nil {
		r.AudienceSegments = map[string]map[string]int{}
	}
	if r.OverlapMatrix == nil {
		r.OverlapMatrix = map[string]map[string]float64{}
	}
	if r.WastedSpendAlerts == nil {
		r.WastedSpendAlerts = []string{}
	}
	return r
}

// OverallMetrics summarizes the flow comparison.
type OverallMetrics struct {
	WinningFlowID         string          `json:"winning_flow_id"`
	WinningFlowName       string          `json:"winning_flow_name"`
	WinningCompletionRate float64         `json:"winning_completion_rate"`
	MarginOverRunnerUp    float64         `json:"margin_over_runner_up"`
	FlowRankings          []flows.Ranking `json:"flow_rankings"`
	WhyWinnerWins         string          `json:"why_winner_wins"`
}

// FlowReport is the flow-mode output document. Per-flow maps are keyed
// by flow_id.
type FlowReport struct {
	OverallMetrics     OverallMetrics                      `json:"overall_metrics"`
	ViewPerformance    map[string][]flows.ScreenStats      `json:"view_performance"`
	SegmentAnalysis    map[string]map[string]float64       `json:"segment_analysis"`
	UtilityModeMetrics map[string]flows.UtilityModeMetrics `json:"utility_mode_metrics"`
	DropOffAnalysis    map[string]flows.DropOffAnalysis    `json:"drop_off_analysis"`
	Recommendations    map[string][]string                 `json:"recommendations"`
	Journeys           map[string][]types.Journey          `json:"journeys"`
	Metadata           Metadata                            `json:"metadata"`
}

// BuildFlowReport projects the flow comparison into the dashboard document.
// SegmentAnalysis is the completion rate by zone and purchasing tier, so the
// dashboard can show which audience each variant loses.
func BuildFlowReport(cmp flows.Comparison, personas []types.Persona, journeys map[string][]types.Journey, meta Metadata) FlowReport {
	r := FlowReport{
		OverallMetrics: OverallMetrics{
			WinningFlowID:         cmp.WinningFlowID,
			WinningFlowName:       cmp.WinningFlowName,
			WinningCompletionRate: cmp.WinningCompletionRate,
			MarginOverRunnerUp:    cmp.MarginOverRunnerUp,
			FlowRankings:          cmp.Rankings,
			WhyWinnerWins:         cmp.WhyWinnerWins,
		},
		ViewPerformance:    map[string][]flows.ScreenStats{},
		SegmentAnalysis:    segmentCompletion(personas, journeys),
		UtilityModeMetrics: map[string]flows.UtilityModeMetrics{},
		DropOffAnalysis:    map[string]flows.DropOffAnalysis{},
		Recommendations:    map[string][]string{},
		Journeys:           journeys,
		Metadata:           meta,
	}
	if r.OverallMetrics.FlowRankings == nil {
		r.OverallMetrics.FlowRankings = []flows.Ranking{}
	}
	if r.Journeys == nil {
		r.Journeys = map[string][]types.Journey{}
	}
	for flowID, analysis := range cmp.PerFlow {
		r.ViewPerformance[flowID] = analysis.Screens
		r.UtilityModeMetrics[flowID] = analysis.Utility
		r.DropOffAnalysis[flowID] = analysis.DropOff
		r.Recommendations[flowID] = analysis.Recommendations
	}
	return r
}

// segmentCompletion computes per-flow completion rates by zone_tier segment.
func segmentCompletion(personas []types.Persona, journeys map[string][]types.Journey) map[string]map[string]float64 {
	personaByUUID := make(map[string]types.Persona, len(personas))
	for _, p := range personas {
		personaByUUID[p.UUID] = p
	}

	analysis := make(map[string]map[string]float64, len(journeys))
	for flowID, flowJourneys := range journeys {
		totals := make(map[string]int)
		completed := make(map[string]int)
		for _, j := range flowJourneys {
			p, ok := personaByUUID[j.PersonaUUID]
			if !ok {
				continue
			}
			segment := p.Zone + "_" + p.PurchasingPowerTier
			totals[segment]++
			if j.Completed {
				completed[segment]++
			}
		}
		rates := make(map[string]float64, len(totals))
		for segment, total := range totals {
			rates[segment] = float64(completed[segment]) / float64(total) * 100
		}
		analysis[flowID] = rates
	}
	return analysis
}

// WriteJSON marshals the document with stable formatting and writes it to
// path, creating parent directories.
func WriteJSON(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	logging.Report("wrote %s (%d bytes)", path, len(data)+1)
	return nil
}
