// Package flows analyzes simulated journeys: where personas drop off, why,
// and which flow variant wins. All analysis is synchronous and pure over
// the journey set; failed simulations never reach this layer.
package flows

import (
	"fmt"
	"sort"
	"strings"

	"apriori/internal/logging"
	"apriori/internal/types"
)

// Config holds the analyzer's thresholds. Rates are fractions in [0, 1].
type Config struct {
	// CompletionWarn is the completion rate below which a flow gets a
	// simplification recommendation.
	CompletionWarn float64
	// ScreenDropOffCritical is the per-screen drop-off fraction above
	// which a screen counts as a friction point.
	ScreenDropOffCritical float64
	// LowValueScore is the value-perception score at or below which an
	// optional-screen continuation counts as an inertia override.
	LowValueScore int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{CompletionWarn: 0.50, ScreenDropOffCritical: 0.40, LowValueScore: 4}
}

// ScreenStats aggregates one screen's decisions across all journeys.
type ScreenStats struct {
	ViewID         string  `json:"view_id"`
	ViewNumber     int     `json:"view_number"`
	ViewName       string  `json:"view_name"`
	StepType       string  `json:"step_type"`
	Entered        int     `json:"entered"`
	Continued      int     `json:"continued"`
	DroppedOff     int     `json:"dropped_off"`
	ContinueRate   float64 `json:"continue_rate"` // percent of entrants
	AvgClarity     float64 `json:"avg_clarity"`
	AvgValue       float64 `json:"avg_value"`
	AvgTrust       float64 `json:"avg_trust"`
	AvgTimeSeconds float64 `json:"avg_time_seconds"`
}

// UtilityModeMetrics breaks decisions down by mandatory/optional step type.
// An inertia override is an optional-screen continuation despite a low
// value score: the persona did not see the point but moved on anyway.
type UtilityModeMetrics struct {
	MandatoryDecisions    int     `json:"mandatory_decisions"`
	OptionalDecisions     int     `json:"optional_decisions"`
	MandatoryContinueRate float64 `json:"mandatory_continue_rate"`
	OptionalContinueRate  float64 `json:"optional_continue_rate"`
	InertiaOverrides      int     `json:"inertia_overrides"`
	InertiaOverrideRate   float64 `json:"inertia_override_rate"` // percent of optional continuations
}

// ReasonCount is one clustered drop-off reason with its frequency.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// DropOffAnalysis locates the dominant drop-off screen and clusters the
// free-text reasons given there.
type DropOffAnalysis struct {
	DropOffByView       map[int]int   `json:"drop_off_by_view"`
	DominantView        int           `json:"dominant_drop_off_view"` // 0 when nobody dropped
	DominantViewName    string        `json:"dominant_drop_off_view_name,omitempty"`
	DominantReason      string        `json:"dominant_drop_off_reason,omitempty"`
	DominantReasonCount int           `json:"dominant_reason_count,omitempty"`
	ReasonsRanked       []ReasonCount `json:"all_reasons_ranked,omitempty"`
}

// FlowAnalysis is the full per-flow report.
type FlowAnalysis struct {
	FlowID          string             `json:"flow_id"`
	FlowName        string             `json:"flow_name"`
	TotalJourneys   int                `json:"total_journeys"`
	Completed       int                `json:"completed"`
	Dropped         int                `json:"dropped"`
	CompletionRate  float64            `json:"completion_rate"` // percent
	AvgTimeSeconds  float64            `json:"avg_time_seconds"`
	Screens         []ScreenStats      `json:"view_performance"`
	Utility         UtilityModeMetrics `json:"utility_mode_metrics"`
	DropOff         DropOffAnalysis    `json:"drop_off_analysis"`
	Recommendations []string           `json:"recommendations"`
}

// Ranking is one flow's position in the comparison.
type Ranking struct {
	FlowID         string  `json:"flow_id"`
	FlowName       string  `json:"flow_name"`
	CompletionRate float64 `json:"completion_rate"`
	Completed      int     `json:"completed"`
	Dropped        int     `json:"dropped"`
	DominantView   int     `json:"dominant_drop_off_view,omitempty"`
	DominantReason string  `json:"dominant_drop_off_reason,omitempty"`
}

// Comparison ranks flow variants against each other.
type Comparison struct {
	WinningFlowID         string                  `json:"winning_flow_id"`
	WinningFlowName       string                  `json:"winning_flow_name"`
	WinningCompletionRate float64                 `json:"winning_completion_rate"`
	MarginOverRunnerUp    float64                 `json:"margin_over_runner_up"` // percentage points
	Rankings              []Ranking               `json:"flow_rankings"`
	PerFlow               map[string]FlowAnalysis `json:"per_flow_analysis"`
	WhyWinnerWins         string                  `json:"why_winner_wins"`
}

// Analyzer computes flow statistics.
type Analyzer struct {
	cfg Config
}

// New creates an analyzer.
func New(cfg Config) *Analyzer {
	if cfg.LowValueScore <= 0 {
		cfg.LowValueScore = 4
	}
	return &Analyzer{cfg: cfg}
}

// Analyze computes the full per-flow report for one flow variant.
func (a *Analyzer) Analyze(flow types.Flow, journeys []types.Journey) FlowAnalysis {
	analysis := FlowAnalysis{
		FlowID:        flow.FlowID,
		FlowName:      flow.FlowName,
		TotalJourneys: len(journeys),
	}

	totalTime := 0
	for _, j := range journeys {
		if j.Completed {
			analysis.Completed++
		} else {
			analysis.Dropped++
		}
		totalTime += j.TotalTimeSeconds
	}
	if analysis.TotalJourneys > 0 {
		analysis.CompletionRate = float64(analysis.Completed) / float64(analysis.TotalJourneys) * 100
		analysis.AvgTimeSeconds = float64(totalTime) / float64(analysis.TotalJourneys)
	}

	analysis.Screens = screenStats(flow, journeys)
	analysis.Utility = a.utilityMetrics(journeys)
	analysis.DropOff = dropOffAnalysis(flow, journeys)
	analysis.Recommendations = a.recommendations(analysis)

	logging.Flows("%s: %d journeys, %.1f%% completion, dominant drop-off view %d",
		flow.FlowID, analysis.TotalJourneys, analysis.CompletionRate, analysis.DropOff.DominantView)
	return analysis
}

// Compare analyzes every flow variant and ranks them by completion rate.
func (a *Analyzer) Compare(flowDefs []types.Flow, journeys map[string][]types.Journey) Comparison {
	perFlow := make(map[string]FlowAnalysis, len(flowDefs))
	for _, flow := range flowDefs {
		perFlow[flow.FlowID] = a.Analyze(flow, journeys[flow.FlowID])
	}

	rankings := make([]Ranking, 0, len(perFlow))
	for _, f := range perFlow {
		rankings = append(rankings, Ranking{
			FlowID:         f.FlowID,
			FlowName:       f.FlowName,
			CompletionRate: f.CompletionRate,
			Completed:      f.Completed,
			Dropped:        f.Dropped,
			DominantView:   f.DropOff.DominantView,
			DominantReason: f.DropOff.DominantReason,
		})
	}
	sort.SliceStable(rankings, func(i, j int) bool {
		if rankings[i].CompletionRate != rankings[j].CompletionRate {
			return rankings[i].CompletionRate > rankings[j].CompletionRate
		}
		return rankings[i].FlowID < rankings[j].FlowID
	})

	cmp := Comparison{Rankings: rankings, PerFlow: perFlow}
	if len(rankings) == 0 {
		cmp.WhyWinnerWins = "Insufficient data."
		return cmp
	}

	winner := rankings[0]
	cmp.WinningFlowID = winner.FlowID
	cmp.WinningFlowName = winner.FlowName
	cmp.WinningCompletionRate = winner.CompletionRate

	parts := []string{fmt.Sprintf("%s achieves %.1f%% completion rate.", winner.FlowName, winner.CompletionRate)}
	if winner.DominantView > 0 {
		parts = append(parts, fmt.Sprintf("Main drop-off point: view %d (reason: %s).",
			winner.DominantView, winner.DominantReason))
	}
	if len(rankings) > 1 {
		cmp.MarginOverRunnerUp = winner.CompletionRate - rankings[1].CompletionRate
		parts = append(parts, fmt.Sprintf("Beats next best flow by %.1f percentage points.", cmp.MarginOverRunnerUp))
	}
	cmp.WhyWinnerWins = strings.Join(parts, " ")
	return cmp
}

// screenStats aggregates decisions per screen, keyed by the flow's own
// screen order. Screens no journey reached still appear with zero entrants.
func screenStats(flow types.Flow, journeys []types.Journey) []ScreenStats {
	stats := make([]ScreenStats, len(flow.Screens))
	sums := make([]struct{ clarity, value, trust, timeSpent int }, len(flow.Screens))
	for i, screen := range flow.Screens {
		stats[i] = ScreenStats{
			ViewID:     screen.ViewID,
			ViewNumber: screen.ViewNumber,
			ViewName:   screen.ViewName,
			StepType:   screen.StepType,
		}
	}

	index := make(map[int]int, len(flow.Screens))
	for i, screen := range flow.Screens {
		index[screen.ViewNumber] = i
	}

	for _, j := range journeys {
		for _, d := range j.Decisions {
			i, ok := index[d.ViewNumber]
			if !ok {
				continue
			}
			stats[i].Entered++
			if d.Decision == types.DecisionContinue {
				stats[i].Continued++
			} else {
				stats[i].DroppedOff++
			}
			sums[i].clarity += d.ClarityScore
			sums[i].value += d.ValuePerceptionScore
			sums[i].trust += d.TrustScore
			sums[i].timeSpent += d.TimeSpentSeconds
		}
	}

	for i := range stats {
		if stats[i].Entered == 0 {
			continue
		}
		n := float64(stats[i].Entered)
		stats[i].ContinueRate = float64(stats[i].Continued) / n * 100
		stats[i].AvgClarity = float64(sums[i].clarity) / n
		stats[i].AvgValue = float64(sums[i].value) / n
		stats[i].AvgTrust = float64(sums[i].trust) / n
		stats[i].AvgTimeSeconds = float64(sums[i].timeSpent) / n
	}
	return stats
}

func (a *Analyzer) utilityMetrics(journeys []types.Journey) UtilityModeMetrics {
	var m UtilityModeMetrics
	mandatoryContinued, optionalContinued := 0, 0
	for _, j := range journeys {
		for _, d := range j.Decisions {
			if d.StepType == types.StepOptional {
				m.OptionalDecisions++
				if d.Decision == types.DecisionContinue {
					optionalContinued++
					if d.ValuePerceptionScore <= a.cfg.LowValueScore {
						m.InertiaOverrides++
					}
				}
			} else {
				m.MandatoryDecisions++
				if d.Decision == types.DecisionContinue {
					mandatoryContinued++
				}
			}
		}
	}
	if m.MandatoryDecisions > 0 {
		m.MandatoryContinueRate = float64(mandatoryContinued) / float64(m.MandatoryDecisions) * 100
	}
	if m.OptionalDecisions > 0 {
		m.OptionalContinueRate = float64(optionalContinued) / float64(m.OptionalDecisions) * 100
	}
	if optionalContinued > 0 {
		m.InertiaOverrideRate = float64(m.InertiaOverrides) / float64(optionalContinued) * 100
	}
	return m
}

// dropOffAnalysis finds the screen with the strict maximum drop-off count.
// Ties go to the lowest view number so attribution is stable.
func dropOffAnalysis(flow types.Flow, journeys []types.Journey) DropOffAnalysis {
	analysis := DropOffAnalysis{DropOffByView: make(map[int]int)}
	reasonsByView := make(map[int][]string)

	for _, j := range journeys {
		if j.Completed || j.DroppedOffAtView == 0 {
			continue
		}
		analysis.DropOffByView[j.DroppedOffAtView]++
		reason := j.DropOffReason
		if reason == "" {
			reason = "Unknown"
		}
		reasonsByView[j.DroppedOffAtView] = append(reasonsByView[j.DroppedOffAtView], reason)
	}
	if len(analysis.DropOffByView) == 0 {
		return analysis
	}

	views := make([]int, 0, len(analysis.DropOffByView))
	for v := range analysis.DropOffByView {
		views = append(views, v)
	}
	sort.Ints(views)
	for _, v := range views {
		if analysis.DropOffByView[v] > analysis.DropOffByView[analysis.DominantView] {
			analysis.DominantView = v
		}
	}
	for _, screen := range flow.Screens {
		if screen.ViewNumber == analysis.DominantView {
			analysis.DominantViewName = screen.ViewName
			break
		}
	}

	analysis.ReasonsRanked = clusterReasons(reasonsByView[analysis.DominantView])
	if len(analysis.ReasonsRanked) > 0 {
		analysis.DominantReason = analysis.ReasonsRanked[0].Reason
		analysis.DominantReasonCount = analysis.ReasonsRanked[0].Count
	}
	return analysis
}

// clusterReasons groups free-text reasons into representative buckets by
// keyword, sorted by frequency with alphabetical tie-break. The grouping
// is a frequency heuristic, not semantic clustering.
func clusterReasons(reasons []string) []ReasonCount {
	counts := make(map[string]int)
	for _, r := range reasons {
		counts[reasonKey(r)]++
	}
	ranked := make([]ReasonCount, 0, len(counts))
	for reason, count := range counts {
		ranked = append(ranked, ReasonCount{Reason: reason, Count: count})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Reason < ranked[j].Reason
	})
	return ranked
}

// reasonKey normalizes a verbose drop-off reason to its core complaint.
func reasonKey(reason string) string {
	r := strings.ToLower(strings.TrimSpace(reason))
	switch {
	case r == "":
		return "Unknown"
	case strings.Contains(r, "optional") && strings.Contains(r, "value"):
		return "Optional step, unclear value"
	case strings.Contains(r, "optional"):
		return "Optional step, chose to skip"
	case strings.Contains(r, "premium") || strings.Contains(r, "price") || strings.Contains(r, "cost"):
		return "Price or premium concerns"
	case strings.Contains(r, "overwhelm") || strings.Contains(r, "too much") || strings.Contains(r, "complex"):
		return "Information overload or complexity"
	case strings.Contains(r, "time") && (strings.Contains(r, "need") || strings.Contains(r, "think") || strings.Contains(r, "later")):
		return "Need more time to decide"
	case strings.Contains(r, "spouse") || strings.Contains(r, "family") || strings.Contains(r, "discuss"):
		return "Need to discuss with family"
	case strings.Contains(r, "trust") || strings.Contains(r, "skeptical"):
		return "Trust or legitimacy concerns"
	case strings.Contains(r, "inertia") || strings.Contains(r, "lazy") || strings.Contains(r, "don't need"):
		return "Low motivation or inertia"
	case strings.Contains(r, "mandatory") && strings.Contains(r, "lengthy"):
		return "Flow too lengthy"
	case strings.Contains(r, "error") || strings.Contains(r, "technical"):
		return "Technical or UX friction"
	}
	// Truncate on a rune boundary; reasons arrive in Indic scripts too
	if runes := []rune(reason); len(runes) > 80 {
		return string(runes[:80]) + "..."
	}
	return reason
}

// recommendations renders the deterministic template advice for one flow.
func (a *Analyzer) recommendations(f FlowAnalysis) []string {
	var recs []string
	if f.DropOff.DominantView > 0 && f.DropOff.DominantReason != "" {
		recs = append(recs, fmt.Sprintf("Address dominant drop-off at view %d: %s",
			f.DropOff.DominantView, f.DropOff.DominantReason))
	}
	if f.TotalJourneys > 0 && f.CompletionRate < a.cfg.CompletionWarn*100 {
		recs = append(recs, fmt.Sprintf(
			"Overall completion is %.1f%%, consider simplifying mandatory steps or adding progress indicators.",
			f.CompletionRate))
	}
	var friction []int
	for _, s := range f.Screens {
		if s.Entered > 0 && float64(s.DroppedOff)/float64(s.Entered) > a.cfg.ScreenDropOffCritical {
			friction = append(friction, s.ViewNumber)
		}
	}
	if len(friction) > 1 {
		sort.Ints(friction)
		recs = append(recs, fmt.Sprintf(
			"Multiple friction points (views %v), prioritize the highest drop-off first.", friction))
	}
	return recs
}
