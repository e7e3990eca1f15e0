// Package optimizer allocates budget across ad creatives from validated
// reactions. The allocation favors ads that reach personas nobody else
// reaches; near-duplicate audiences are discarded outright instead of
// diluting the winners.
package optimizer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"apriori/internal/logging"
	"apriori/internal/types"
)

// Config holds the optimizer's tuning constants. Rates are fractions in
// [0, 1], not percentages.
type Config struct {
	// HighOverlap is the Jaccard overlap above which the lower-reach ad
	// of a pair is discarded from the portfolio.
	HighOverlap float64
	// ClickbaitClickRate and ClickbaitConversion together define the
	// clickbait trap: click rate above the first, conversion below the
	// second.
	ClickbaitClickRate  float64
	ClickbaitConversion float64
	// DeviceGapFraction is the share of reached personas missing the
	// ad's required device above which a wasted-spend alert fires.
	DeviceGapFraction float64
	// MaxAds caps the portfolio size.
	MaxAds int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		HighOverlap:         0.70,
		ClickbaitClickRate:  0.30,
		ClickbaitConversion: 0.10,
		DeviceGapFraction:   0.50,
		MaxAds:              3,
	}
}

// AdPerformance aggregates one ad's raw metrics. Rates are percentages
// rounded to two decimals for reporting.
type AdPerformance struct {
	AdID             string  `json:"ad_id"`
	TotalImpressions int     `json:"total_impressions"`
	Clicks           int     `json:"clicks"`
	HighIntentLeads  int     `json:"high_intent_leads"`
	ClickRate        float64 `json:"click_rate"`
	ConversionRate   float64 `json:"conversion_rate"`
	UniqueReach      int     `json:"unique_reach"`
}

// PortfolioEntry is one ad's slot in the winning portfolio.
type PortfolioEntry struct {
	AdID                string  `json:"ad_id"`
	Role                string  `json:"role"`
	BudgetSplit         float64 `json:"budget_split"` // percentage, entries sum to 100
	TargetSegment       string  `json:"target_segment"`
	UniqueReach         int     `json:"unique_reach"`
	ExpectedConversions int     `json:"expected_conversions"`
}

// Result is the full optimization output.
type Result struct {
	Portfolio         []PortfolioEntry              `json:"winning_portfolio"`
	Performances      map[string]AdPerformance      `json:"all_performances"`
	OverlapMatrix     map[string]map[string]float64 `json:"overlap_matrix"`
	AudienceSegments  map[string]map[string]int     `json:"audience_segments"`
	SegmentOwnership  map[string]string             `json:"segment_ownership"`
	WastedSpendAlerts []string                      `json:"wasted_spend_alerts"`
}

// Optimizer computes portfolio allocations. Stateless and synchronous;
// all methods are pure over their inputs.
type Optimizer struct {
	cfg Config
}

// New creates an optimizer.
func New(cfg Config) *Optimizer {
	if cfg.MaxAds <= 0 {
		cfg.MaxAds = 3
	}
	return &Optimizer{cfg: cfg}
}

// Optimize produces the portfolio from validated reactions. Reactions
// should already be filtered by the validator; the optimizer trusts them.
func (o *Optimizer) Optimize(ads []types.Ad, personas []types.Persona, reactions []types.AdReaction) Result {
	performances := o.Performances(ads, reactions)
	reach := clickReach(reactions)
	overlaps := OverlapMatrix(reach)
	segments := audienceSegments(personas, reactions)

	result := Result{
		Performances:      performances,
		OverlapMatrix:     overlaps,
		AudienceSegments:  segments,
		SegmentOwnership:  segmentOwnership(segments),
		WastedSpendAlerts: o.wastedSpendAlerts(ads, personas, reach, performances),
	}

	survivors := o.selectSurvivors(reach, overlaps)
	scores := o.scoreAds(survivors, performances, overlaps)
	result.Portfolio = o.allocateBudget(scores, performances, segments)

	logging.Optimizer("portfolio: %d/%d ads selected, %d alerts",
		len(result.Portfolio), len(ads), len(result.WastedSpendAlerts))
	return result
}

// Performances aggregates per-ad metrics. Ads with no reactions still get
// a zeroed entry so the report covers every creative.
func (o *Optimizer) Performances(ads []types.Ad, reactions []types.AdReaction) map[string]AdPerformance {
	reach := clickReach(reactions)
	exclusive := exclusiveReach(reach)

	stats := make(map[string]*AdPerformance, len(ads))
	for _, ad := range ads {
		stats[ad.AdID] = &AdPerformance{AdID: ad.AdID}
	}
	for _, r := range reactions {
		perf, ok := stats[r.AdID]
		if !ok {
			perf = &AdPerformance{AdID: r.AdID}
			stats[r.AdID] = perf
		}
		perf.TotalImpressions++
		if r.Action == types.ActionClick {
			perf.Clicks++
		}
		if r.IntentLevel == types.IntentHigh {
			perf.HighIntentLeads++
		}
	}

	performances := make(map[string]AdPerformance, len(stats))
	for adID, perf := range stats {
		if perf.TotalImpressions > 0 {
			perf.ClickRate = round2(float64(perf.Clicks) / float64(perf.TotalImpressions) * 100)
			perf.ConversionRate = round2(float64(perf.HighIntentLeads) / float64(perf.TotalImpressions) * 100)
		}
		perf.UniqueReach = len(exclusive[adID])
		performances[adID] = *perf
	}
	return performances
}

// OverlapMatrix computes pairwise Jaccard overlap between ad reach sets.
// Self-overlap is excluded. The matrix is symmetric by construction.
func OverlapMatrix(reach map[string]map[string]bool) map[string]map[string]float64 {
	adIDs := sortedKeys(reach)
	matrix := make(map[string]map[string]float64, len(adIDs))
	for _, a := range adIDs {
		matrix[a] = make(map[string]float64, len(adIDs)-1)
	}
	for i, a := range adIDs {
		for _, b := range adIDs[i+1:] {
			j := jaccard(reach[a], reach[b])
			matrix[a][b] = j
			matrix[b][a] = j
		}
	}
	return matrix
}

// clickReach builds each ad's reach: the set of personas that clicked.
func clickReach(reactions []types.AdReaction) map[string]map[string]bool {
	reach := make(map[string]map[string]bool)
	for _, r := range reactions {
		if r.Action != types.ActionClick {
			continue
		}
		if reach[r.AdID] == nil {
			reach[r.AdID] = make(map[string]bool)
		}
		reach[r.AdID][r.PersonaUUID] = true
	}
	return reach
}

// exclusiveReach keeps, per ad, only the personas no other ad reached.
// A persona two ads both converted is contested and counts for neither;
// budget should reward coverage nobody else provides.
func exclusiveReach(reach map[string]map[string]bool) map[string]map[string]bool {
	claimCount := make(map[string]int)
	for _, personas := range reach {
		for uuid := range personas {
			claimCount[uuid]++
		}
	}
	exclusive := make(map[string]map[string]bool, len(reach))
	for adID, personas := range reach {
		own := make(map[string]bool)
		for uuid := range personas {
			if claimCount[uuid] == 1 {
				own[uuid] = true
			}
		}
		exclusive[adID] = own
	}
	return exclusive
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for uuid := range a {
		if b[uuid] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return round3(float64(inter) / float64(union))
}

// selectSurvivors discards ads whose overlap with a preferred ad exceeds
// the threshold. Preference is raw reach descending with ad_id ascending
// as the tie-break, so repeated runs produce the same portfolio.
func (o *Optimizer) selectSurvivors(reach map[string]map[string]bool, overlaps map[string]map[string]float64) []string {
	candidates := sortedKeys(reach)
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := len(reach[candidates[i]]), len(reach[candidates[j]])
		if ri != rj {
			return ri > rj
		}
		return candidates[i] < candidates[j]
	})

	var survivors []string
	for _, adID := range candidates {
		if len(reach[adID]) == 0 {
			continue
		}
		discarded := false
		for _, kept := range survivors {
			if overlaps[adID][kept] > o.cfg.HighOverlap {
				logging.Optimizer("discarding %s: %.0f%% overlap with %s", adID, overlaps[adID][kept]*100, kept)
				discarded = true
				break
			}
		}
		if !discarded {
			survivors = append(survivors, adID)
		}
		if len(survivors) == o.cfg.MaxAds {
			break
		}
	}
	return survivors
}

type adScore struct {
	adID  string
	score float64
}

func (o *Optimizer) scoreAds(survivors []string, performances map[string]AdPerformance, overlaps map[string]map[string]float64) []adScore {
	scores := make([]adScore, 0, len(survivors))
	for _, adID := range survivors {
		perf := performances[adID]
		maxOverlap := 0.0
		for _, v := range overlaps[adID] {
			if v > maxOverlap {
				maxOverlap = v
			}
		}
		score := float64(perf.UniqueReach) * (1 + perf.ConversionRate/100) * (1 - maxOverlap)
		scores = append(scores, adScore{adID: adID, score: score})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].adID < scores[j].adID
	})
	return scores
}

// allocateBudget converts scores into percentage splits summing to
// exactly 100. The rounding residual lands on the top-scoring ad.
func (o *Optimizer) allocateBudget(scores []adScore, performances map[string]AdPerformance, segments map[string]map[string]int) []PortfolioEntry {
	total := 0.0
	for _, s := range scores {
		total += s.score
	}
	if total == 0 {
		return nil
	}

	entries := make([]PortfolioEntry, 0, len(scores))
	allocated := 0.0
	for _, s := range scores {
		perf := performances[s.adID]
		split := round1(s.score / total * 100)
		allocated += split
		segment := dominantSegment(segments[s.adID])
		entries = append(entries, PortfolioEntry{
			AdID:                s.adID,
			Role:                creativeRole(perf, segment),
			BudgetSplit:         split,
			TargetSegment:       segment,
			UniqueReach:         perf.UniqueReach,
			ExpectedConversions: perf.HighIntentLeads,
		})
	}
	if residual := round1(100 - allocated); residual != 0 {
		entries[0].BudgetSplit = round1(entries[0].BudgetSplit + residual)
	}
	return entries
}

// audienceSegments counts engaged personas per ad across several segment
// dimensions. Engagement is a click or at least medium intent.
func audienceSegments(personas []types.Persona, reactions []types.AdReaction) map[string]map[string]int {
	personaByUUID := make(map[string]types.Persona, len(personas))
	for _, p := range personas {
		personaByUUID[p.UUID] = p
	}

	segments := make(map[string]map[string]int)
	for _, r := range reactions {
		if r.Action != types.ActionClick && r.IntentLevel != types.IntentHigh && r.IntentLevel != types.IntentMedium {
			continue
		}
		p, ok := personaByUUID[r.PersonaUUID]
		if !ok {
			continue
		}
		if segments[r.AdID] == nil {
			segments[r.AdID] = make(map[string]int)
		}
		s := segments[r.AdID]
		s[p.Zone+"_"+p.PurchasingPowerTier]++
		s["Digital_"+literacyBand(p.DigitalLiteracy)]++
		s[ageBand(p.Age)]++
		s["Device_"+p.PrimaryDevice]++
	}
	return segments
}

// segmentOwnership assigns each segment to the ad that engages it most.
func segmentOwnership(segments map[string]map[string]int) map[string]string {
	ownership := make(map[string]string)
	best := make(map[string]int)
	for _, adID := range sortedKeys(segments) {
		for segment, count := range segments[adID] {
			if count > best[segment] || (count == best[segment] && ownership[segment] != "" && adID < ownership[segment]) {
				best[segment] = count
				ownership[segment] = adID
			}
		}
	}
	return ownership
}

func literacyBand(score int) string {
	switch {
	case score >= 8:
		return "High"
	case score >= 5:
		return "Medium"
	default:
		return "Low"
	}
}

func ageBand(age int) string {
	switch {
	case age < 25:
		return "Youth_18-24"
	case age < 35:
		return "Young_Adults_25-34"
	case age < 50:
		return "Middle_Age_35-49"
	default:
		return "Senior_50+"
	}
}

// dominantSegment picks the most frequent segment key, smallest key on
// ties so the choice is stable.
func dominantSegment(counts map[string]int) string {
	if len(counts) == 0 {
		return "General"
	}
	bestKey, bestCount := "", -1
	for _, key := range sortedKeys(counts) {
		if counts[key] > bestCount {
			bestKey, bestCount = key, counts[key]
		}
	}
	return bestKey
}

func creativeRole(perf AdPerformance, segment string) string {
	switch {
	case perf.ConversionRate > 20:
		return "The Converter"
	case perf.ClickRate > 20:
		return "The Engager"
	case strings.Contains(segment, "High") || strings.Contains(segment, "Premium"):
		return "The Premium Play"
	case strings.Contains(segment, "Rural"):
		return "The Trust Builder"
	case strings.Contains(segment, "Youth") || strings.Contains(segment, "Young"):
		return "The Youth Magnet"
	case strings.Contains(segment, "Digital_High"):
		return "The Tech-Savvy Performer"
	default:
		return "The Reach Extender"
	}
}

var iosCopyKeywords = []string{"ios", "app store", "iphone"}

var appCopyKeywords = []string{"download app", "install now"}

// wastedSpendAlerts flags clickbait traps and device gaps. Zero-reach ads
// never alert; there is no spend to waste on them.
func (o *Optimizer) wastedSpendAlerts(ads []types.Ad, personas []types.Persona, reach map[string]map[string]bool, performances map[string]AdPerformance) []string {
	personaByUUID := make(map[string]types.Persona, len(personas))
	for _, p := range personas {
		personaByUUID[p.UUID] = p
	}
	adByID := make(map[string]types.Ad, len(ads))
	for _, ad := range ads {
		adByID[ad.AdID] = ad
	}

	var alerts []string
	for _, adID := range sortedKeys(performances) {
		perf := performances[adID]
		reached := reach[adID]
		if len(reached) == 0 {
			continue
		}

		if perf.ClickRate/100 > o.cfg.ClickbaitClickRate && perf.ConversionRate/100 < o.cfg.ClickbaitConversion {
			alerts = append(alerts, fmt.Sprintf(
				"Ad %s is a clickbait trap: %.2f%% click rate but only %.2f%% high-intent conversion. Curiosity clicks without purchase intent.",
				adID, perf.ClickRate, perf.ConversionRate))
		}

		ad, ok := adByID[adID]
		if !ok {
			continue
		}
		required := requiredDevices(ad)
		if required == nil {
			continue
		}
		missing := 0
		for uuid := range reached {
			if p, ok := personaByUUID[uuid]; ok && !required[p.PrimaryDevice] {
				missing++
			}
		}
		if frac := float64(missing) / float64(len(reached)); frac > o.cfg.DeviceGapFraction {
			alerts = append(alerts, fmt.Sprintf(
				"Ad %s requires a device %.0f%% of its reached personas do not own.",
				adID, frac*100))
		}
	}
	return alerts
}

// requiredDevices infers the device an ad's copy demands. Nil means no
// device requirement.
func requiredDevices(ad types.Ad) map[string]bool {
	copyLower := strings.ToLower(ad.Copy)
	for _, kw := range iosCopyKeywords {
		if strings.Contains(copyLower, kw) {
			return map[string]bool{types.DeviceIPhone: true}
		}
	}
	for _, kw := range appCopyKeywords {
		if strings.Contains(copyLower, kw) {
			return map[string]bool{types.DeviceIPhone: true, types.DeviceAndroid: true}
		}
	}
	return nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
