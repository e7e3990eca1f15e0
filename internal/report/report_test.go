package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"apriori/internal/flows"
	"apriori/internal/optimizer"
	"apriori/internal/types"
)

func sampleResult() optimizer.Result {
	return optimizer.Result{
		Portfolio: []optimizer.PortfolioEntry{
			{AdID: "ad-b", Role: "The Reach Extender", BudgetSplit: 57.1, TargetSegment: "Urban_Mid", UniqueReach: 4},
			{AdID: "ad-a", Role: "The Reach Extender", BudgetSplit: 42.9, TargetSegment: "Urban_Mid", UniqueReach: 3},
		},
		Performances: map[string]optimizer.AdPerformance{
			"ad-a": {AdID: "ad-a", TotalImpressions: 10, Clicks: 6, UniqueReach: 3, ClickRate: 60},
			"ad-b": {AdID: "ad-b", TotalImpressions: 10, Clicks: 7, UniqueReach: 4, ClickRate: 70},
		},
		OverlapMatrix: map[string]map[string]float64{
			"ad-a": {"ad-b": 0.3},
			"ad-b": {"ad-a": 0.3},
		},
		AudienceSegments:  map[string]map[string]int{"ad-a": {"Urban_Mid": 6}},
		SegmentOwnership:  map[string]string{"Urban_Mid": "ad-a"},
		WastedSpendAlerts: []string{},
	}
}

func sampleSummary() types.ValidationSummary {
	return types.ValidationSummary{Total: 20, Valid: 18, Flagged: 2, FlaggedPercentage: 10.0}
}

func sampleMetadata() Metadata {
	return Metadata{NumPersonas: 10, NumAds: 2, ExecutionTimeSeconds: 42.5, TotalReactions: 20, ValidReactions: 18}
}

func TestAdReportHasAllKeys(t *testing.T) {
	r := BuildAdReport(sampleResult(), sampleSummary(), sampleMetadata())
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"winning_portfolio", "all_performances", "segment_ownership",
		"audience_segments", "overlap_matrix", "wasted_spend_alerts",
		"validation_summary", "metadata",
	} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("missing top-level key %q", key)
		}
	}
}

func TestAdReportEmptyInputsStayTyped(t *testing.T) {
	r := BuildAdReport(optimizer.Result{}, types.ValidationSummary{}, Metadata{})
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("null")) {
		t.Fatalf("empty report contains null values: %s", data)
	}
}

func TestAdReportDeterministic(t *testing.T) {
	first, err := json.MarshalIndent(BuildAdReport(sampleResult(), sampleSummary(), sampleMetadata()), "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := json.MarshalIndent(BuildAdReport(sampleResult(), sampleSummary(), sampleMetadata()), "", "  ")
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("run %d produced different bytes", i)
		}
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports", "ads.json")

	want := BuildAdReport(sampleResult(), sampleSummary(), sampleMetadata())
	if err := WriteJSON(path, want); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got AdReport
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("report round trip mismatch (-want +got):\n%s", diff)
	}
}

func flowFixture() (flows.Comparison, []types.Persona, map[string][]types.Journey) {
	journeys := map[string][]types.Journey{
		"flow-a": {
			{PersonaUUID: "p1", FlowID: "flow-a", Completed: true, TotalScreensSeen: 2},
			{PersonaUUID: "p2", FlowID: "flow-a", Completed: false, DroppedOffAtView: 2, DropOffReason: "cost"},
		},
	}
	personas := []types.Persona{
		{UUID: "p1", Zone: types.ZoneUrban, PurchasingPowerTier: types.TierMid},
		{UUID: "p2", Zone: types.ZoneRural, PurchasingPowerTier: types.TierLow},
	}
	flowDefs := []types.Flow{{
		FlowID:   "flow-a",
		FlowName: "Flow A",
		Screens: []types.Screen{
			{ViewID: "v1", ViewNumber: 1, ViewName: "Welcome", StepType: types.StepMandatory},
			{ViewID: "v2", ViewNumber: 2, ViewName: "Details", StepType: types.StepMandatory},
		},
	}}
	comparison := flows.New(flows.DefaultConfig()).Compare(flowDefs, journeys)
	return comparison, personas, journeys
}

func TestFlowReportHasAllKeys(t *testing.T) {
	comparison, personas, journeys := flowFixture()
	r := BuildFlowReport(comparison, personas, journeys, sampleMetadata())

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"overall_metrics", "view_performance", "segment_analysis",
		"utility_mode_metrics", "drop_off_analysis", "recommendations",
		"journeys", "metadata",
	} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("missing top-level key %q", key)
		}
	}
}

func TestFlowReportSegmentAnalysis(t *testing.T) {
	comparison, personas, journeys := flowFixture()
	r := BuildFlowReport(comparison, personas, journeys, sampleMetadata())

	segments := r.SegmentAnalysis["flow-a"]
	if got := segments["Urban_Mid"]; got != 100.0 {
		t.Fatalf("Urban_Mid completion = %v, want 100.0", got)
	}
	if got := segments["Rural_Low"]; got != 0.0 {
		t.Fatalf("Rural_Low completion = %v, want 0.0", got)
	}
	if r.OverallMetrics.WinningFlowID != "flow-a" {
		t.Fatalf("winner = %s", r.OverallMetrics.WinningFlowID)
	}
	if len(r.ViewPerformance["flow-a"]) != 2 {
		t.Fatalf("view performance missing screens: %+v", r.ViewPerformance)
	}
}
