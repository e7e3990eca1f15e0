package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"apriori/internal/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRawPersonas(t *testing.T) {
	path := writeFile(t, "personas.json", `[
		{"uuid": "p1", "occupation": "Farmer", "age": 45, "zone": "Rural", "state": "Bihar"},
		{"occupation": "Engineer", "age": 28, "zone": "Urban", "state": "Karnataka"}
	]`)

	raws, err := LoadRawPersonas(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raws) != 2 {
		t.Fatalf("want 2 personas, got %d", len(raws))
	}
	if raws[0].UUID != "p1" {
		t.Fatalf("explicit uuid lost: %+v", raws[0])
	}
	if raws[1].UUID == "" {
		t.Fatal("missing uuid not assigned")
	}
}

func TestLoadRawPersonasDuplicateUUID(t *testing.T) {
	path := writeFile(t, "personas.json", `[
		{"uuid": "p1", "occupation": "Farmer"},
		{"uuid": "p1", "occupation": "Engineer"}
	]`)
	if _, err := LoadRawPersonas(path); err == nil {
		t.Fatal("want duplicate uuid error")
	}
}

func TestLoadRawPersonasEmptyAndMissing(t *testing.T) {
	path := writeFile(t, "personas.json", `[]`)
	if _, err := LoadRawPersonas(path); err == nil {
		t.Fatal("want error for empty dataset")
	}
	if _, err := LoadRawPersonas(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestHydratedPersonaRoundTrip(t *testing.T) {
	personas := []types.Persona{
		{UUID: "p1", Occupation: "Farmer", Zone: types.ZoneRural, DigitalLiteracy: 3,
			PurchasingPowerTier: types.TierLow, PrimaryDevice: types.DeviceFeaturePhone,
			ScamVulnerability: types.VulnerabilityHigh, MonthlyIncomeINR: 12000,
			FinancialRiskTolerance: "Low"},
	}
	path := filepath.Join(t.TempDir(), "hydrated.json")
	if err := SavePersonas(path, personas); err != nil {
		t.Fatal(err)
	}

	got, err := LoadPersonas(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(personas, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadAds(t *testing.T) {
	path := writeFile(t, "ads.yaml", `
ads:
  - ad_id: ad-1
    name: Cashback
    copy: "Get 5% UPI cashback on every recharge."
  - ad_id: ad-2
    name: Gold loan
    copy: "Instant gold loan at your doorstep."
    image_path: creatives/gold.png
`)
	ads, err := LoadAds(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(ads) != 2 || ads[1].ImagePath != "creatives/gold.png" {
		t.Fatalf("ads parsed wrong: %+v", ads)
	}
}

func TestLoadAdsRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no ads", "ads: []"},
		{"missing ad_id", "ads:\n  - name: X\n    copy: y"},
		{"missing copy", "ads:\n  - ad_id: a\n    name: X"},
		{"duplicate ad_id", "ads:\n  - ad_id: a\n    copy: x\n  - ad_id: a\n    copy: y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "ads.yaml", tt.yaml)
			if _, err := LoadAds(path); err == nil {
				t.Fatal("want error")
			}
		})
	}
}

func TestLoadFlowsSortsAndDefaults(t *testing.T) {
	path := writeFile(t, "flows.yaml", `
flows:
  - flow_id: onboarding-v1
    flow_name: Onboarding V1
    screens:
      - view_id: v2
        view_number: 2
        view_name: Phone number
        step_type: MANDATORY
      - view_id: v1
        view_number: 1
        view_name: Welcome
      - view_id: v3
        view_number: 3
        view_name: Refer friends
        step_type: OPTIONAL
`)
	flows, err := LoadFlows(path)
	if err != nil {
		t.Fatal(err)
	}
	screens := flows[0].Screens
	if screens[0].ViewID != "v1" || screens[2].ViewID != "v3" {
		t.Fatalf("screens not sorted by view_number: %+v", screens)
	}
	if screens[0].StepType != types.StepMandatory {
		t.Fatalf("missing step_type not defaulted: %+v", screens[0])
	}
}

func TestLoadFlowsRejectsBrokenSequence(t *testing.T) {
	path := writeFile(t, "flows.yaml", `
flows:
  - flow_id: f1
    screens:
      - view_id: v1
        view_number: 1
      - view_id: v3
        view_number: 3
`)
	if _, err := LoadFlows(path); err == nil {
		t.Fatal("want error for gap in view numbers")
	}
}

func TestLoadFlowsRejectsUnknownStepType(t *testing.T) {
	path := writeFile(t, "flows.yaml", `
flows:
  - flow_id: f1
    screens:
      - view_id: v1
        view_number: 1
        step_type: SOMETIMES
`)
	if _, err := LoadFlows(path); err == nil {
		t.Fatal("want error for unknown step_type")
	}
}
