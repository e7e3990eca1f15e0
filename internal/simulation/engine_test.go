package simulation

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"apriori/internal/types"
)

// stubClient produces canned JSON keyed by what kind of prompt arrives.
type stubClient struct {
	mu            sync.Mutex
	anchorCalls   int32
	tier1Calls    int32
	tier2Calls    int32
	stepCalls     int32
	analysisCalls int32

	// failWhenContains fails any call whose prompt contains this substring.
	failWhenContains string
	// dropAtView makes the screen decision DROP_OFF at the given view number.
	dropAtView int
	// garbleFirst answers the first N reaction or step calls with prose
	// instead of JSON.
	garbleFirst int32
	garbleSeen  int32
}

const stubAnchorJSON = `{"trust_signals":"RBI badge","visual_quality":"Crisp","color_psychology":"Blue, calming","brand_perception":"Legitimate","scam_indicators":"None detected"}`

const stubTier1JSON = `{"system1_gut_reaction":"Looks shiny","system2_critical_audit":"Too shiny for my budget",
	"identity_anchors":["Wife handles money"],"friction_points":["English forms"],"social_pressure":"Neighbors would mock",
	"final_trust_score":4,"final_relevance_score":6,"final_action":"IGNORE","intent_level":"Low",
	"reasoning":"Audit overrode gut","emotional_response":"wary","primary_barrier":"English forms"}`

const stubTier2JSON = `{"gut_reaction":"Interesting","critical_audit":"Seems fine","constraint_hits":[],
	"trust_score":7,"relevance_score":8,"action":"CLICK","intent_level":"High",
	"reasoning":"Audit confirmed gut","emotional_response":"curious","primary_barrier":""}`

const stubAnalysisJSON = `{"main_content":"Phone entry form","key_information":"OTP will be sent",
	"required_action":"Type your number","design_quality":"Clean","friction_points":"Permission prompt"}`

func (s *stubClient) respond(systemPrompt, userPrompt string) (string, error) {
	if s.failWhenContains != "" && strings.Contains(userPrompt, s.failWhenContains) {
		return "", context.DeadlineExceeded
	}
	switch {
	case strings.Contains(userPrompt, "visual design and advertising psychology"):
		atomic.AddInt32(&s.anchorCalls, 1)
		return stubAnchorJSON, nil
	case strings.Contains(userPrompt, "IDENTITY IMMERSION PROTOCOL"):
		atomic.AddInt32(&s.tier1Calls, 1)
		if s.garbled() {
			return "I would rather describe my reaction in plain words.", nil
		}
		return stubTier1JSON, nil
	case strings.Contains(userPrompt, "Analyze this product flow screen"):
		atomic.AddInt32(&s.analysisCalls, 1)
		return stubAnalysisJSON, nil
	case strings.Contains(userPrompt, "CURRENT SCREEN"):
		atomic.AddInt32(&s.stepCalls, 1)
		if s.garbled() {
			return "Honestly I am not sure what to press here.", nil
		}
		return s.stepJSON(userPrompt), nil
	default:
		atomic.AddInt32(&s.tier2Calls, 1)
		if s.garbled() {
			return "Looks fine to me I guess.", nil
		}
		return stubTier2JSON, nil
	}
}

func (s *stubClient) garbled() bool {
	limit := atomic.LoadInt32(&s.garbleFirst)
	return limit > 0 && atomic.AddInt32(&s.garbleSeen, 1) <= limit
}

func (s *stubClient) stepJSON(prompt string) string {
	decision := "CONTINUE"
	reason := ""
	if s.dropAtView > 0 {
		marker := "CURRENT SCREEN (" + itoa(s.dropAtView) + "/"
		if strings.Contains(prompt, marker) {
			decision = "DROP_OFF"
			reason = `"drop_off_reason":"Form asks too much",`
		}
	}
	return `{"step_type":"MANDATORY","decision":"` + decision + `",` + reason +
		`"reasoning":"moving on","trust_score":6,"clarity_score":7,"value_perception_score":5,
		"emotional_state":"neutral","friction_points":[],"time_spent_seconds":12}`
}

func itoa(n int) string {
	return string(rune('0' + n))
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.respond("", prompt)
}

func (s *stubClient) CompleteWithSystem(ctx context.Context, sys, usr string) (string, error) {
	return s.respond(sys, usr)
}

func (s *stubClient) CompleteWithSchema(ctx context.Context, sys, usr, schema string) (string, error) {
	return s.respond(sys, usr)
}

func (s *stubClient) SchemaCapable() bool { return true }

func testPersonas(n int) []types.Persona {
	personas := make([]types.Persona, n)
	for i := range personas {
		personas[i] = types.Persona{
			UUID:                "persona-" + string(rune('a'+i)),
			Occupation:          "Shopkeeper",
			Age:                 40,
			Sex:                 "Male",
			State:               "Maharashtra",
			District:            "Pune",
			Zone:                types.ZoneUrban,
			EducationLevel:      "Secondary",
			DigitalLiteracy:     6,
			PrimaryDevice:       types.DeviceAndroid,
			PurchasingPowerTier: types.TierMid,
			ScamVulnerability:   types.VulnerabilityLow,
			MonthlyIncomeINR:    30000,
		}
	}
	return personas
}

func testAds() []types.Ad {
	return []types.Ad{
		{AdID: "ad-1", Name: "UPI Cashback", Copy: "Get 10% cashback on every UPI payment!"},
		{AdID: "ad-2", Name: "Gold Loan", Copy: "Instant gold loan at your doorstep."},
	}
}

func TestRunAdSimulation(t *testing.T) {
	defer goleak.VerifyNone(t)

	stub := &stubClient{}
	engine := NewEngine(stub, stub, Config{Tier1SampleSize: 0.2, MaxWorkers: 4, Seed: 1})

	personas := testPersonas(10)
	ads := testAds()

	outcomes, err := engine.RunAdSimulation(context.Background(), personas, ads)
	if err != nil {
		t.Fatalf("RunAdSimulation failed: %v", err)
	}
	if len(outcomes) != 20 {
		t.Fatalf("got %d outcomes, want 20", len(outcomes))
	}

	// One anchor call per ad, regardless of persona count
	if n := atomic.LoadInt32(&stub.anchorCalls); n != 2 {
		t.Errorf("anchor calls = %d, want 2 (compute once per ad)", n)
	}

	// 20% of 10 personas -> 2 tier-1 personas x 2 ads = 4 tier-1 calls
	if n := atomic.LoadInt32(&stub.tier1Calls); n != 4 {
		t.Errorf("tier1 calls = %d, want 4", n)
	}
	if n := atomic.LoadInt32(&stub.tier2Calls); n != 16 {
		t.Errorf("tier2 calls = %d, want 16", n)
	}

	for _, o := range outcomes {
		if o.Status != StatusCompleted {
			t.Errorf("outcome %s/%s status = %s", o.PersonaUUID, o.AdID, o.Status)
			continue
		}
		r := o.Reaction
		if r.PersonaUUID != o.PersonaUUID || r.AdID != o.AdID {
			t.Errorf("reaction keys mismatch: %+v vs outcome %s/%s", r, o.PersonaUUID, o.AdID)
		}
		if !strings.Contains(r.Reasoning, "[Gut]") || !strings.Contains(r.Reasoning, "[Audit]") {
			t.Errorf("reasoning missing dual-process markers: %q", r.Reasoning)
		}
	}
}

func TestRunAdSimulationTierSamplingDeterministic(t *testing.T) {
	stub := &stubClient{}
	engine := NewEngine(stub, stub, Config{Tier1SampleSize: 0.3, MaxWorkers: 4, Seed: 42})
	personas := testPersonas(10)

	a := engine.sampleTier1(personas)
	b := engine.sampleTier1(personas)
	if len(a) != 3 {
		t.Errorf("tier1 set size = %d, want 3", len(a))
	}
	for uuid := range a {
		if !b[uuid] {
			t.Errorf("sampling not deterministic for seed: %s", uuid)
		}
	}
}

func TestRunAdSimulationFailuresMarked(t *testing.T) {
	stub := &stubClient{failWhenContains: "Gold Loan"}
	// Fail every call mentioning the second ad's copy
	stub.failWhenContains = "gold loan"
	engine := NewEngine(stub, stub, Config{Tier1SampleSize: 0.1, MaxWorkers: 4, Seed: 1})

	personas := testPersonas(4)
	outcomes, err := engine.RunAdSimulation(context.Background(), personas, testAds())
	if err != nil {
		t.Fatalf("RunAdSimulation failed: %v", err)
	}

	var completed, failed int
	for _, o := range outcomes {
		switch o.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
			if o.Reaction != nil {
				t.Error("failed outcome carries a fabricated reaction")
			}
			if o.Error == "" {
				t.Error("failed outcome missing error detail")
			}
		}
	}
	if failed != 4 {
		t.Errorf("failed = %d, want 4 (one per persona for the failing ad)", failed)
	}
	if completed != 4 {
		t.Errorf("completed = %d, want 4", completed)
	}

	reactions := CompletedReactions(outcomes)
	if len(reactions) != 4 {
		t.Errorf("CompletedReactions = %d, want 4", len(reactions))
	}
	for _, r := range reactions {
		if r.AdID != "ad-1" {
			t.Errorf("reaction for failed ad leaked downstream: %s", r.AdID)
		}
	}
}

func TestRunAdSimulationGarbledResponseRetried(t *testing.T) {
	// One prose answer, then valid JSON. The unit must complete on the
	// second call instead of failing outright.
	stub := &stubClient{garbleFirst: 1}
	engine := NewEngine(stub, stub, Config{Seed: 1})

	outcomes, err := engine.RunAdSimulation(context.Background(), testPersonas(1), testAds()[:1])
	if err != nil {
		t.Fatalf("RunAdSimulation failed: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	if outcomes[0].Status != StatusCompleted {
		t.Fatalf("status = %s (error %q), want completed after re-issue",
			outcomes[0].Status, outcomes[0].Error)
	}
	// A single persona always lands in tier 1
	if n := atomic.LoadInt32(&stub.tier1Calls); n != 2 {
		t.Errorf("tier1 calls = %d, want 2 (garbled then clean)", n)
	}
}

func TestRunAdSimulationGarbledResponseExhaustsBudget(t *testing.T) {
	stub := &stubClient{garbleFirst: 100}
	engine := NewEngine(stub, stub, Config{Seed: 1, MaxAttempts: 3})

	outcomes, err := engine.RunAdSimulation(context.Background(), testPersonas(1), testAds()[:1])
	if err != nil {
		t.Fatalf("RunAdSimulation failed: %v", err)
	}
	if outcomes[0].Status != StatusFailed {
		t.Fatalf("status = %s, want failed once the budget is spent", outcomes[0].Status)
	}
	if !strings.Contains(outcomes[0].Error, "malformed") {
		t.Errorf("error = %q, want malformed-response detail", outcomes[0].Error)
	}
	if n := atomic.LoadInt32(&stub.tier1Calls); n != 3 {
		t.Errorf("tier1 calls = %d, want 3 (full attempt budget)", n)
	}
}

func TestRunAdSimulationEmptyInputs(t *testing.T) {
	stub := &stubClient{}
	engine := NewEngine(stub, stub, Config{})
	if _, err := engine.RunAdSimulation(context.Background(), nil, testAds()); err == nil {
		t.Error("expected error for zero personas")
	}
	if _, err := engine.RunAdSimulation(context.Background(), testPersonas(1), nil); err == nil {
		t.Error("expected error for zero ads")
	}
}

func TestVisualAnchorComputeOnce(t *testing.T) {
	stub := &stubClient{}
	engine := NewEngine(stub, stub, Config{Seed: 1})
	ad := testAds()[0]

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.VisualAnchor(context.Background(), ad)
		}()
	}
	wg.Wait()

	a := engine.VisualAnchor(context.Background(), ad)
	if a.TrustSignals != "RBI badge" {
		t.Errorf("anchor = %+v", a)
	}
	if n := atomic.LoadInt32(&stub.anchorCalls); n < 1 || n > 8 {
		t.Errorf("anchor calls = %d", n)
	}
	before := atomic.LoadInt32(&stub.anchorCalls)
	engine.VisualAnchor(context.Background(), ad)
	if after := atomic.LoadInt32(&stub.anchorCalls); after != before {
		t.Error("cached anchor recomputed")
	}
}

func TestVisualAnchorFallbackOnFailure(t *testing.T) {
	stub := &stubClient{failWhenContains: "advertising psychology"}
	engine := NewEngine(stub, stub, Config{Seed: 1})

	a := engine.VisualAnchor(context.Background(), testAds()[0])
	if a.TrustSignals != "Not analyzed" || a.ScamIndicators != "Unable to assess" {
		t.Errorf("fallback anchor = %+v", a)
	}
	if a.HasScamIndicators() {
		t.Error("fallback anchor must not read as scam-flagged")
	}
}
