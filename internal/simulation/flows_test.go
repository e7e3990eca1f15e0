package simulation

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"apriori/internal/types"
)

func testFlow() types.Flow {
	return types.Flow{
		FlowID:   "onboarding-v1",
		FlowName: "Onboarding",
		Screens: []types.Screen{
			{ViewID: "v1", ViewNumber: 1, ViewName: "Welcome", Description: "App intro", StepType: types.StepMandatory},
			{ViewID: "v2", ViewNumber: 2, ViewName: "Phone number", Description: "Enter phone", StepType: types.StepMandatory},
			{ViewID: "v3", ViewNumber: 3, ViewName: "Refer friends", Description: "Optional referral", StepType: types.StepOptional},
		},
	}
}

func TestRunFlowsAllComplete(t *testing.T) {
	defer goleak.VerifyNone(t)

	stub := &stubClient{}
	engine := NewEngine(stub, stub, Config{MaxWorkers: 4, Seed: 1})

	personas := testPersonas(5)
	results, err := engine.RunFlows(context.Background(), personas, []types.Flow{testFlow()})
	if err != nil {
		t.Fatalf("RunFlows failed: %v", err)
	}

	outcomes := results["onboarding-v1"]
	if len(outcomes) != 5 {
		t.Fatalf("got %d outcomes, want 5", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Status != StatusCompleted {
			t.Fatalf("outcome %s status = %s: %s", o.PersonaUUID, o.Status, o.Error)
		}
		j := o.Journey
		if !j.Completed {
			t.Errorf("journey %s not completed", j.PersonaUUID)
		}
		if j.TotalScreensSeen != 3 || len(j.Decisions) != 3 {
			t.Errorf("screens seen = %d, decisions = %d, want 3", j.TotalScreensSeen, len(j.Decisions))
		}
		if j.TotalTimeSeconds != 36 {
			t.Errorf("total time = %d, want 36", j.TotalTimeSeconds)
		}
		// Decisions arrive in screen order
		for i, d := range j.Decisions {
			if d.ViewNumber != i+1 {
				t.Errorf("decision %d has view number %d", i, d.ViewNumber)
			}
		}
	}

	// 5 personas x 3 screens
	if n := atomic.LoadInt32(&stub.stepCalls); n != 15 {
		t.Errorf("step calls = %d, want 15", n)
	}
	// Each screen analyzed exactly once, shared across journeys
	if n := atomic.LoadInt32(&stub.analysisCalls); n != 3 {
		t.Errorf("analysis calls = %d, want 3", n)
	}
}

func TestRunFlowsDropOffStopsJourney(t *testing.T) {
	stub := &stubClient{dropAtView: 2}
	engine := NewEngine(stub, stub, Config{MaxWorkers: 4, Seed: 1})

	results, err := engine.RunFlows(context.Background(), testPersonas(3), []types.Flow{testFlow()})
	if err != nil {
		t.Fatalf("RunFlows failed: %v", err)
	}

	for _, o := range results["onboarding-v1"] {
		j := o.Journey
		if j.Completed {
			t.Error("journey should not complete after drop-off")
		}
		if j.DroppedOffAtView != 2 {
			t.Errorf("dropped at view %d, want 2", j.DroppedOffAtView)
		}
		if j.DropOffReason != "Form asks too much" {
			t.Errorf("drop reason = %q", j.DropOffReason)
		}
		// Screen 3 is never reached
		if j.TotalScreensSeen != 2 || len(j.Decisions) != 2 {
			t.Errorf("screens seen = %d, want 2", j.TotalScreensSeen)
		}
	}

	// 3 personas x 2 screens each (third screen never called)
	if n := atomic.LoadInt32(&stub.stepCalls); n != 6 {
		t.Errorf("step calls = %d, want 6", n)
	}
}

func TestRunFlowsGarbledStepRetried(t *testing.T) {
	// The first step decision comes back as prose; the journey must still
	// complete off the re-issued call.
	stub := &stubClient{garbleFirst: 1}
	engine := NewEngine(stub, stub, Config{MaxWorkers: 1, Seed: 1})

	results, err := engine.RunFlows(context.Background(), testPersonas(1), []types.Flow{testFlow()})
	if err != nil {
		t.Fatalf("RunFlows failed: %v", err)
	}
	outcomes := results["onboarding-v1"]
	if len(outcomes) != 1 || outcomes[0].Status != StatusCompleted {
		t.Fatalf("outcome = %+v, want a completed journey", outcomes[0])
	}
	if !outcomes[0].Journey.Completed {
		t.Error("journey should complete despite one garbled decision")
	}
	// 3 screens plus one re-issue for the garbled first decision
	if n := atomic.LoadInt32(&stub.stepCalls); n != 4 {
		t.Errorf("step calls = %d, want 4", n)
	}
}

func TestScreenDecisionPromptStatesStepRequirement(t *testing.T) {
	persona := testPersonas(1)[0]
	flow := testFlow()

	mandatory := buildScreenDecisionPrompt(persona, flow, flow.Screens[1], nil, "")
	if !strings.Contains(mandatory, "This step is MANDATORY and cannot be skipped.") {
		t.Errorf("mandatory screen prompt missing requirement line:\n%s", mandatory)
	}

	optional := buildScreenDecisionPrompt(persona, flow, flow.Screens[2], nil, "")
	if !strings.Contains(optional, "This step is OPTIONAL.") {
		t.Errorf("optional screen prompt missing requirement line:\n%s", optional)
	}

	// Screens without a declared step type are treated as mandatory
	unmarked := flow.Screens[0]
	unmarked.StepType = ""
	prompt := buildScreenDecisionPrompt(persona, flow, unmarked, nil, "")
	if !strings.Contains(prompt, "This step is MANDATORY and cannot be skipped.") {
		t.Errorf("unmarked screen prompt missing mandatory line:\n%s", prompt)
	}
}

func TestRunFlowsStepFailureFailsJourney(t *testing.T) {
	stub := &stubClient{failWhenContains: "Phone number"}
	engine := NewEngine(stub, stub, Config{MaxWorkers: 4, Seed: 1})

	results, err := engine.RunFlows(context.Background(), testPersonas(2), []types.Flow{testFlow()})
	if err != nil {
		t.Fatalf("RunFlows failed: %v", err)
	}

	for _, o := range results["onboarding-v1"] {
		if o.Status != StatusFailed {
			t.Errorf("outcome status = %s, want simulation_failed", o.Status)
		}
		if o.Journey != nil {
			t.Error("failed journey must not surface a partial journey as valid")
		}
		if o.Error == "" {
			t.Error("failed outcome missing error detail")
		}
	}

	if len(CompletedJourneys(results["onboarding-v1"])) != 0 {
		t.Error("failed journeys leaked into completed set")
	}
}

func TestRunFlowsMultipleFlows(t *testing.T) {
	stub := &stubClient{}
	engine := NewEngine(stub, stub, Config{MaxWorkers: 4, Seed: 1})

	flowA := testFlow()
	flowB := testFlow()
	flowB.FlowID = "onboarding-v2"
	flowB.Screens = flowB.Screens[:2]

	results, err := engine.RunFlows(context.Background(), testPersonas(2), []types.Flow{flowA, flowB})
	if err != nil {
		t.Fatalf("RunFlows failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d flows, want 2", len(results))
	}
	if n := atomic.LoadInt32(&stub.analysisCalls); n != 5 {
		t.Errorf("analysis calls = %d, want 5", n)
	}
	for _, o := range results["onboarding-v2"] {
		if o.Journey.TotalScreensSeen != 2 {
			t.Errorf("v2 screens seen = %d, want 2", o.Journey.TotalScreensSeen)
		}
	}
}

func TestRunFlowsRejectsEmptyFlow(t *testing.T) {
	stub := &stubClient{}
	engine := NewEngine(stub, stub, Config{Seed: 1})
	_, err := engine.RunFlows(context.Background(), testPersonas(1), []types.Flow{{FlowID: "empty"}})
	if err == nil {
		t.Error("expected error for flow with no screens")
	}
}
