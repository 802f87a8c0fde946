package dag

import (
	"math"
	"testing"
)

func TestV1Validates(t *testing.T) {
	graph := V1()
	if graph.Version != 1 {
		t.Fatalf("version = %d", graph.Version)
	}
	if len(graph.Stages()) != 19 {
		t.Fatalf("stage count = %d", len(graph.Stages()))
	}
}

func TestV1WeightBands(t *testing.T) {
	graph := V1()
	if total := graph.TotalWeight(); math.Abs(total-100) > 1e-9 {
		t.Fatalf("total weight = %v, want 100", total)
	}
	requiredWeight := 0.0
	for _, id := range graph.RequiredIDs() {
		stage, _ := graph.Stage(id)
		requiredWeight += stage.Weight
	}
	if math.Abs(requiredWeight-75) > 1e-9 {
		t.Fatalf("required weight = %v, want 75", requiredWeight)
	}
}

func TestV1CriticalPath(t *testing.T) {
	graph := V1()
	required := graph.RequiredIDs()
	want := []string{StageDevelopmental, StageLineEditing, StageCopyEditing}
	if len(required) != len(want) {
		t.Fatalf("required stages = %v", required)
	}
	for i, id := range want {
		if required[i] != id {
			t.Fatalf("required[%d] = %q, want %q", i, required[i], id)
		}
	}
	copyEditing, _ := graph.Stage(StageCopyEditing)
	if len(copyEditing.DependsOn) != 1 || copyEditing.DependsOn[0] != StageLineEditing {
		t.Fatalf("copyEditing deps = %v", copyEditing.DependsOn)
	}
}

func TestFormattingHasNoAnalysisDependency(t *testing.T) {
	graph := V1()
	for _, id := range []string{StageEPUB, StagePDF} {
		stage, ok := graph.Stage(id)
		if !ok {
			t.Fatalf("missing stage %q", id)
		}
		if len(stage.DependsOn) != 0 {
			t.Fatalf("%q should not depend on analysis, got %v", id, stage.DependsOn)
		}
	}
}

func TestDependents(t *testing.T) {
	graph := V1()
	deps := graph.Dependents(StageAudiobookNarration)
	if len(deps) != 4 {
		t.Fatalf("narration dependents = %v", deps)
	}
}

func TestNewRejectsCycles(t *testing.T) {
	_, err := New(1, []Stage{
		{ID: "a", DependsOn: []string{"b"}, MaxAttempts: 1},
		{ID: "b", DependsOn: []string{"a"}, MaxAttempts: 1},
	})
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestNewRejectsUnknownDependency(t *testing.T) {
	_, err := New(1, []Stage{{ID: "a", DependsOn: []string{"ghost"}, MaxAttempts: 1}})
	if err == nil {
		t.Fatal("expected unknown dependency error")
	}
}

func TestNewRejectsRequiredOnOptional(t *testing.T) {
	_, err := New(1, []Stage{
		{ID: "opt", Criticality: Optional, MaxAttempts: 1},
		{ID: "req", Criticality: Required, DependsOn: []string{"opt"}, MaxAttempts: 1},
	})
	if err == nil {
		t.Fatal("expected criticality ordering error")
	}
}

func TestForVersion(t *testing.T) {
	graph, err := ForVersion(1)
	if err != nil {
		t.Fatalf("ForVersion(1): %v", err)
	}
	if graph.Version != 1 {
		t.Fatalf("version = %d, want 1", graph.Version)
	}
	if _, err := ForVersion(2); err == nil {
		t.Fatal("expected error for unknown version")
	}
}
