package graphapi

import (
	"reflect"
	"testing"
)

func TestMergeArgumentsWritesWidgets(t *testing.T) {
	reg := testRegistry(t)
	g := testGraph(t)
	info, err := ParseWorkflow(g, "castle", reg)
	if err != nil {
		t.Fatalf("ParseWorkflow: %v", err)
	}

	args := map[string]interface{}{
		"positivePrompt": "a lighthouse at dusk",
		"seed":           float64(7),
		"steps":          float64(30),
	}
	merged, report, err := MergeArguments(g, args, info)
	if err != nil {
		t.Fatalf("MergeArguments: %v", err)
	}

	if len(report.Missing) != 0 || len(report.Extra) != 0 {
		t.Fatalf("report = %+v, want empty", report)
	}

	if got := merged.NodeByID(2).WidgetValue(0); got != "a lighthouse at dusk" {
		t.Errorf("positive prompt = %v", got)
	}
	if got := merged.NodeByID(5).WidgetValue(0); got != int64(7) {
		t.Errorf("seed = %v (%T), want int64(7)", got, got)
	}
	if got := merged.NodeByID(5).WidgetValue(2); got != int64(30) {
		t.Errorf("steps = %v (%T), want int64(30)", got, got)
	}

	// untouched widgets keep their graph values
	if got := merged.NodeByID(5).WidgetValue(4); got != "euler" {
		t.Errorf("sampler_name = %v, want euler", got)
	}
}

func TestMergeArgumentsDoesNotMutateOriginal(t *testing.T) {
	reg := testRegistry(t)
	g := testGraph(t)
	info, err := ParseWorkflow(g, "castle", reg)
	if err != nil {
		t.Fatalf("ParseWorkflow: %v", err)
	}

	_, _, err = MergeArguments(g, map[string]interface{}{"positivePrompt": "changed"}, info)
	if err != nil {
		t.Fatalf("MergeArguments: %v", err)
	}

	if got := g.NodeByID(2).WidgetValue(0); got != "a castle on a hill" {
		t.Errorf("original graph mutated: %v", got)
	}
}

func TestMergeArgumentsReportsExtra(t *testing.T) {
	reg := testRegistry(t)
	g := testGraph(t)
	info, err := ParseWorkflow(g, "castle", reg)
	if err != nil {
		t.Fatalf("ParseWorkflow: %v", err)
	}

	args := map[string]interface{}{
		"positivePrompt": "a ship",
		"seed":           float64(1),
		"steps":          float64(25),
		"nonExisting":    "ignored",
	}
	_, report, err := MergeArguments(g, args, info)
	if err != nil {
		t.Fatalf("MergeArguments: %v", err)
	}

	if !reflect.DeepEqual(report.Extra, []string{"nonExisting"}) {
		t.Errorf("extra = %v, want [nonExisting]", report.Extra)
	}
	if len(report.Missing) != 0 {
		t.Errorf("missing = %v, want empty", report.Missing)
	}
}

func TestMergeArgumentsClampsToDeclaredRange(t *testing.T) {
	reg := testRegistry(t)
	g := testGraph(t)
	info, err := ParseWorkflow(g, "castle", reg)
	if err != nil {
		t.Fatalf("ParseWorkflow: %v", err)
	}

	merged, _, err := MergeArguments(g, map[string]interface{}{"steps": float64(999999)}, info)
	if err != nil {
		t.Fatalf("MergeArguments: %v", err)
	}

	if got := merged.NodeByID(5).WidgetValue(2); got != int64(10000) {
		t.Errorf("steps = %v, want clamped to 10000", got)
	}
}

func TestMergeArgumentsUncoercibleValueIsMissing(t *testing.T) {
	reg := testRegistry(t)
	g := testGraph(t)
	info, err := ParseWorkflow(g, "castle", reg)
	if err != nil {
		t.Fatalf("ParseWorkflow: %v", err)
	}

	_, report, err := MergeArguments(g, map[string]interface{}{"seed": "not a number"}, info)
	if err != nil {
		t.Fatalf("MergeArguments: %v", err)
	}

	if !reflect.DeepEqual(report.Missing, []string{"seed"}) {
		t.Errorf("missing = %v, want [seed]", report.Missing)
	}
}
