package graphapi

import (
	"errors"
	"reflect"
	"testing"
)

func TestCompilePromptFlattensGraph(t *testing.T) {
	reg := testRegistry(t)
	g := testGraph(t)

	prompt, compileErrors := CompilePrompt(g, reg)
	if len(compileErrors) != 0 {
		t.Fatalf("compile errors: %v", compileErrors)
	}

	wantNodes := []string{"1", "2", "3", "4", "5", "7", "8"}
	for _, id := range wantNodes {
		if _, ok := prompt[id]; !ok {
			t.Errorf("prompt missing node %s", id)
		}
	}
	if _, ok := prompt["6"]; ok {
		t.Error("reroute node must not appear in the prompt")
	}

	if err := prompt.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestCompilePromptEmitsWidgetLiterals(t *testing.T) {
	reg := testRegistry(t)
	g := testGraph(t)

	prompt, _ := CompilePrompt(g, reg)

	sampler := prompt["5"]
	if sampler.ClassType != "KSampler" {
		t.Fatalf("class_type = %s", sampler.ClassType)
	}
	if sampler.Inputs["seed"] != float64(42) {
		t.Errorf("seed = %v", sampler.Inputs["seed"])
	}
	if sampler.Inputs["steps"] != float64(20) {
		t.Errorf("steps = %v", sampler.Inputs["steps"])
	}
	if sampler.Inputs["sampler_name"] != "euler" {
		t.Errorf("sampler_name = %v", sampler.Inputs["sampler_name"])
	}
	if _, ok := sampler.Inputs["control_after_generate"]; ok {
		t.Error("control widget must not be serialized into the prompt")
	}

	if !reflect.DeepEqual(sampler.Inputs["positive"], NodeRef("2", 0)) {
		t.Errorf("positive = %v", sampler.Inputs["positive"])
	}
	if !reflect.DeepEqual(sampler.Inputs["model"], NodeRef("1", 0)) {
		t.Errorf("model = %v", sampler.Inputs["model"])
	}
}

func TestCompilePromptTracesThroughReroute(t *testing.T) {
	reg := testRegistry(t)
	g := testGraph(t)

	prompt, _ := CompilePrompt(g, reg)

	save := prompt["8"]
	if !reflect.DeepEqual(save.Inputs["images"], NodeRef("7", 0)) {
		t.Errorf("images = %v, want reference to decode node", save.Inputs["images"])
	}
}

func TestCompilePromptResolvesPrimitiveToLiteral(t *testing.T) {
	reg := testRegistry(t)
	g := testGraph(t)

	// convert the width widget to an input fed by a primitive
	link := 11
	latent := g.NodeByID(4)
	widgetName := "width"
	latent.Inputs = append(latent.Inputs, Slot{
		Name: "width", Type: "INT", Link: &link,
		Widget: &Widget{Name: &widgetName},
	})
	g.Nodes = append(g.Nodes, &GraphNode{
		ID: 9, Type: "PrimitiveNode", Order: -1, Graph: g,
		WidgetValues: []interface{}{float64(640), "fixed"},
		Outputs:      []Slot{{Name: "INT", Type: "INT", Links: &[]int{link}}},
	})
	g.Links = append(g.Links, &Link{ID: link, OriginID: 9, OriginSlot: 0, TargetID: 4, TargetSlot: 0, Type: "INT"})
	g.reindex()

	prompt, compileErrors := CompilePrompt(g, reg)
	if len(compileErrors) != 0 {
		t.Fatalf("compile errors: %v", compileErrors)
	}

	if got := prompt["4"].Inputs["width"]; got != float64(640) {
		t.Errorf("width = %v, want the primitive's literal 640", got)
	}
	if _, ok := prompt["9"]; ok {
		t.Error("primitive node must not appear in the prompt")
	}
}

func TestCompilePromptDropsMutedUpstream(t *testing.T) {
	reg := testRegistry(t)
	g := testGraph(t)
	g.NodeByID(4).Mode = ModeMuted

	prompt, compileErrors := CompilePrompt(g, reg)
	if len(compileErrors) != 0 {
		t.Fatalf("compile errors: %v", compileErrors)
	}

	if _, ok := prompt["4"]; ok {
		t.Error("muted node must not appear in the prompt")
	}
	if _, ok := prompt["5"].Inputs["latent_image"]; ok {
		t.Error("input fed by a muted node must be omitted")
	}
	if err := prompt.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestCompilePromptBypassedNodePassesThrough(t *testing.T) {
	reg := testRegistry(t)
	g := testGraph(t)
	g.NodeByID(7).Mode = ModeBypassed

	prompt, compileErrors := CompilePrompt(g, reg)
	if len(compileErrors) != 0 {
		t.Fatalf("compile errors: %v", compileErrors)
	}

	if _, ok := prompt["7"]; ok {
		t.Error("bypassed node must not appear in the prompt")
	}
	// bypass forwards the node's first connected input
	if !reflect.DeepEqual(prompt["8"].Inputs["images"], NodeRef("5", 0)) {
		t.Errorf("images = %v, want reference through the bypassed node", prompt["8"].Inputs["images"])
	}
	if err := prompt.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestCompilePromptCollectsPerNodeErrors(t *testing.T) {
	reg := testRegistry(t)
	g := testGraph(t)
	g.NodeByID(2).Type = "SomeCustomEncoder"

	prompt, compileErrors := CompilePrompt(g, reg)

	if len(compileErrors) != 1 {
		t.Fatalf("compile errors = %v, want exactly one", compileErrors)
	}
	if compileErrors[0].NodeID != 2 {
		t.Errorf("error node = %d, want 2", compileErrors[0].NodeID)
	}
	if !errors.Is(compileErrors[0], ErrUnknownNodeType) {
		t.Errorf("err = %v, want ErrUnknownNodeType", compileErrors[0].Err)
	}

	// the rest of the graph still compiles, with the bad node's reference pruned
	if _, ok := prompt["5"]; !ok {
		t.Fatal("sampler must still compile")
	}
	if _, ok := prompt["5"].Inputs["positive"]; ok {
		t.Error("reference to failed node must be pruned")
	}
	if err := prompt.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSamplerNameQuirkStripsProviderPrefix(t *testing.T) {
	reg := testRegistry(t)
	g := testGraph(t)
	g.NodeByID(5).SetWidgetValue(4, "external/res_multistep")

	prompt, _ := CompilePrompt(g, reg)

	if got := prompt["5"].Inputs["sampler_name"]; got != "res_multistep" {
		t.Errorf("sampler_name = %v, want provider prefix stripped", got)
	}
}
