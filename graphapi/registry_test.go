package graphapi

import (
	"reflect"
	"testing"
)

func TestParseObjectInfoPreservesDeclarationOrder(t *testing.T) {
	reg := testRegistry(t)

	nt := reg.Type("KSampler")
	if nt == nil {
		t.Fatal("KSampler missing from registry")
	}

	wantOrder := []string{
		"model", "seed", "steps", "cfg", "sampler_name", "scheduler",
		"positive", "negative", "latent_image", "denoise",
	}
	if !reflect.DeepEqual(nt.InputOrder, wantOrder) {
		t.Errorf("InputOrder = %v, want %v", nt.InputOrder, wantOrder)
	}
}

func TestSeedImpliesControlWidget(t *testing.T) {
	reg := testRegistry(t)
	nt := reg.Type("KSampler")

	wantWidgets := []string{
		"seed", "control_after_generate", "steps", "cfg",
		"sampler_name", "scheduler", "denoise",
	}
	if !reflect.DeepEqual(nt.WidgetOrder(), wantWidgets) {
		t.Fatalf("WidgetOrder = %v, want %v", nt.WidgetOrder(), wantWidgets)
	}
	if nt.WidgetCount() != 7 {
		t.Errorf("WidgetCount = %d, want 7", nt.WidgetCount())
	}

	ctrl := nt.Input("control_after_generate")
	if ctrl == nil {
		t.Fatal("control_after_generate not declared")
	}
	if !ctrl.Settable() {
		t.Error("control widget must be settable")
	}
	if ctrl.Serializable() {
		t.Error("control widget must not be serializable")
	}
	if ctrl.Index() != 1 {
		t.Errorf("control widget index = %d, want 1", ctrl.Index())
	}

	seed := nt.Input("seed")
	if seed.Index() != 0 {
		t.Errorf("seed index = %d, want 0", seed.Index())
	}
}

func TestPropertyClassification(t *testing.T) {
	reg := testRegistry(t)

	sampler := reg.Type("KSampler").Input("sampler_name")
	combo, ok := sampler.(*ComboProperty)
	if !ok {
		t.Fatalf("sampler_name is %T, want *ComboProperty", sampler)
	}
	if !reflect.DeepEqual(combo.Values, []string{"euler", "dpmpp_2m"}) {
		t.Errorf("combo values = %v", combo.Values)
	}
	if combo.DefaultValue() != "euler" {
		t.Errorf("combo default = %v, want first choice", combo.DefaultValue())
	}

	width := reg.Type("EmptyLatentImage").Input("width").(*IntProperty)
	if !width.HasRange() || width.Min != 16 || width.Max != 16384 {
		t.Errorf("width range = [%d, %d] (hasRange=%v)", width.Min, width.Max, width.HasRange())
	}
	if width.DefaultValue() != int64(512) {
		t.Errorf("width default = %v", width.DefaultValue())
	}

	text := reg.Type("CLIPTextEncode").Input("text").(*StringProperty)
	if !text.Multiline {
		t.Error("text should be multiline")
	}
	if text.Tooltip() == "" {
		t.Error("tooltip lost in parse")
	}

	clip := reg.Type("CLIPTextEncode").Input("clip")
	if clip.Settable() {
		t.Error("connection input must not be settable")
	}
	if clip.Index() != -1 {
		t.Errorf("connection input index = %d, want -1", clip.Index())
	}
	if clip.Kind() != KindClip {
		t.Errorf("clip kind = %v, want %v", clip.Kind(), KindClip)
	}
}

func TestUnclassifiableInputBecomesUnknown(t *testing.T) {
	doc := `{"Custom": {"input": {"required": {"weird": 17}}, "output": [], "name": "Custom"}}`
	reg, err := ParseObjectInfo([]byte(doc), "")
	if err != nil {
		t.Fatalf("ParseObjectInfo: %v", err)
	}

	p := reg.Type("Custom").Input("weird")
	if _, ok := p.(*UnknownProperty); !ok {
		t.Fatalf("weird is %T, want *UnknownProperty", p)
	}
	if p.Settable() {
		t.Error("unknown input must not occupy a widget slot")
	}
}

func TestRelativeAssetURLsRewritten(t *testing.T) {
	doc := `{"PhotoPicker": {
		"input": {"required": {"photo": [["/view?filename=a.png", "/api/assets/b.png", "plain.png"]]}},
		"output": [], "name": "PhotoPicker"
	}}`
	reg, err := ParseObjectInfo([]byte(doc), "http://gpu01:8188/")
	if err != nil {
		t.Fatalf("ParseObjectInfo: %v", err)
	}

	combo := reg.Type("PhotoPicker").Input("photo").(*ComboProperty)
	want := []string{
		"http://gpu01:8188/view?filename=a.png",
		"http://gpu01:8188/api/assets/b.png",
		"plain.png",
	}
	if !reflect.DeepEqual(combo.Values, want) {
		t.Errorf("values = %v, want %v", combo.Values, want)
	}
}

func TestComboTypeNameVariant(t *testing.T) {
	doc := `{"NewStyle": {
		"input": {"required": {"mode": ["COMBO", {"options": ["a", "b"], "default": "b"}]}},
		"output": [], "name": "NewStyle"
	}}`
	reg, err := ParseObjectInfo([]byte(doc), "")
	if err != nil {
		t.Fatalf("ParseObjectInfo: %v", err)
	}

	combo, ok := reg.Type("NewStyle").Input("mode").(*ComboProperty)
	if !ok {
		t.Fatalf("mode is %T, want *ComboProperty", reg.Type("NewStyle").Input("mode"))
	}
	if combo.Default != "b" {
		t.Errorf("default = %q, want b", combo.Default)
	}
	if !reflect.DeepEqual(combo.Values, []string{"a", "b"}) {
		t.Errorf("values = %v", combo.Values)
	}
}
