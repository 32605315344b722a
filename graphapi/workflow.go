package graphapi

import (
	"fmt"
	"strings"
	"unicode"
)

// WorkflowCategory is the inferred task family of a workflow, derived from
// the media kinds of its exposed inputs crossed with its sink node types.
type WorkflowCategory string

const (
	CategoryTextToImage  WorkflowCategory = "TextToImage"
	CategoryImageToImage WorkflowCategory = "ImageToImage"
	CategoryTextToVideo  WorkflowCategory = "TextToVideo"
	CategoryImageToVideo WorkflowCategory = "ImageToVideo"
	CategoryVideoToVideo WorkflowCategory = "VideoToVideo"
	CategoryTextToAudio  WorkflowCategory = "TextToAudio"
	CategoryAudioToAudio WorkflowCategory = "AudioToAudio"
	CategoryAudioToText  WorkflowCategory = "AudioToText"
	CategoryTextToText   WorkflowCategory = "TextToText"
	CategoryImageToText  WorkflowCategory = "ImageToText"
)

// InputDefinition is one exposed workflow input: a literal widget slot not
// satisfied by a link, addressable by a unique external name.
type InputDefinition struct {
	Name       string      `json:"name"`
	NodeID     int         `json:"nodeId"`
	NodeType   string      `json:"nodeType"`
	ValueIndex int         `json:"valueIndex"` // position in the node's widgets_values
	Kind       InputKind   `json:"-"`
	KindName   string      `json:"kind"`
	Default    interface{} `json:"default,omitempty"`
	Tooltip    string      `json:"tooltip,omitempty"`
	Min        *float64    `json:"min,omitempty"`
	Max        *float64    `json:"max,omitempty"`
	Step       *float64    `json:"step,omitempty"`
	EnumValues []string    `json:"enumValues,omitempty"`
	Multiline  bool        `json:"multiline,omitempty"`
}

// AssetRef is an external model/asset file a workflow requires, keyed by the
// runtime model folder it loads from.
type AssetRef struct {
	Folder string `json:"folder"`
	Name   string `json:"name"`
}

// WorkflowInfo is the canonical description of a workflow: its exposed
// inputs, its inferred category, and the transitive inventory a device must
// carry to execute it.  Parsing the same graph twice yields a structurally
// identical WorkflowInfo.
type WorkflowInfo struct {
	Name        string            `json:"name"`
	Category    WorkflowCategory  `json:"category"`
	Inputs      []InputDefinition `json:"inputs"`
	CustomNodes []string          `json:"customNodes,omitempty"`
	Assets      []AssetRef        `json:"assets,omitempty"`
	Packages    []string          `json:"packages,omitempty"`
}

// Input returns the exposed input with the given external name, or nil.
func (w *WorkflowInfo) Input(name string) *InputDefinition {
	for i := range w.Inputs {
		if w.Inputs[i].Name == name {
			return &w.Inputs[i]
		}
	}
	return nil
}

// media kinds for category inference
type mediaKind int

const (
	mediaText mediaKind = iota
	mediaImage
	mediaAudio
	mediaVideo
)

func (m mediaKind) String() string {
	switch m {
	case mediaImage:
		return "image"
	case mediaAudio:
		return "audio"
	case mediaVideo:
		return "video"
	}
	return "text"
}

// categoryTable is the closed lookup over observed (source, sink) media kind
// combinations.  An unseen combination fails loudly rather than guessing.
var categoryTable = map[[2]mediaKind]WorkflowCategory{
	{mediaText, mediaImage}:  CategoryTextToImage,
	{mediaImage, mediaImage}: CategoryImageToImage,
	{mediaText, mediaVideo}:  CategoryTextToVideo,
	{mediaImage, mediaVideo}: CategoryImageToVideo,
	{mediaVideo, mediaVideo}: CategoryVideoToVideo,
	{mediaText, mediaAudio}:  CategoryTextToAudio,
	{mediaAudio, mediaAudio}: CategoryAudioToAudio,
	{mediaAudio, mediaText}:  CategoryAudioToText,
	{mediaText, mediaText}:   CategoryTextToText,
	{mediaImage, mediaText}:  CategoryImageToText,
}

// sinkKinds classifies the output-producing node types the category table
// covers.
var sinkKinds = map[string]mediaKind{
	"SaveImage":            mediaImage,
	"PreviewImage":         mediaImage,
	"SaveImageWebsocket":   mediaImage,
	"SaveVideo":            mediaVideo,
	"SaveWEBM":             mediaVideo,
	"SaveAnimatedWEBP":     mediaVideo,
	"SaveAnimatedPNG":      mediaVideo,
	"VHS_VideoCombine":     mediaVideo,
	"SaveAudio":            mediaAudio,
	"SaveAudioMP3":         mediaAudio,
	"SaveAudioOpus":        mediaAudio,
	"PreviewAudio":         mediaAudio,
	"ShowText|pysssss":     mediaText,
	"SaveText|pysssss":     mediaText,
	"DisplayString":        mediaText,
	"PreviewAny":           mediaText,
}

// loaderInputKinds overrides the exposed-input kind for asset loader combos
// whose selection stands in for a media input (the uploadable image/audio
// slot of a load node).
var loaderInputKinds = map[string]map[string]InputKind{
	"LoadImage":     {"image": KindImage},
	"LoadImageMask": {"image": KindImage},
	"LoadAudio":     {"audio": KindAudio},
	"LoadVideo":     {"file": KindVideo},
	"VHS_LoadVideo": {"video": KindVideo},
}

// assetFolders maps widget input names that select a model file to the
// runtime folder the file must be installed in.
var assetFolders = map[string]string{
	"ckpt_name":          "checkpoints",
	"vae_name":           "vae",
	"lora_name":          "loras",
	"unet_name":          "diffusion_models",
	"clip_name":          "text_encoders",
	"clip_name1":         "text_encoders",
	"clip_name2":         "text_encoders",
	"clip_name3":         "text_encoders",
	"control_net_name":   "controlnet",
	"style_model_name":   "style_models",
	"upscale_model_name": "upscale_models",
	"clip_vision_name":   "clip_vision",
	"gligen_name":        "gligen",
}

// ParseWorkflow derives the canonical WorkflowInfo from a raw graph.  Unknown
// node types are recorded as required custom nodes rather than rejected; only
// a category that cannot be inferred fails the parse.
func ParseWorkflow(g *Graph, name string, reg *NodeRegistry) (*WorkflowInfo, error) {
	info := &WorkflowInfo{Name: name}

	claimed := make(map[string]int)   // external name -> times used
	seenCustom := make(map[string]bool)
	seenAssets := make(map[AssetRef]bool)
	seenPackages := make(map[string]bool)

	sourceKind := mediaText
	sinkKind := mediaText
	haveSink := false

	for _, n := range g.Nodes {
		for _, pkg := range n.PackageProvenance() {
			if pkg == "comfy-core" || seenPackages[pkg] {
				continue
			}
			seenPackages[pkg] = true
			info.Packages = append(info.Packages, pkg)
		}

		nt := reg.Type(n.Type)
		if nt == nil {
			if !n.IsVirtual() && !seenCustom[n.Type] {
				seenCustom[n.Type] = true
				info.CustomNodes = append(info.CustomNodes, n.Type)
			}
			continue
		}

		if n.Mode == ModeMuted || n.Mode == ModeBypassed {
			continue
		}

		if nt.OutputNode {
			k, ok := sinkKinds[nt.Name]
			if !ok {
				return nil, fmt.Errorf("%w: unclassified output node type %q", ErrUnknownCategory, nt.Name)
			}
			if !haveSink || k > sinkKind {
				sinkKind = k
			}
			haveSink = true
		}

		serializableCount := 0
		for _, wname := range nt.WidgetOrder() {
			if nt.Inputs[wname].Serializable() {
				serializableCount++
			}
		}

		for _, wname := range nt.WidgetOrder() {
			prop := nt.Inputs[wname]

			if combo, ok := prop.(*ComboProperty); ok {
				if folder, ok := assetFolders[combo.Name()]; ok {
					if v, ok := n.WidgetValue(prop.Index()).(string); ok && v != "" {
						ref := AssetRef{Folder: folder, Name: v}
						if !seenAssets[ref] {
							seenAssets[ref] = true
							info.Assets = append(info.Assets, ref)
						}
					}
				}
			}

			if !prop.Serializable() {
				continue
			}
			if n.InputLink(wname) != nil {
				// converted widget, fed by an upstream node
				continue
			}

			def := buildInputDefinition(n, nt, prop, serializableCount, claimed)
			if k := exposedMediaKind(n.Type, wname); k > sourceKind {
				sourceKind = k
			}
			info.Inputs = append(info.Inputs, def)
		}
	}

	if !haveSink {
		return nil, fmt.Errorf("%w: workflow has no output node", ErrUnknownCategory)
	}

	category, ok := categoryTable[[2]mediaKind{sourceKind, sinkKind}]
	if !ok {
		return nil, fmt.Errorf("%w: no category for %s input with %s output", ErrUnknownCategory, sourceKind, sinkKind)
	}
	info.Category = category

	return info, nil
}

func buildInputDefinition(n *GraphNode, nt *NodeType, prop Property, serializableCount int, claimed map[string]int) InputDefinition {
	def := InputDefinition{
		NodeID:     n.ID,
		NodeType:   n.Type,
		ValueIndex: prop.Index(),
		Kind:       prop.Kind(),
		KindName:   prop.Kind().String(),
		Tooltip:    prop.Tooltip(),
	}

	if k, ok := loaderInputKinds[n.Type][prop.Name()]; ok {
		def.Kind = k
		def.KindName = k.String()
	}

	if v := n.WidgetValue(prop.Index()); v != nil {
		def.Default = v
	} else {
		def.Default = prop.DefaultValue()
	}

	switch p := prop.(type) {
	case *IntProperty:
		if p.HasRange() {
			def.Min = floatPtr(float64(p.Min))
			def.Max = floatPtr(float64(p.Max))
		}
		if p.HasStep() {
			def.Step = floatPtr(float64(p.Step))
		}
	case *FloatProperty:
		if p.HasRange() {
			def.Min = floatPtr(p.Min)
			def.Max = floatPtr(p.Max)
		}
		if p.HasStep() {
			def.Step = floatPtr(p.Step)
		}
	case *ComboProperty:
		def.EnumValues = p.Values
	case *StringProperty:
		def.Multiline = p.Multiline
	}

	// A custom node title names the input when the node exposes exactly one
	// widget; otherwise the widget name carries over.  Duplicates across
	// nodes are disambiguated by first-seen order.
	candidate := prop.Name()
	if n.Title != "" && serializableCount == 1 {
		candidate = lowerCamel(n.Title)
	}
	claimed[candidate]++
	if c := claimed[candidate]; c > 1 {
		candidate = fmt.Sprintf("%s%d", candidate, c)
	}
	def.Name = candidate

	return def
}

func exposedMediaKind(nodeType, inputName string) mediaKind {
	switch loaderInputKinds[nodeType][inputName] {
	case KindImage:
		return mediaImage
	case KindAudio:
		return mediaAudio
	case KindVideo:
		return mediaVideo
	}
	return mediaText
}

func floatPtr(f float64) *float64 {
	return &f
}

// lowerCamel converts a human title like "Positive Prompt" to positivePrompt.
func lowerCamel(title string) string {
	words := strings.FieldsFunc(title, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return title
	}

	var b strings.Builder
	for i, w := range words {
		runes := []rune(w)
		if i == 0 {
			runes[0] = unicode.ToLower(runes[0])
		} else {
			runes[0] = unicode.ToUpper(runes[0])
		}
		b.WriteString(string(runes))
	}
	return b.String()
}
