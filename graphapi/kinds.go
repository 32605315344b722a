package graphapi

// InputKind classifies a node input.  Widget kinds carry a literal value in
// the node's widgets_values array; connection kinds are only ever satisfied
// by a link from another node.
type InputKind int

const (
	KindUnknown InputKind = iota

	// widget kinds
	KindInt
	KindFloat
	KindString
	KindBoolean
	KindCombo

	// connection kinds
	KindImage
	KindMask
	KindLatent
	KindAudio
	KindVideo
	KindModel
	KindClip
	KindVae
	KindConditioning
	KindControlNet
	KindClipVision
	KindClipVisionOutput
	KindStyleModel
	KindGligen
	KindUpscaleModel
	KindSampler
	KindSigmas
	KindNoise
	KindGuider
	KindLatentOperation
	KindMesh
	KindVoxel
	KindPhotomaker
	KindInpaintModel
	KindInpaintPatch
	KindHooks
	KindHookKeyframes
	KindTimestepsRange
	KindWebcam
	KindSubtitle
	KindSVG
	KindSegs
	KindBbox
	KindPipeline
	KindAnything
)

var kindNames = map[InputKind]string{
	KindUnknown:          "UNKNOWN",
	KindInt:              "INT",
	KindFloat:            "FLOAT",
	KindString:           "STRING",
	KindBoolean:          "BOOLEAN",
	KindCombo:            "COMBO",
	KindImage:            "IMAGE",
	KindMask:             "MASK",
	KindLatent:           "LATENT",
	KindAudio:            "AUDIO",
	KindVideo:            "VIDEO",
	KindModel:            "MODEL",
	KindClip:             "CLIP",
	KindVae:              "VAE",
	KindConditioning:     "CONDITIONING",
	KindControlNet:       "CONTROL_NET",
	KindClipVision:       "CLIP_VISION",
	KindClipVisionOutput: "CLIP_VISION_OUTPUT",
	KindStyleModel:       "STYLE_MODEL",
	KindGligen:           "GLIGEN",
	KindUpscaleModel:     "UPSCALE_MODEL",
	KindSampler:          "SAMPLER",
	KindSigmas:           "SIGMAS",
	KindNoise:            "NOISE",
	KindGuider:           "GUIDER",
	KindLatentOperation:  "LATENT_OPERATION",
	KindMesh:             "MESH",
	KindVoxel:            "VOXEL",
	KindPhotomaker:       "PHOTOMAKER",
	KindInpaintModel:     "INPAINT_MODEL",
	KindInpaintPatch:     "INPAINT_PATCH",
	KindHooks:            "HOOKS",
	KindHookKeyframes:    "HOOK_KEYFRAMES",
	KindTimestepsRange:   "TIMESTEPS_RANGE",
	KindWebcam:           "WEBCAM",
	KindSubtitle:         "SUBTITLE",
	KindSVG:              "SVG",
	KindSegs:             "SEGS",
	KindBbox:             "BBOX",
	KindPipeline:         "PIPELINE",
	KindAnything:         "*",
}

var kindsByName map[string]InputKind

func init() {
	kindsByName = make(map[string]InputKind, len(kindNames))
	for k, name := range kindNames {
		kindsByName[name] = k
	}
}

func (k InputKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

// KindForTypeName maps an object-info type string to an InputKind.  Type
// strings not in the table classify as KindUnknown rather than failing.
func KindForTypeName(name string) InputKind {
	if k, ok := kindsByName[name]; ok {
		return k
	}
	return KindUnknown
}

// IsWidget reports whether inputs of this kind carry a literal widget value.
func (k InputKind) IsWidget() bool {
	switch k {
	case KindInt, KindFloat, KindString, KindBoolean, KindCombo:
		return true
	}
	return false
}
