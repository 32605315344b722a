package graphapi

import "testing"

// objectInfoFixture is a trimmed object-info document covering the node types
// the tests exercise: loaders, samplers, encoders and an output node.
const objectInfoFixture = `{
	"CheckpointLoaderSimple": {
		"input": {
			"required": {
				"ckpt_name": [["sd15.safetensors", "sdxl.safetensors"]]
			}
		},
		"output": ["MODEL", "CLIP", "VAE"],
		"output_name": ["MODEL", "CLIP", "VAE"],
		"name": "CheckpointLoaderSimple",
		"display_name": "Load Checkpoint",
		"category": "loaders",
		"output_node": false
	},
	"CLIPTextEncode": {
		"input": {
			"required": {
				"text": ["STRING", {"multiline": true, "tooltip": "The text to be encoded."}],
				"clip": ["CLIP"]
			}
		},
		"output": ["CONDITIONING"],
		"output_name": ["CONDITIONING"],
		"name": "CLIPTextEncode",
		"display_name": "CLIP Text Encode (Prompt)",
		"category": "conditioning",
		"output_node": false
	},
	"EmptyLatentImage": {
		"input": {
			"required": {
				"width": ["INT", {"default": 512, "min": 16, "max": 16384, "step": 8}],
				"height": ["INT", {"default": 512, "min": 16, "max": 16384, "step": 8}],
				"batch_size": ["INT", {"default": 1, "min": 1, "max": 4096}]
			}
		},
		"output": ["LATENT"],
		"output_name": ["LATENT"],
		"name": "EmptyLatentImage",
		"display_name": "Empty Latent Image",
		"category": "latent",
		"output_node": false
	},
	"KSampler": {
		"input": {
			"required": {
				"model": ["MODEL"],
				"seed": ["INT", {"default": 0, "min": 0, "max": 9007199254740991, "control_after_generate": true}],
				"steps": ["INT", {"default": 20, "min": 1, "max": 10000}],
				"cfg": ["FLOAT", {"default": 8.0, "min": 0.0, "max": 100.0, "step": 0.1}],
				"sampler_name": [["euler", "dpmpp_2m"]],
				"scheduler": [["normal", "karras"]],
				"positive": ["CONDITIONING"],
				"negative": ["CONDITIONING"],
				"latent_image": ["LATENT"],
				"denoise": ["FLOAT", {"default": 1.0, "min": 0.0, "max": 1.0, "step": 0.01}]
			}
		},
		"output": ["LATENT"],
		"output_name": ["LATENT"],
		"name": "KSampler",
		"display_name": "KSampler",
		"category": "sampling",
		"output_node": false
	},
	"VAEDecode": {
		"input": {
			"required": {
				"samples": ["LATENT"],
				"vae": ["VAE"]
			}
		},
		"output": ["IMAGE"],
		"output_name": ["IMAGE"],
		"name": "VAEDecode",
		"display_name": "VAE Decode",
		"category": "latent",
		"output_node": false
	},
	"SaveImage": {
		"input": {
			"required": {
				"images": ["IMAGE"],
				"filename_prefix": ["STRING", {"default": "ComfyUI"}]
			}
		},
		"output": [],
		"output_name": [],
		"name": "SaveImage",
		"display_name": "Save Image",
		"category": "image",
		"output_node": true
	}
}`

// workflowFixture is a text-to-image graph: checkpoint loader, titled prompt
// encoders, latent, sampler, decode, then a reroute in front of the save node.
const workflowFixture = `{
	"last_node_id": 8,
	"last_link_id": 10,
	"nodes": [
		{
			"id": 1,
			"type": "CheckpointLoaderSimple",
			"pos": [40, 200],
			"size": [320, 100],
			"order": 0,
			"mode": 0,
			"properties": {"cnr_id": "comfy-core"},
			"widgets_values": ["sd15.safetensors"],
			"outputs": [
				{"name": "MODEL", "type": "MODEL", "links": [1]},
				{"name": "CLIP", "type": "CLIP", "links": [2, 3]},
				{"name": "VAE", "type": "VAE", "links": [4]}
			]
		},
		{
			"id": 2,
			"type": "CLIPTextEncode",
			"title": "Positive Prompt",
			"pos": [420, 120],
			"size": [400, 200],
			"order": 1,
			"mode": 0,
			"properties": {},
			"widgets_values": ["a castle on a hill"],
			"inputs": [{"name": "clip", "type": "CLIP", "link": 2}],
			"outputs": [{"name": "CONDITIONING", "type": "CONDITIONING", "links": [5]}]
		},
		{
			"id": 3,
			"type": "CLIPTextEncode",
			"title": "Negative Prompt",
			"pos": [420, 360],
			"size": [400, 200],
			"order": 2,
			"mode": 0,
			"properties": {},
			"widgets_values": ["blurry, low quality"],
			"inputs": [{"name": "clip", "type": "CLIP", "link": 3}],
			"outputs": [{"name": "CONDITIONING", "type": "CONDITIONING", "links": [6]}]
		},
		{
			"id": 4,
			"type": "EmptyLatentImage",
			"pos": [420, 600],
			"size": [320, 120],
			"order": 3,
			"mode": 0,
			"properties": {},
			"widgets_values": [512, 768, 1],
			"outputs": [{"name": "LATENT", "type": "LATENT", "links": [7]}]
		},
		{
			"id": 5,
			"type": "KSampler",
			"pos": [880, 200],
			"size": [320, 280],
			"order": 4,
			"mode": 0,
			"properties": {},
			"widgets_values": [42, "randomize", 20, 8.0, "euler", "normal", 1.0],
			"inputs": [
				{"name": "model", "type": "MODEL", "link": 1},
				{"name": "positive", "type": "CONDITIONING", "link": 5},
				{"name": "negative", "type": "CONDITIONING", "link": 6},
				{"name": "latent_image", "type": "LATENT", "link": 7}
			],
			"outputs": [{"name": "LATENT", "type": "LATENT", "links": [8]}]
		},
		{
			"id": 7,
			"type": "VAEDecode",
			"pos": [1240, 200],
			"size": [200, 60],
			"order": 5,
			"mode": 0,
			"properties": {},
			"widgets_values": [],
			"inputs": [
				{"name": "samples", "type": "LATENT", "link": 8},
				{"name": "vae", "type": "VAE", "link": 4}
			],
			"outputs": [{"name": "IMAGE", "type": "IMAGE", "links": [9]}]
		},
		{
			"id": 6,
			"type": "Reroute",
			"pos": [1480, 200],
			"size": [80, 30],
			"order": 6,
			"mode": 0,
			"properties": {},
			"widgets_values": [],
			"inputs": [{"name": "", "type": "IMAGE", "link": 9}],
			"outputs": [{"name": "", "type": "IMAGE", "links": [10]}]
		},
		{
			"id": 8,
			"type": "SaveImage",
			"pos": [1600, 200],
			"size": [320, 300],
			"order": 7,
			"mode": 0,
			"properties": {},
			"widgets_values": ["ComfyUI"],
			"inputs": [{"name": "images", "type": "IMAGE", "link": 10}]
		}
	],
	"links": [
		[1, 1, 0, 5, 0, "MODEL"],
		[2, 1, 1, 2, 0, "CLIP"],
		[3, 1, 1, 3, 0, "CLIP"],
		[4, 1, 2, 7, 1, "VAE"],
		[5, 2, 0, 5, 1, "CONDITIONING"],
		[6, 3, 0, 5, 2, "CONDITIONING"],
		[7, 4, 0, 5, 3, "LATENT"],
		[8, 5, 0, 7, 0, "LATENT"],
		[9, 7, 0, 6, 0, "IMAGE"],
		[10, 6, 0, 8, 0, "IMAGE"]
	],
	"version": 0.4
}`

func testRegistry(t *testing.T) *NodeRegistry {
	t.Helper()
	reg, err := ParseObjectInfo([]byte(objectInfoFixture), "http://gpu01:8188")
	if err != nil {
		t.Fatalf("ParseObjectInfo: %v", err)
	}
	return reg
}

func testGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraphFromJSONString(workflowFixture)
	if err != nil {
		t.Fatalf("NewGraphFromJSONString: %v", err)
	}
	return g
}
