package graphapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"
)

// TextOutput is one piece of text produced by an output node.
type TextOutput struct {
	NodeID string `json:"nodeId"`
	Text   string `json:"text"`
}

// AssetOutput is one file produced by an output node, with the download URL
// constructed against the worker's API address.
type AssetOutput struct {
	NodeID    string  `json:"nodeId"`
	URL       string  `json:"url"`
	Filename  string  `json:"filename"`
	Subfolder string  `json:"subfolder,omitempty"`
	Type      string  `json:"type,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Codec     string  `json:"codec,omitempty"`
	Seconds   float64 `json:"seconds,omitempty"`
}

// WorkflowResult is the normalized outcome of one workflow execution.
type WorkflowResult struct {
	ClientID string        `json:"clientId,omitempty"`
	Duration time.Duration `json:"duration"`
	Texts    []TextOutput  `json:"texts,omitempty"`
	Assets   []AssetOutput `json:"assets,omitempty"`
}

type historyStatus struct {
	StatusStr string          `json:"status_str"`
	Completed bool            `json:"completed"`
	Messages  [][]interface{} `json:"messages"`
}

type historyEntry struct {
	Prompt  []interface{}              `json:"prompt"`
	Outputs map[string]json.RawMessage `json:"outputs"`
	Status  historyStatus              `json:"status"`
}

var textOutputKeys = []string{"text", "string", "strings", "tags"}
var assetOutputKeys = []string{"images", "gifs", "video", "audio", "files"}

// ParseResult normalizes a worker's raw execution-history JSON.  One
// malformed output node is skipped, never failing the whole result.
func ParseResult(data []byte, baseAPIURL string) (*WorkflowResult, error) {
	entries := make(map[string]*historyEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		// a bare entry, not keyed by prompt id
		entry := &historyEntry{}
		if err2 := json.Unmarshal(data, entry); err2 != nil {
			return nil, fmt.Errorf("parse execution history: %w", err)
		}
		entries[""] = entry
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("parse execution history: no entries")
	}

	var entry *historyEntry
	for _, e := range entries {
		entry = e
		break
	}

	retv := &WorkflowResult{
		ClientID: clientIDFromPrompt(entry.Prompt),
		Duration: executionDuration(entry.Status.Messages),
	}

	// deterministic output order regardless of map iteration
	nodeIDs := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	for _, nodeID := range nodeIDs {
		var output map[string]json.RawMessage
		if err := json.Unmarshal(entry.Outputs[nodeID], &output); err != nil {
			slog.Warn("skipping malformed output node", "node", nodeID, "error", err)
			continue
		}

		for _, key := range textOutputKeys {
			raw, ok := output[key]
			if !ok {
				continue
			}
			var texts []string
			if err := json.Unmarshal(raw, &texts); err != nil {
				slog.Warn("skipping malformed text output", "node", nodeID, "key", key, "error", err)
				continue
			}
			for _, t := range texts {
				retv.Texts = append(retv.Texts, TextOutput{NodeID: nodeID, Text: t})
			}
		}

		for _, key := range assetOutputKeys {
			raw, ok := output[key]
			if !ok {
				continue
			}
			var items []assetItem
			if err := json.Unmarshal(raw, &items); err != nil {
				slog.Warn("skipping malformed asset output", "node", nodeID, "key", key, "error", err)
				continue
			}
			for _, item := range items {
				if item.Filename == "" {
					continue
				}
				retv.Assets = append(retv.Assets, item.toAssetOutput(nodeID, baseAPIURL))
			}
		}
	}

	return retv, nil
}

type assetItem struct {
	Filename  string  `json:"filename"`
	Subfolder string  `json:"subfolder"`
	Type      string  `json:"type"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Codec     string  `json:"codec"`
	Seconds   float64 `json:"duration"`
}

func (a assetItem) toAssetOutput(nodeID, baseAPIURL string) AssetOutput {
	params := url.Values{}
	params.Add("filename", a.Filename)
	params.Add("subfolder", a.Subfolder)
	params.Add("type", a.Type)

	return AssetOutput{
		NodeID:    nodeID,
		URL:       fmt.Sprintf("%s/view?%s", baseAPIURL, params.Encode()),
		Filename:  a.Filename,
		Subfolder: a.Subfolder,
		Type:      a.Type,
		Width:     a.Width,
		Height:    a.Height,
		Codec:     a.Codec,
		Seconds:   a.Seconds,
	}
}

// clientIDFromPrompt digs the submitting client id out of the history's
// prompt tuple: [index, promptID, prompt, extra_data, outputs].
func clientIDFromPrompt(prompt []interface{}) string {
	if len(prompt) < 4 {
		return ""
	}
	extra, ok := prompt[3].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := extra["client_id"].(string)
	return id
}

// executionDuration is the wall clock between the execution start and the
// terminal status message, in milliseconds as the worker reports them.
func executionDuration(messages [][]interface{}) time.Duration {
	var start, end float64
	for _, msg := range messages {
		if len(msg) < 2 {
			continue
		}
		name, ok := msg[0].(string)
		if !ok {
			continue
		}
		payload, ok := msg[1].(map[string]interface{})
		if !ok {
			continue
		}
		ts, ok := payload["timestamp"].(float64)
		if !ok {
			continue
		}

		switch name {
		case "execution_start":
			start = ts
		case "execution_success", "execution_error", "execution_interrupted":
			end = ts
		}
	}

	if start == 0 || end == 0 || end < start {
		return 0
	}
	return time.Duration(end-start) * time.Millisecond
}
