package graphapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// NodeType describes how to instantiate one node type: its declared inputs in
// order, its output types, and whether it terminates a workflow.
type NodeType struct {
	Name        string
	DisplayName string
	Description string
	Category    string
	OutputNode  bool
	Outputs     []string
	OutputNames []string

	Inputs      map[string]Property
	InputOrder  []string // required then optional, in declared order
	HiddenOrder []string

	widgetOrder []string // settable inputs, including paired control widgets
}

// Input returns the property with the given name, or nil.
func (t *NodeType) Input(name string) Property {
	if p, ok := t.Inputs[name]; ok {
		return p
	}
	return nil
}

// WidgetOrder returns the names of the node's widget inputs in the order
// their values appear in a graph node's widgets_values array.
func (t *NodeType) WidgetOrder() []string {
	return t.widgetOrder
}

// WidgetCount is the number of widgets_values slots the node type occupies.
func (t *NodeType) WidgetCount() int {
	return len(t.widgetOrder)
}

// NodeRegistry is the parsed node-type catalog of a worker runtime.  Build it
// once per runtime version and cache it by origin URL; it is immutable after
// load.
type NodeRegistry struct {
	BaseURL string
	Types   map[string]*NodeType

	// Raw keeps the original object-info document for backends that consume
	// it directly (the subprocess compiler contract).
	Raw []byte
}

// Type returns the definition for a node type name, or nil when the type is
// not part of the catalog (a custom node the runtime does not carry).
func (r *NodeRegistry) Type(name string) *NodeType {
	if t, ok := r.Types[name]; ok {
		return t
	}
	return nil
}

// nodeTypeInput preserves the declaration order of the required/optional
// entries, which encoding/json maps would lose.  The order determines how
// positional widgets_values entries map to named inputs.
type nodeTypeInput struct {
	Required        map[string]interface{}
	Optional        map[string]interface{}
	Hidden          map[string]interface{}
	OrderedRequired []string
	OrderedOptional []string
	OrderedHidden   []string
}

func (noi *nodeTypeInput) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(b)))

	if _, err := dec.Token(); err != nil { // opening brace
		return err
	}

	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return err
		}

		key := t.(string)
		switch key {
		case "required", "optional", "hidden":
			if _, err := dec.Token(); err != nil { // nested opening brace
				return err
			}

			currentMap := make(map[string]interface{})
			currentOrder := make([]string, 0)
			for dec.More() {
				entryKeyToken, err := dec.Token()
				if err != nil {
					return err
				}
				entryKey := entryKeyToken.(string)
				currentOrder = append(currentOrder, entryKey)

				var entry interface{}
				if err := dec.Decode(&entry); err != nil {
					return err
				}
				currentMap[entryKey] = entry
			}

			if _, err := dec.Token(); err != nil { // nested closing brace
				return err
			}

			switch key {
			case "required":
				noi.Required = currentMap
				noi.OrderedRequired = currentOrder
			case "optional":
				noi.Optional = currentMap
				noi.OrderedOptional = currentOrder
			case "hidden":
				noi.Hidden = currentMap
				noi.OrderedHidden = currentOrder
			}
		default:
			if err := dec.Decode(new(interface{})); err != nil {
				return err
			}
		}
	}

	if _, err := dec.Token(); err != nil { // closing brace
		return err
	}
	return nil
}

type rawNodeType struct {
	Input       *nodeTypeInput `json:"input"`
	Output      []string       `json:"output"`
	OutputName  []string       `json:"output_name"`
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	OutputNode  bool           `json:"output_node"`
}

var controlAfterGenerateValues = []interface{}{"fixed", "increment", "decrement", "randomize"}

// ParseObjectInfo parses a worker runtime's object-info document into a
// NodeRegistry.  baseURL is the runtime's base address, used to rewrite any
// embedded relative asset URLs to absolute form.  A node type with zero
// inputs is valid; an input that cannot be classified becomes an Unknown
// property instead of failing the load.
func ParseObjectInfo(data []byte, baseURL string) (*NodeRegistry, error) {
	raw := make(map[string]*rawNodeType)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse object info: %w", err)
	}

	reg := &NodeRegistry{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Types:   make(map[string]*NodeType, len(raw)),
		Raw:     data,
	}

	for name, rt := range raw {
		nt := &NodeType{
			Name:        name,
			DisplayName: rt.DisplayName,
			Description: rt.Description,
			Category:    rt.Category,
			OutputNode:  rt.OutputNode,
			Outputs:     rt.Output,
			OutputNames: rt.OutputName,
			Inputs:      make(map[string]Property),
		}
		if rt.Name != "" {
			nt.Name = rt.Name
		}

		if rt.Input != nil {
			reg.populateInputs(nt, rt.Input.OrderedRequired, rt.Input.Required, false)
			reg.populateInputs(nt, rt.Input.OrderedOptional, rt.Input.Optional, true)
			nt.HiddenOrder = rt.Input.OrderedHidden
		}

		reg.Types[nt.Name] = nt
	}

	return reg, nil
}

func (r *NodeRegistry) populateInputs(nt *NodeType, order []string, entries map[string]interface{}, optional bool) {
	for _, name := range order {
		index := -1
		if willBeWidget(entries[name]) {
			index = len(nt.widgetOrder)
		}

		prop := NewPropertyFromInput(name, optional, entries[name], index)
		if prop == nil {
			slog.Warn("cannot classify input", "node_type", nt.Name, "input", name)
			prop = newUnknownProperty(name, optional, "")
		}
		r.rewriteAssetURLs(prop)

		nt.Inputs[name] = prop
		nt.InputOrder = append(nt.InputOrder, name)
		if prop.Settable() {
			nt.widgetOrder = append(nt.widgetOrder, name)
		}

		// Seed-style INT inputs imply a paired control widget directly after
		// them; it consumes a widgets_values slot but is never serialized.
		if ip, ok := prop.(*IntProperty); ok && seedsControlWidget(ip) {
			ctrl := newComboProperty("control_after_generate", optional, controlAfterGenerateValues, map[string]interface{}{}, len(nt.widgetOrder))
			ctrl.serializable = false
			if _, exists := nt.Inputs[ctrl.name]; !exists {
				nt.Inputs[ctrl.name] = ctrl
				nt.widgetOrder = append(nt.widgetOrder, ctrl.name)
			}
		}
	}
}

func seedsControlWidget(p *IntProperty) bool {
	return p.ControlAfterGenerate || p.Name() == "seed" || p.Name() == "noise_seed"
}

// willBeWidget mirrors NewPropertyFromInput's classification just far enough
// to know whether the input occupies a widget slot.
func willBeWidget(raw interface{}) bool {
	slice, ok := raw.([]interface{})
	if !ok || len(slice) == 0 {
		return false
	}
	if _, ok := slice[0].([]interface{}); ok {
		return true // enumerated combo
	}
	switch slice[0] {
	case "INT", "FLOAT", "STRING", "BOOLEAN", "COMBO":
		return true
	}
	return false
}

// rewriteAssetURLs makes runtime-relative asset references absolute so
// callers outside the runtime's origin can resolve them.
func (r *NodeRegistry) rewriteAssetURLs(p Property) {
	if r.BaseURL == "" {
		return
	}
	switch prop := p.(type) {
	case *StringProperty:
		prop.Default = r.absoluteURL(prop.Default)
	case *ComboProperty:
		for i, v := range prop.Values {
			prop.Values[i] = r.absoluteURL(v)
		}
		prop.Default = r.absoluteURL(prop.Default)
	}
}

func (r *NodeRegistry) absoluteURL(s string) string {
	if strings.HasPrefix(s, "/view?") || strings.HasPrefix(s, "/api/") {
		return r.BaseURL + s
	}
	return s
}
