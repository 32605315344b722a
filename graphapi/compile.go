package graphapi

import (
	"fmt"
	"strconv"
	"strings"
)

// CompileError records one node that could not be compiled.  The rest of the
// graph compiles on; a single bad node never aborts the whole prompt.
type CompileError struct {
	NodeID   int
	NodeType string
	Err      error
}

func (e CompileError) Error() string {
	return fmt.Sprintf("node %d (%s): %v", e.NodeID, e.NodeType, e.Err)
}

func (e CompileError) Unwrap() error {
	return e.Err
}

// QuirkFunc adjusts a node's emitted literal inputs after the generic widget
// serialization.  Quirks are registered per node type; the wildcard "*"
// applies to every node.  New serialization quirks hook in here without
// touching the compiler.
type QuirkFunc func(n *GraphNode, nt *NodeType, inputs map[string]interface{})

var quirkRegistry = map[string][]QuirkFunc{}

// RegisterQuirk adds a post-serialization hook for a node type.
func RegisterQuirk(nodeType string, fn QuirkFunc) {
	quirkRegistry[nodeType] = append(quirkRegistry[nodeType], fn)
}

func init() {
	// sampler names selected through a provider carry an internal prefix the
	// worker runtime does not understand
	RegisterQuirk("*", func(n *GraphNode, nt *NodeType, inputs map[string]interface{}) {
		if v, ok := inputs["sampler_name"].(string); ok {
			if idx := strings.LastIndex(v, "/"); idx >= 0 {
				inputs["sampler_name"] = v[idx+1:]
			}
		}
	})
}

// CompilePrompt flattens a graph into the instruction map a worker executes.
// Virtual, muted and bypassed nodes are excluded from the emitted prompt but
// links are traced through them so downstream nodes see the effective
// upstream literal or source.  Per-node failures are collected and those
// nodes skipped.
func CompilePrompt(g *Graph, reg *NodeRegistry) (ApiPrompt, []CompileError) {
	prompt := make(ApiPrompt)
	var compileErrors []CompileError

	for _, node := range g.NodesInExecutionOrder {
		if node.IsVirtual() || node.Mode == ModeMuted || node.Mode == ModeBypassed {
			continue
		}

		nt := reg.Type(node.Type)
		if nt == nil {
			compileErrors = append(compileErrors, CompileError{node.ID, node.Type, ErrUnknownNodeType})
			continue
		}

		pn, err := compileNode(g, node, nt)
		if err != nil {
			compileErrors = append(compileErrors, CompileError{node.ID, node.Type, err})
			continue
		}
		prompt[strconv.Itoa(node.ID)] = pn
	}

	prompt.pruneDanglingInputs()
	return prompt, compileErrors
}

func compileNode(g *Graph, node *GraphNode, nt *NodeType) (*PromptNode, error) {
	pn := &PromptNode{
		ClassType: node.Type,
		Inputs:    make(map[string]interface{}),
	}

	// literal widget values; the paired control-after-generate widget is
	// settable but not serializable, so only the seed's numeric value lands
	// in the prompt
	for _, wname := range nt.WidgetOrder() {
		prop := nt.Inputs[wname]
		if !prop.Serializable() {
			continue
		}
		if node.InputLink(wname) != nil {
			continue // converted widget, value arrives over the link
		}

		v := node.WidgetValue(prop.Index())
		if v == nil {
			v = prop.DefaultValue()
		}
		if v == nil {
			if prop.Optional() {
				continue
			}
			return nil, fmt.Errorf("%w: no value at index %d for input %q", ErrMalformedWidgets, prop.Index(), wname)
		}
		pn.Inputs[wname] = v
	}

	for _, fn := range quirkRegistry["*"] {
		fn(node, nt, pn.Inputs)
	}
	for _, fn := range quirkRegistry[node.Type] {
		fn(node, nt, pn.Inputs)
	}

	// link-fed inputs
	for i := range node.Inputs {
		slot := &node.Inputs[i]
		if slot.Link == nil {
			continue
		}
		link := g.LinkByID(*slot.Link)
		if link == nil {
			continue // unresolved link, absorbed; pruning covers the rest
		}

		literal, ref, err := g.effectiveSource(link)
		if err != nil {
			continue // source vanished (muted upstream); input is omitted
		}
		if ref != nil {
			pn.Inputs[slot.Name] = ref
		} else {
			pn.Inputs[slot.Name] = literal
		}
	}

	return pn, nil
}

// effectiveSource follows a link to the node that actually produces its
// value, tracing through reroutes, bypassed nodes and primitives.  It
// returns either a literal (the upstream primitive's value) or a node
// reference.
func (t *Graph) effectiveSource(link *Link) (interface{}, []interface{}, error) {
	cur := link
	for hops := 0; hops < len(t.Nodes)+1; hops++ {
		origin := t.NodeByID(cur.OriginID)
		if origin == nil {
			return nil, nil, ErrDanglingLink
		}

		switch {
		case origin.Type == "PrimitiveNode":
			return origin.WidgetValue(0), nil, nil
		case origin.Type == "Reroute" || origin.Mode == ModeBypassed:
			next := passThroughLink(origin, cur.Type)
			if next == nil {
				return nil, nil, ErrDanglingLink
			}
			cur = next
		case origin.Mode == ModeMuted:
			return nil, nil, ErrDanglingLink
		default:
			return nil, NodeRef(strconv.Itoa(cur.OriginID), cur.OriginSlot), nil
		}
	}
	return nil, nil, ErrDanglingLink // cycle through pass-through nodes
}

// passThroughLink picks the input link a pass-through node forwards: the one
// whose declared type matches, else the first connected input.
func passThroughLink(n *GraphNode, wantType string) *Link {
	for i := range n.Inputs {
		if n.Inputs[i].Link != nil && n.Inputs[i].Type == wantType {
			return n.Graph.LinkByID(*n.Inputs[i].Link)
		}
	}
	return n.FirstInputLink()
}
