package graphapi

// Node modes as the visual editor serializes them.
const (
	ModeNormal   = 0
	ModeMuted    = 2
	ModeBypassed = 4
)

// Slot is a connection point on a node.  Input slots carry at most one link;
// output slots fan out to many.
type Slot struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Link      *int    `json:"link,omitempty"`  // input slots
	Links     *[]int  `json:"links,omitempty"` // output slots
	Widget    *Widget `json:"widget,omitempty"`
	Shape     *int    `json:"shape,omitempty"`
	SlotIndex *int    `json:"slot_index,omitempty"`
}

// Widget marks an input slot whose value is also editable as a widget.
type Widget struct {
	Name   *string      `json:"name"`
	Config *interface{} `json:"config,omitempty"`
}

// GraphNode is one node of the caller-supplied visual graph.  WidgetValues is
// the positional value array; the node definition's declared input order maps
// each position to a named input.
type GraphNode struct {
	ID           int                    `json:"id"`
	Type         string                 `json:"type"`
	Title        string                 `json:"title,omitempty"`
	Position     Pos                    `json:"pos"`
	Size         Size                   `json:"size"`
	Order        int                    `json:"order"`
	Mode         int                    `json:"mode"`
	Flags        *interface{}           `json:"flags,omitempty"`
	Meta         map[string]interface{} `json:"properties"` // editor metadata, carries package provenance
	WidgetValues []interface{}          `json:"widgets_values"`
	Color        string                 `json:"color,omitempty"`
	BGColor      string                 `json:"bgcolor,omitempty"`
	Inputs       []Slot                 `json:"inputs,omitempty"`
	Outputs      []Slot                 `json:"outputs,omitempty"`
	Graph        *Graph                 `json:"-"`
}

// IsVirtual reports whether the node exists only in the editor and must not
// appear in a compiled prompt.
func (n *GraphNode) IsVirtual() bool {
	switch n.Type {
	case "PrimitiveNode", "Reroute", "Note", "MarkdownNote":
		return true
	}
	return false
}

// InputLink returns the link feeding the named input slot, or nil when the
// slot is unconnected or absent.
func (n *GraphNode) InputLink(name string) *Link {
	for i := range n.Inputs {
		if n.Inputs[i].Name == name {
			if n.Inputs[i].Link == nil {
				return nil
			}
			return n.Graph.LinkByID(*n.Inputs[i].Link)
		}
	}
	return nil
}

// FirstInputLink returns the link on the node's first connected input slot.
// Pass-through nodes (Reroute, bypassed nodes) forward this link's source.
func (n *GraphNode) FirstInputLink() *Link {
	for i := range n.Inputs {
		if n.Inputs[i].Link != nil {
			return n.Graph.LinkByID(*n.Inputs[i].Link)
		}
	}
	return nil
}

// WidgetValue returns the widget value at the given positional index, or nil
// when the array is shorter than the node type declares.
func (n *GraphNode) WidgetValue(index int) interface{} {
	if index < 0 || index >= len(n.WidgetValues) {
		return nil
	}
	return n.WidgetValues[index]
}

// SetWidgetValue writes a widget value, growing the array when the editor
// serialized fewer entries than the node type declares.
func (n *GraphNode) SetWidgetValue(index int, v interface{}) {
	for len(n.WidgetValues) <= index {
		n.WidgetValues = append(n.WidgetValues, nil)
	}
	n.WidgetValues[index] = v
}

// PackageProvenance extracts the installed-package identifiers the editor
// records on nodes supplied by custom node packs.
func (n *GraphNode) PackageProvenance() []string {
	var retv []string
	for _, key := range []string{"cnr_id", "aux_id"} {
		if v, ok := n.Meta[key].(string); ok && v != "" {
			retv = append(retv, v)
		}
	}
	return retv
}
