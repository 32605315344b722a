package graphapi

// PromptNode is one instruction of the flat API prompt a worker executes.
// An input value is either a literal or a node reference: a two-element
// array of [sourceNodeID string, outputSlot int].
type PromptNode struct {
	Inputs    map[string]interface{} `json:"inputs"`
	ClassType string                 `json:"class_type"`
}

// ApiPrompt is the flattened, link-resolved instruction map, keyed by node
// id.  Every node reference in it points at a key present in the same map;
// the compiler prunes references that would dangle.
type ApiPrompt map[string]*PromptNode

// NodeRef builds a link-valued input: [sourceNodeID, outputSlot].
func NodeRef(nodeID string, slot int) []interface{} {
	return []interface{}{nodeID, slot}
}

// AsNodeRef reports whether an input value is a node reference, returning
// the referenced node id.
func AsNodeRef(v interface{}) (string, bool) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 2 {
		return "", false
	}
	id, ok := arr[0].(string)
	if !ok {
		return "", false
	}
	switch arr[1].(type) {
	case int, float64:
		return id, true
	}
	return "", false
}

// pruneDanglingInputs removes any input whose referenced node is absent from
// the prompt.  Partial and subgraph compilations otherwise leave references
// to nodes that were excluded.
func (p ApiPrompt) pruneDanglingInputs() {
	for _, pn := range p {
		for name, v := range pn.Inputs {
			if id, ok := AsNodeRef(v); ok {
				if _, present := p[id]; !present {
					delete(pn.Inputs, name)
				}
			}
		}
	}
}

// Validate reports the first dangling node reference found, or nil.  The
// guarantee is checked on emission, not assumed from the source graph.
func (p ApiPrompt) Validate() error {
	for _, pn := range p {
		for _, v := range pn.Inputs {
			if id, ok := AsNodeRef(v); ok {
				if _, present := p[id]; !present {
					return ErrDanglingLink
				}
			}
		}
	}
	return nil
}
