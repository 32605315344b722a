package graphapi

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"
)

// byGraphOrdinal orders nodes by their execution order (ordinality)
type byGraphOrdinal []*GraphNode

func (a byGraphOrdinal) Len() int           { return len(a) }
func (a byGraphOrdinal) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byGraphOrdinal) Less(i, j int) bool { return a[i].Order < a[j].Order }

// Graph is the visual editor's serialized workflow: nodes with positional
// widget values, plus the links between them.
type Graph struct {
	Nodes      []*GraphNode `json:"nodes"`
	Links      []*Link      `json:"links"`
	Groups     []*Group     `json:"groups,omitempty"`
	LastNodeID int          `json:"last_node_id"`
	LastLinkID int          `json:"last_link_id"`
	Version    float64      `json:"version"`

	NodesByID             map[int]*GraphNode `json:"-"`
	LinksByID             map[int]*Link      `json:"-"`
	NodesInExecutionOrder []*GraphNode       `json:"-"`
}

func (t *Graph) UnmarshalJSON(b []byte) error {
	// alias type avoids a recursive call to UnmarshalJSON
	type alias Graph

	a := &alias{}
	if err := json.Unmarshal(b, a); err != nil {
		return err
	}

	t.Nodes = a.Nodes
	t.Links = a.Links
	t.Groups = a.Groups
	t.LastNodeID = a.LastNodeID
	t.LastLinkID = a.LastLinkID
	t.Version = a.Version
	t.reindex()
	return nil
}

func (t *Graph) reindex() {
	t.NodesByID = make(map[int]*GraphNode, len(t.Nodes))
	t.LinksByID = make(map[int]*Link, len(t.Links))

	for _, node := range t.Nodes {
		t.NodesByID[node.ID] = node
		node.Graph = t
	}
	for _, link := range t.Links {
		t.LinksByID[link.ID] = link
	}

	t.NodesInExecutionOrder = make([]*GraphNode, len(t.Nodes))
	copy(t.NodesInExecutionOrder, t.Nodes)
	sort.Sort(byGraphOrdinal(t.NodesInExecutionOrder))
}

func (t *Graph) NodeByID(id int) *GraphNode {
	if val, ok := t.NodesByID[id]; ok {
		return val
	}
	return nil
}

func (t *Graph) LinkByID(id int) *Link {
	if val, ok := t.LinksByID[id]; ok {
		return val
	}
	return nil
}

// NodesWithType returns all nodes of the given type in declaration order.
func (t *Graph) NodesWithType(nodeType string) []*GraphNode {
	retv := make([]*GraphNode, 0)
	for _, n := range t.Nodes {
		if n.Type == nodeType {
			retv = append(retv, n)
		}
	}
	return retv
}

// Copy returns a deep copy of the graph via a JSON round trip.  The argument
// merger rewrites widget values in a copy; the caller's graph is never
// mutated.
func (t *Graph) Copy() (*Graph, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	retv := &Graph{}
	if err := json.Unmarshal(data, retv); err != nil {
		return nil, err
	}
	return retv, nil
}

func (t *Graph) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func NewGraphFromJSONReader(r io.Reader) (*Graph, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	graph := &Graph{}
	if err := json.Unmarshal(data, graph); err != nil {
		return nil, err
	}
	return graph, nil
}

func NewGraphFromJSONString(data string) (*Graph, error) {
	return NewGraphFromJSONReader(strings.NewReader(data))
}

func NewGraphFromJSONFile(path string) (*Graph, error) {
	freader, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer freader.Close()

	return NewGraphFromJSONReader(freader)
}
