package graphapi

import "errors"

var (
	// ErrUnknownCategory means the workflow's input/output media kinds form a
	// combination the category table does not cover.
	ErrUnknownCategory = errors.New("cannot infer workflow category")

	// ErrUnknownNodeType means a node references a type the registry does
	// not carry.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrMalformedWidgets means a node's widgets_values array cannot be
	// reconciled with its node type's declared widget order.
	ErrMalformedWidgets = errors.New("malformed widget value array")

	// ErrDanglingLink means a link references a node absent from the graph.
	ErrDanglingLink = errors.New("dangling link")
)
