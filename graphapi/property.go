package graphapi

import (
	"fmt"
	"math"
	"strconv"
)

// Property describes a single input of a node type as declared in the worker
// runtime's object info.  Widget properties (INT/FLOAT/STRING/BOOLEAN/COMBO)
// occupy a slot in the node's widgets_values array; connection properties are
// only satisfied by links and never become widgets.
type Property interface {
	Kind() InputKind
	Name() string
	Optional() bool
	// Settable reports whether the property is a literal widget value.
	Settable() bool
	// Serializable reports whether the widget value is emitted into the API
	// prompt.  Paired control widgets (control_after_generate) are settable
	// but not serializable.
	Serializable() bool
	// Index is the property's slot in the node type's widget order, or -1
	// for connection properties.
	Index() int
	DefaultValue() interface{}
	Tooltip() string
	// Coerce converts a caller-supplied argument to the property's native
	// type, constraining it to the declared range where one exists.
	Coerce(v interface{}) (interface{}, error)
}

type baseProperty struct {
	name         string
	optional     bool
	serializable bool
	index        int
	tooltip      string
}

func (b *baseProperty) Name() string       { return b.name }
func (b *baseProperty) Optional() bool     { return b.optional }
func (b *baseProperty) Serializable() bool { return b.serializable }
func (b *baseProperty) Index() int         { return b.index }
func (b *baseProperty) Tooltip() string    { return b.tooltip }

func (b *baseProperty) readCommon(opts map[string]interface{}) {
	if val, ok := opts["tooltip"].(string); ok {
		b.tooltip = val
	}
}

type IntProperty struct {
	baseProperty
	Default  int64
	Min      int64
	Max      int64
	Step     int64
	hasRange bool
	hasStep  bool
	// ControlAfterGenerate is set for seed-style inputs that imply a paired
	// control widget directly after them in the widget order.
	ControlAfterGenerate bool
}

func newIntProperty(name string, optional bool, opts map[string]interface{}, index int) *IntProperty {
	c := &IntProperty{
		baseProperty: baseProperty{name: name, optional: optional, serializable: true, index: index},
		Min:          0,
		Max:          math.MaxInt64,
	}
	c.readCommon(opts)
	if val, ok := opts["default"].(float64); ok {
		c.Default = int64(val)
	}
	if val, ok := opts["min"].(float64); ok {
		c.Min = int64(val)
		c.hasRange = true
	}
	if val, ok := opts["max"].(float64); ok {
		c.Max = int64(val)
		c.hasRange = true
	}
	if val, ok := opts["step"].(float64); ok {
		c.Step = int64(val)
		c.hasStep = true
	}
	if val, ok := opts["control_after_generate"].(bool); ok {
		c.ControlAfterGenerate = val
	}
	return c
}

func (p *IntProperty) Kind() InputKind           { return KindInt }
func (p *IntProperty) Settable() bool            { return true }
func (p *IntProperty) HasRange() bool            { return p.hasRange }
func (p *IntProperty) HasStep() bool             { return p.hasStep }
func (p *IntProperty) DefaultValue() interface{} { return p.Default }

func (p *IntProperty) Coerce(v interface{}) (interface{}, error) {
	var n int64
	switch val := v.(type) {
	case int64:
		n = val
	case int:
		n = int64(val)
	case float64:
		n = int64(val)
	case string:
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not an integer", p.name, val)
		}
		n = parsed
	default:
		return nil, fmt.Errorf("%s: cannot convert %T to integer", p.name, v)
	}
	if p.hasRange {
		if n > p.Max {
			n = p.Max
		}
		if n < p.Min {
			n = p.Min
		}
	}
	return n, nil
}

type FloatProperty struct {
	baseProperty
	Default  float64
	Min      float64
	Max      float64
	Step     float64
	hasRange bool
	hasStep  bool
}

func newFloatProperty(name string, optional bool, opts map[string]interface{}, index int) *FloatProperty {
	c := &FloatProperty{
		baseProperty: baseProperty{name: name, optional: optional, serializable: true, index: index},
		Min:          0,
		Max:          math.MaxFloat64,
	}
	c.readCommon(opts)
	if val, ok := opts["default"].(float64); ok {
		c.Default = val
	}
	if val, ok := opts["min"].(float64); ok {
		c.Min = val
		c.hasRange = true
	}
	if val, ok := opts["max"].(float64); ok {
		c.Max = val
		c.hasRange = true
	}
	if val, ok := opts["step"].(float64); ok {
		c.Step = val
		c.hasStep = true
	}
	return c
}

func (p *FloatProperty) Kind() InputKind           { return KindFloat }
func (p *FloatProperty) Settable() bool            { return true }
func (p *FloatProperty) HasRange() bool            { return p.hasRange }
func (p *FloatProperty) HasStep() bool             { return p.hasStep }
func (p *FloatProperty) DefaultValue() interface{} { return p.Default }

func (p *FloatProperty) Coerce(v interface{}) (interface{}, error) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case int64:
		f = float64(val)
	case int:
		f = float64(val)
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", p.name, val)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("%s: cannot convert %T to number", p.name, v)
	}
	if p.hasRange {
		f = math.Min(f, p.Max)
		f = math.Max(f, p.Min)
	}
	return f, nil
}

type StringProperty struct {
	baseProperty
	Default   string
	Multiline bool
}

func newStringProperty(name string, optional bool, opts map[string]interface{}, index int) *StringProperty {
	c := &StringProperty{
		baseProperty: baseProperty{name: name, optional: optional, serializable: true, index: index},
	}
	c.readCommon(opts)
	if val, ok := opts["default"].(string); ok {
		c.Default = val
	}
	if val, ok := opts["multiline"].(bool); ok {
		c.Multiline = val
	}
	return c
}

func (p *StringProperty) Kind() InputKind           { return KindString }
func (p *StringProperty) Settable() bool            { return true }
func (p *StringProperty) DefaultValue() interface{} { return p.Default }

func (p *StringProperty) Coerce(v interface{}) (interface{}, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}

type BoolProperty struct {
	baseProperty
	Default  bool
	LabelOn  string
	LabelOff string
}

func newBoolProperty(name string, optional bool, opts map[string]interface{}, index int) *BoolProperty {
	c := &BoolProperty{
		baseProperty: baseProperty{name: name, optional: optional, serializable: true, index: index},
	}
	c.readCommon(opts)
	if val, ok := opts["default"].(bool); ok {
		c.Default = val
	}
	if val, ok := opts["label_on"].(string); ok {
		c.LabelOn = val
	}
	if val, ok := opts["label_off"].(string); ok {
		c.LabelOff = val
	}
	return c
}

func (p *BoolProperty) Kind() InputKind           { return KindBoolean }
func (p *BoolProperty) Settable() bool            { return true }
func (p *BoolProperty) DefaultValue() interface{} { return p.Default }

func (p *BoolProperty) Coerce(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a boolean", p.name, val)
		}
		return parsed, nil
	case float64:
		return val != 0, nil
	}
	return nil, fmt.Errorf("%s: cannot convert %T to boolean", p.name, v)
}

type ComboProperty struct {
	baseProperty
	Values  []string
	Default string
}

func newComboProperty(name string, optional bool, choices []interface{}, opts map[string]interface{}, index int) *ComboProperty {
	c := &ComboProperty{
		baseProperty: baseProperty{name: name, optional: optional, serializable: true, index: index},
	}
	c.readCommon(opts)
	for _, v := range choices {
		if s, ok := v.(string); ok {
			c.Values = append(c.Values, s)
		}
	}
	if val, ok := opts["default"].(string); ok {
		c.Default = val
	} else if len(c.Values) > 0 {
		c.Default = c.Values[0]
	}
	return c
}

func (p *ComboProperty) Kind() InputKind { return KindCombo }
func (p *ComboProperty) Settable() bool  { return true }

func (p *ComboProperty) DefaultValue() interface{} {
	if p.Default == "" {
		return nil
	}
	return p.Default
}

// Coerce takes enum values as-is; membership is validated by execution, not
// here, so values for models installed only on some devices still merge.
func (p *ComboProperty) Coerce(v interface{}) (interface{}, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}

// ConnectionProperty is an input that must be fed by a link from another
// node's output.  It never occupies a widget slot.
type ConnectionProperty struct {
	baseProperty
	TypeName string
	kind     InputKind
}

func newConnectionProperty(name string, optional bool, typeName string, kind InputKind, opts map[string]interface{}) *ConnectionProperty {
	c := &ConnectionProperty{
		baseProperty: baseProperty{name: name, optional: optional, serializable: false, index: -1},
		TypeName:     typeName,
		kind:         kind,
	}
	c.readCommon(opts)
	return c
}

func (p *ConnectionProperty) Kind() InputKind           { return p.kind }
func (p *ConnectionProperty) Settable() bool            { return false }
func (p *ConnectionProperty) DefaultValue() interface{} { return nil }

func (p *ConnectionProperty) Coerce(v interface{}) (interface{}, error) {
	return nil, fmt.Errorf("%s: connection input cannot take a literal value", p.name)
}

// UnknownProperty is the fallback for type strings that cannot be classified.
// It keeps the load from failing; the input is treated as a connection.
type UnknownProperty struct {
	baseProperty
	TypeName string
}

func newUnknownProperty(name string, optional bool, typeName string) *UnknownProperty {
	return &UnknownProperty{
		baseProperty: baseProperty{name: name, optional: optional, serializable: false, index: -1},
		TypeName:     typeName,
	}
}

func (p *UnknownProperty) Kind() InputKind           { return KindUnknown }
func (p *UnknownProperty) Settable() bool            { return false }
func (p *UnknownProperty) DefaultValue() interface{} { return nil }

func (p *UnknownProperty) Coerce(v interface{}) (interface{}, error) {
	return nil, fmt.Errorf("%s: unknown input type %s", p.name, p.TypeName)
}

// NewPropertyFromInput builds a Property from one object-info input entry.
// An entry is either [typeSpec] or [typeSpec, options]; typeSpec is either a
// type name string or an array of literal choices, which is an enumerated
// combo carrying the choice list as its value domain, not a type name.
func NewPropertyFromInput(name string, optional bool, raw interface{}, index int) Property {
	slice, ok := raw.([]interface{})
	if !ok || len(slice) == 0 {
		return nil
	}

	opts := map[string]interface{}{}
	if len(slice) > 1 {
		if m, ok := slice[1].(map[string]interface{}); ok {
			opts = m
		}
	}

	if choices, ok := slice[0].([]interface{}); ok {
		return newComboProperty(name, optional, choices, opts, index)
	}

	typeName, ok := slice[0].(string)
	if !ok {
		return nil
	}

	switch typeName {
	case "INT":
		return newIntProperty(name, optional, opts, index)
	case "FLOAT":
		return newFloatProperty(name, optional, opts, index)
	case "STRING":
		return newStringProperty(name, optional, opts, index)
	case "BOOLEAN":
		return newBoolProperty(name, optional, opts, index)
	case "COMBO":
		// newer schema variant: type name COMBO with options carrying the choices
		choices, _ := opts["options"].([]interface{})
		return newComboProperty(name, optional, choices, opts, index)
	default:
		kind := KindForTypeName(typeName)
		if kind == KindUnknown {
			return newUnknownProperty(name, optional, typeName)
		}
		return newConnectionProperty(name, optional, typeName, kind, opts)
	}
}
