package graphapi

import (
	"log/slog"
	"sort"
)

// MergeReport carries the non-fatal findings of an argument merge.  The
// caller decides whether missing inputs are severe enough to stop.
type MergeReport struct {
	// Missing lists exposed inputs that had no matching argument and no
	// usable default.
	Missing []string `json:"missing,omitempty"`
	// Extra lists argument keys that matched no exposed input.
	Extra []string `json:"extra,omitempty"`
}

// MergeArguments writes caller-supplied argument values into the widget
// slots of a copy of the graph.  The original graph is never mutated.
// Values are coerced to each input's declared type; enum values are taken
// as-is and validated only by downstream execution.
func MergeArguments(g *Graph, args map[string]interface{}, info *WorkflowInfo) (*Graph, *MergeReport, error) {
	merged, err := g.Copy()
	if err != nil {
		return nil, nil, err
	}

	report := &MergeReport{}
	matched := make(map[string]bool, len(args))

	for _, def := range info.Inputs {
		arg, ok := args[def.Name]
		if !ok {
			if def.Default == nil {
				report.Missing = append(report.Missing, def.Name)
			}
			continue
		}
		matched[def.Name] = true

		node := merged.NodeByID(def.NodeID)
		if node == nil {
			report.Missing = append(report.Missing, def.Name)
			continue
		}

		value := arg
		if prop := coercionProperty(def); prop != nil {
			coerced, err := prop.Coerce(arg)
			if err != nil {
				// an uncoercible argument leaves the input unsatisfied
				slog.Warn("cannot coerce workflow argument", "input", def.Name, "error", err)
				report.Missing = append(report.Missing, def.Name)
				continue
			}
			value = coerced
		}

		node.SetWidgetValue(def.ValueIndex, value)
	}

	for key := range args {
		if !matched[key] {
			report.Extra = append(report.Extra, key)
		}
	}
	sort.Strings(report.Extra)

	return merged, report, nil
}

// coercionProperty rebuilds just enough of a Property from the definition to
// coerce argument values, so merging does not need the registry at hand.
func coercionProperty(def InputDefinition) Property {
	switch def.Kind {
	case KindInt:
		opts := map[string]interface{}{}
		if def.Min != nil {
			opts["min"] = *def.Min
		}
		if def.Max != nil {
			opts["max"] = *def.Max
		}
		return newIntProperty(def.Name, false, opts, def.ValueIndex)
	case KindFloat:
		opts := map[string]interface{}{}
		if def.Min != nil {
			opts["min"] = *def.Min
		}
		if def.Max != nil {
			opts["max"] = *def.Max
		}
		return newFloatProperty(def.Name, false, opts, def.ValueIndex)
	case KindBoolean:
		return newBoolProperty(def.Name, false, map[string]interface{}{}, def.ValueIndex)
	case KindString:
		return newStringProperty(def.Name, false, map[string]interface{}{}, def.ValueIndex)
	case KindCombo, KindImage, KindAudio, KindVideo:
		choices := make([]interface{}, len(def.EnumValues))
		for i, v := range def.EnumValues {
			choices[i] = v
		}
		return newComboProperty(def.Name, false, choices, map[string]interface{}{}, def.ValueIndex)
	}
	return nil
}
