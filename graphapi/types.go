package graphapi

import (
	"encoding/json"
)

type Pos struct {
	X float64
	Y float64
}

func (p *Pos) UnmarshalJSON(b []byte) error {
	var tmp []interface{}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}

	for i, v := range tmp {
		if value, ok := v.(float64); ok {
			if i == 0 {
				p.X = value
			} else {
				p.Y = value
			}
		}
	}
	return nil
}

func (p *Pos) MarshalJSON() ([]byte, error) {
	return json.Marshal([]float64{p.X, p.Y})
}

type Size struct {
	Width  float64
	Height float64
}

func (s *Size) UnmarshalJSON(b []byte) error {
	// the editor serializes size as either an array or an object keyed "0"/"1"
	var tmpArr []interface{}
	if err := json.Unmarshal(b, &tmpArr); err == nil && len(tmpArr) == 2 {
		for i, v := range tmpArr {
			if value, ok := v.(float64); ok {
				if i == 0 {
					s.Width = value
				} else {
					s.Height = value
				}
			}
		}
		return nil
	}

	var tmpMap map[string]interface{}
	if err := json.Unmarshal(b, &tmpMap); err != nil {
		return err
	}

	for k, v := range tmpMap {
		if value, ok := v.(float64); ok {
			if k == "0" {
				s.Width = value
			} else {
				s.Height = value
			}
		}
	}
	return nil
}

// when marshaling, always output as an array
func (s *Size) MarshalJSON() ([]byte, error) {
	return json.Marshal([]float64{s.Width, s.Height})
}

// Group is an editor-only rectangle; it never affects compilation but is
// carried so merged graphs round-trip losslessly.
type Group struct {
	Title    string `json:"title"`
	Bounding []int  `json:"bounding"`
	Color    string `json:"color,omitempty"`
}
