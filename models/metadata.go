package models

import "strings"

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence accepts the three known tiers, case-insensitively.
func ParseConfidence(s string) (Confidence, bool) {
	switch c := Confidence(strings.ToLower(strings.TrimSpace(s))); c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return c, true
	}
	return "", false
}

// CardMetadata holds the descriptive fields of a card. A nil field is absent;
// present fields are never empty strings or placeholder tokens.
type CardMetadata struct {
	PlayerName *string `json:"player_name,omitempty" bson:"player_name,omitempty"`
	Year       *int    `json:"year,omitempty" bson:"year,omitempty"`
	Brand      *string `json:"brand,omitempty" bson:"brand,omitempty"`
	CardNumber *string `json:"card_number,omitempty" bson:"card_number,omitempty"`
	SetName    *string `json:"set_name,omitempty" bson:"set_name,omitempty"`
	Sport      *string `json:"sport,omitempty" bson:"sport,omitempty"`
	Condition  *string `json:"condition,omitempty" bson:"condition,omitempty"`
}

// Fields returns the present fields keyed by their stored names.
func (m CardMetadata) Fields() map[string]any {
	out := make(map[string]any, 7)
	put := func(key string, v *string) {
		if v != nil {
			out[key] = *v
		}
	}
	put("player_name", m.PlayerName)
	if m.Year != nil {
		out["year"] = *m.Year
	}
	put("brand", m.Brand)
	put("card_number", m.CardNumber)
	put("set_name", m.SetName)
	put("sport", m.Sport)
	put("condition", m.Condition)
	return out
}

func (m CardMetadata) IsEmpty() bool {
	return len(m.Fields()) == 0
}
