package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"cardtracker/models"
)

var errNotObject = errors.New("response is not a JSON object")

// ParseResponse turns the model's reply into card metadata. Placeholder values
// ("", "null", "unknown") become absent fields and a year that cannot be read
// as an integer is dropped on its own. Only an unreadable reply is an error.
func ParseResponse(content string) (*models.CardMetadata, models.Confidence, string, error) {
	raw, err := decodeObject(content)
	if err != nil {
		return nil, "", "", err
	}

	confidence := models.ConfidenceMedium
	if s, ok := text(raw["confidence"]); ok {
		if c, ok := models.ParseConfidence(s); ok {
			confidence = c
		}
	}
	notes, _ := text(raw["notes"])
	delete(raw, "confidence")
	delete(raw, "notes")

	md := &models.CardMetadata{
		PlayerName: textPtr(raw["player_name"]),
		Year:       year(raw["year"]),
		Brand:      textPtr(raw["brand"]),
		CardNumber: textPtr(raw["card_number"]),
		SetName:    textPtr(raw["set_name"]),
		Sport:      textPtr(raw["sport"]),
		Condition:  textPtr(raw["condition"]),
	}
	return md, confidence, notes, nil
}

func decodeObject(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)

	var raw map[string]any
	err := json.Unmarshal([]byte(content), &raw)
	if err != nil {
		// models occasionally wrap the object in prose or fences
		repaired, rerr := jsonrepair.JSONRepair(content)
		if rerr != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		raw = nil
		if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
			return nil, fmt.Errorf("decode repaired response: %w", err)
		}
	}
	if raw == nil {
		return nil, errNotObject
	}
	return raw, nil
}

func isPlaceholder(s string) bool {
	return s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "unknown")
}

// text returns v as a trimmed, non-placeholder string.
func text(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return "", false
	}
	if isPlaceholder(s) {
		return "", false
	}
	return s, true
}

func textPtr(v any) *string {
	s, ok := text(v)
	if !ok {
		return nil
	}
	return &s
}

// Years outside this range are treated as misreads.
const (
	minYear = 1800
	maxYear = 2100
)

func year(v any) *int {
	var n int
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || t < minYear || t > maxYear {
			return nil
		}
		n = int(t)
	case string:
		s := strings.TrimSpace(t)
		if isPlaceholder(s) {
			return nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return nil
		}
		n = i
	default:
		return nil
	}
	if n < minYear || n > maxYear {
		return nil
	}
	return &n
}
