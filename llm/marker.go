package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
)

var (
	leadMarkerPattern = regexp.MustCompile(`\[\[\s*LEAD_DATA\s*:\s*([\s\S]*?)\]\]`)
	// A completion cut off by max tokens can leave an unterminated marker.
	danglingMarkerPattern = regexp.MustCompile(`\[\[\s*LEAD_DATA[\s\S]*$`)
)

// LeadMarker is the contact data the model reported for the turn.
type LeadMarker struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Country string `json:"country"`
}

// Empty reports whether no field carries a value.
func (m *LeadMarker) Empty() bool {
	return m == nil || (m.Name == "" && m.Email == "" && m.Phone == "" && m.Country == "")
}

// ParseLeadMarker splits a raw reply into the visible text and the marker payload.
// Every marker is removed from the visible text, even when its JSON is invalid.
func ParseLeadMarker(raw string) (string, *LeadMarker) {
	var marker *LeadMarker
	if match := leadMarkerPattern.FindStringSubmatch(raw); match != nil {
		parsed, err := decodeLeadMarker(match[1])
		if err != nil {
			log.Warn("llm: discarding malformed lead marker", "err", err)
		} else if !parsed.Empty() {
			marker = parsed
		}
	}

	visible := leadMarkerPattern.ReplaceAllString(raw, "")
	visible = danglingMarkerPattern.ReplaceAllString(visible, "")
	return strings.TrimSpace(visible), marker
}

func decodeLeadMarker(payload string) (*LeadMarker, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &fields); err != nil {
		return nil, err
	}
	return &LeadMarker{
		Name:    markerString(fields["name"]),
		Email:   markerString(fields["email"]),
		Phone:   markerString(fields["phone"]),
		Country: markerString(fields["country"]),
	}, nil
}

// Models occasionally emit phone numbers as JSON numbers.
func markerString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return formatNumber(v)
	default:
		return ""
	}
}

func formatNumber(v float64) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
