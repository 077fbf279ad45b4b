package leads

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		emails []string
		phones []string
	}{
		{name: "plain email", text: "My email is a@b.com", emails: []string{"a@b.com"}},
		{name: "email with tags", text: "reach me: jane.doe+sales@mail.example.co.uk!", emails: []string{"jane.doe+sales@mail.example.co.uk"}},
		{name: "parenthesised phone", text: "call (555) 123-4567 today", phones: []string{"(555) 123-4567"}},
		{name: "dashed phone", text: "555-123-4567", phones: []string{"555-123-4567"}},
		{name: "dotted phone", text: "555.123.4567", phones: []string{"555.123.4567"}},
		{name: "country code", text: "I'm at +1-555-123-4567", phones: []string{"+1-555-123-4567"}},
		{name: "spaced international", text: "+44 555 123 4567 works", phones: []string{"+44 555 123 4567"}},
		{
			name:   "both and duplicates kept",
			text:   "a@b.com or a@b.com, phone 555-123-4567",
			emails: []string{"a@b.com", "a@b.com"},
			phones: []string{"555-123-4567"},
		},
		{name: "nothing", text: "What are your opening hours?"},
		{name: "short numbers", text: "Order 12345 arrived on 2024-01-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text)
			if tt.emails == nil {
				tt.emails = []string{}
			}
			if tt.phones == nil {
				tt.phones = []string{}
			}
			assert.Equal(t, tt.emails, got.Emails)
			assert.Equal(t, tt.phones, got.Phones)
			assert.Equal(t, len(tt.emails)+len(tt.phones) > 0, got.IsLead)
		})
	}
}
