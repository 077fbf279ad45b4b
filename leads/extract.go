package leads

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	// (555) 123-4567, 555-123-4567, 555.123.4567, +1-555-123-4567, +44 555 123 4567
	phonePattern = regexp.MustCompile(`(?:\+?\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`)
)

// Extraction is the deterministic contact data found in one message. Values are not deduplicated.
type Extraction struct {
	Emails []string
	Phones []string
	IsLead bool
}

// Extract scans text for email addresses and phone numbers.
func Extract(text string) Extraction {
	emails := emailPattern.FindAllString(text, -1)
	phones := phonePattern.FindAllString(text, -1)
	if emails == nil {
		emails = []string{}
	}
	if phones == nil {
		phones = []string{}
	}
	return Extraction{
		Emails: emails,
		Phones: phones,
		IsLead: len(emails) > 0 || len(phones) > 0,
	}
}
