package leads

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusNew       = "new"
	StatusContacted = "contacted"
	StatusQualified = "qualified"
	StatusConverted = "converted"
	StatusArchived  = "archived"
)

var validStatuses = map[string]struct{}{
	StatusNew:       {},
	StatusContacted: {},
	StatusQualified: {},
	StatusConverted: {},
	StatusArchived:  {},
}

// ContactDetails holds a lead's contact data. Emails and phones are kept deduplicated.
type ContactDetails struct {
	Name    string   `json:"name,omitempty"`
	Emails  []string `json:"emails"`
	Phones  []string `json:"phones"`
	Country string   `json:"country,omitempty"`
}

// Lead is a prospect captured from a widget conversation.
type Lead struct {
	ID             uint64                             `gorm:"primaryKey" json:"id"`
	ProjectID      uint64                             `gorm:"not null;index" json:"project_id"`
	SessionID      string                             `gorm:"size:36;not null;index" json:"session_id"`
	ContactDetails datatypes.JSONType[ContactDetails] `gorm:"type:json" json:"contact_details"`
	RawMessage     string                             `gorm:"type:text" json:"raw_message"`
	Status         string                             `gorm:"size:16;not null;default:'new'" json:"status"`
	CreatedAt      time.Time                          `json:"created_at"`
	UpdatedAt      time.Time                          `json:"updated_at"`
}

func (Lead) TableName() string {
	return "leads"
}

// Contact returns the contact details stored in the JSON column.
func (l *Lead) Contact() ContactDetails {
	if l == nil {
		return ContactDetails{}
	}
	return l.ContactDetails.Data()
}
