package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const lockStripes = 64

// Asserted is the contact data the model reported in its hidden marker.
type Asserted struct {
	Name    string
	Email   string
	Phone   string
	Country string
}

// MergeInput is one qualifying-message candidate for a project's lead list.
type MergeInput struct {
	ProjectID uint64
	SessionID string
	Text      string
	Asserted  *Asserted
}

// Engine merges contact data into at most one lead per visitor.
type Engine struct {
	db    *gorm.DB
	locks [lockStripes]sync.Mutex
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// Merge unions the extracted contact data into the matching lead, creating one if none matches.
// It returns nil without touching the store when the message carries no lead data.
func (e *Engine) Merge(ctx context.Context, in MergeInput) (*Lead, error) {
	if in.ProjectID == 0 || strings.TrimSpace(in.SessionID) == "" {
		return nil, errors.New("leads: project and session are required")
	}

	found := Extract(in.Text)
	emails, phones := found.Emails, found.Phones
	isLead := found.IsLead
	var name, country string
	if in.Asserted != nil {
		isLead = true
		if email := strings.TrimSpace(in.Asserted.Email); email != "" {
			emails = append(emails, email)
		}
		if phone := strings.TrimSpace(in.Asserted.Phone); phone != "" {
			phones = append(phones, phone)
		}
		name = strings.TrimSpace(in.Asserted.Name)
		country = strings.TrimSpace(in.Asserted.Country)
	}
	if !isLead {
		return nil, nil
	}
	emails, phones = dedupe(emails), dedupe(phones)

	// Serialize read-then-write per project within this process.
	lock := &e.locks[in.ProjectID%lockStripes]
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.findMatch(ctx, in.ProjectID, in.SessionID, emails, phones)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		lead := &Lead{
			ProjectID: in.ProjectID,
			SessionID: in.SessionID,
			ContactDetails: datatypes.NewJSONType(ContactDetails{
				Name:    name,
				Emails:  emails,
				Phones:  phones,
				Country: country,
			}),
			RawMessage: in.Text,
			Status:     StatusNew,
		}
		if err := e.db.WithContext(ctx).Create(lead).Error; err != nil {
			return nil, fmt.Errorf("leads: create: %w", err)
		}
		return lead, nil
	}

	details := existing.Contact()
	details.Emails = dedupe(append(details.Emails, emails...))
	details.Phones = dedupe(append(details.Phones, phones...))
	if name != "" {
		details.Name = name
	}
	if country != "" {
		details.Country = country
	}
	existing.ContactDetails = datatypes.NewJSONType(details)

	if err := e.db.WithContext(ctx).Model(existing).Update("contact_details", existing.ContactDetails).Error; err != nil {
		return nil, fmt.Errorf("leads: update: %w", err)
	}
	return existing, nil
}

// findMatch prefers the lead of the same session, then any lead sharing an email or phone.
func (e *Engine) findMatch(ctx context.Context, projectID uint64, sessionID string, emails, phones []string) (*Lead, error) {
	var candidates []Lead
	if err := e.db.WithContext(ctx).Where("project_id = ?", projectID).Order("id ASC").Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("leads: load candidates: %w", err)
	}

	for i := range candidates {
		if candidates[i].SessionID == sessionID {
			return &candidates[i], nil
		}
	}
	for i := range candidates {
		details := candidates[i].Contact()
		if overlaps(details.Emails, emails) || overlaps(details.Phones, phones) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func dedupe(values []string) []string {
	result := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

func overlaps(stored, incoming []string) bool {
	if len(stored) == 0 || len(incoming) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(stored))
	for _, value := range stored {
		set[value] = struct{}{}
	}
	for _, value := range incoming {
		if _, ok := set[value]; ok {
			return true
		}
	}
	return false
}
