package projects

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ToneFriendly     = "friendly"
	ToneProfessional = "professional"
	ToneCasual       = "casual"
	ToneFormal       = "formal"
)

// Settings controls how the widget looks and how the bot talks.
type Settings struct {
	Model          string `json:"model,omitempty"`
	Tone           string `json:"tone,omitempty"`
	LeadGenEnabled bool   `json:"leadGenEnabled"`
	AgentName      string `json:"agentName,omitempty"`
	AgentAvatar    string `json:"agentAvatar,omitempty"`
	WelcomeMessage string `json:"welcomeMessage,omitempty"`
	AutoOpenDelay  int    `json:"autoOpenDelay"`
	SystemPrompt   string `json:"systemPrompt,omitempty"`
}

type QuickQuestion struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Project is one tenant: a business embedding the widget.
type Project struct {
	ID             uint64                             `gorm:"primaryKey" json:"id"`
	Slug           string                             `gorm:"size:64;not null;uniqueIndex" json:"slug"`
	OwnerID        uint64                             `gorm:"not null;index" json:"owner_id"`
	Name           string                             `gorm:"size:120;not null" json:"name"`
	Context        datatypes.JSON                     `gorm:"type:json" json:"context"`
	Color          string                             `gorm:"size:16" json:"color"`
	Settings       datatypes.JSONType[Settings]       `gorm:"type:json" json:"settings"`
	QuickQuestions datatypes.JSONSlice[QuickQuestion] `gorm:"type:json" json:"quick_questions"`
	CreatedAt      time.Time                          `json:"created_at"`
	UpdatedAt      time.Time                          `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

// Config returns the settings value stored in the JSON column.
func (p *Project) Config() Settings {
	if p == nil {
		return Settings{}
	}
	return p.Settings.Data()
}

// AnswerFor returns the stored answer of the quick question matching text.
func (p *Project) AnswerFor(text string) (string, bool) {
	if p == nil {
		return "", false
	}
	needle := normalizeQuestion(text)
	if needle == "" {
		return "", false
	}
	for _, q := range p.QuickQuestions {
		if normalizeQuestion(q.Question) == needle && q.Answer != "" {
			return q.Answer, true
		}
	}
	return "", false
}

// WidgetConfig is the public subset of a project sent to the embedded widget.
type WidgetConfig struct {
	Slug           string   `json:"slug"`
	Name           string   `json:"name"`
	Color          string   `json:"color"`
	AgentName      string   `json:"agentName"`
	AgentAvatar    string   `json:"agentAvatar,omitempty"`
	WelcomeMessage string   `json:"welcomeMessage,omitempty"`
	AutoOpenDelay  int      `json:"autoOpenDelay"`
	QuickQuestions []string `json:"quickQuestions"`
}

func (p *Project) Widget() WidgetConfig {
	settings := p.Config()
	questions := make([]string, 0, len(p.QuickQuestions))
	for _, q := range p.QuickQuestions {
		questions = append(questions, q.Question)
	}
	return WidgetConfig{
		Slug:           p.Slug,
		Name:           p.Name,
		Color:          p.Color,
		AgentName:      settings.DisplayAgentName(p.Name),
		AgentAvatar:    settings.AgentAvatar,
		WelcomeMessage: settings.WelcomeMessage,
		AutoOpenDelay:  settings.AutoOpenDelay,
		QuickQuestions: questions,
	}
}

// DisplayAgentName falls back to "<project> Assistant".
func (s Settings) DisplayAgentName(projectName string) string {
	if s.AgentName != "" {
		return s.AgentName
	}
	if projectName == "" {
		return "Assistant"
	}
	return projectName + " Assistant"
}
