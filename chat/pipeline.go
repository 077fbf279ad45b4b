package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/AnastRaja/chatbot-sub000/config"
	"github.com/AnastRaja/chatbot-sub000/knowledge"
	"github.com/AnastRaja/chatbot-sub000/leads"
	"github.com/AnastRaja/chatbot-sub000/llm"
	"github.com/AnastRaja/chatbot-sub000/projects"
	"github.com/AnastRaja/chatbot-sub000/realtime"
)

const (
	maxMessageRunes = 4000
	summaryTimeout  = 30 * time.Second
)

var (
	ErrProjectNotFound = errors.New("chat: project not found")
	ErrEmptyMessage    = errors.New("chat: message is empty")
	ErrMessageTooLong  = errors.New("chat: message is too long")
)

// Searcher retrieves knowledge-base chunks for a visitor message.
type Searcher interface {
	Search(ctx context.Context, projectID uint64, text string, k int) ([]knowledge.ScoredChunk, error)
}

// LeadQueue accepts lead merges without blocking.
type LeadQueue interface {
	Submit(in leads.MergeInput) bool
}

type Deps struct {
	Projects   *projects.Store
	Ledger     *Ledger
	Search     Searcher
	Composer   *llm.Composer
	Summarizer *llm.Summarizer
	Leads      LeadQueue
	Events     realtime.Broadcaster
}

// Pipeline runs visitor turns and agent actions.
type Pipeline struct {
	projects     *projects.Store
	ledger       *Ledger
	search       Searcher
	composer     *llm.Composer
	summarizer   *llm.Summarizer
	leads        LeadQueue
	events       realtime.Broadcaster
	historyLimit int
	background   sync.WaitGroup
}

func NewPipeline(deps Deps, cfg config.ChatConfig) *Pipeline {
	events := deps.Events
	if events == nil {
		events = realtime.Discard{}
	}
	composer := deps.Composer
	if composer == nil {
		composer = llm.NewComposer(nil, llm.ComposerOptions{FallbackReply: cfg.FallbackReply})
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 10
	}
	return &Pipeline{
		projects:     deps.Projects,
		ledger:       deps.Ledger,
		search:       deps.Search,
		composer:     composer,
		summarizer:   deps.Summarizer,
		leads:        deps.Leads,
		events:       events,
		historyLimit: limit,
	}
}

// TurnRequest is one inbound widget message.
type TurnRequest struct {
	ProjectSlug string
	SessionID   string
	Text        string
	Page        *llm.PageContext
	Metadata    ClientMetadata
}

type TurnResult struct {
	SessionID      string   `json:"sessionId"`
	Reply          string   `json:"reply"`
	SessionCreated bool     `json:"sessionCreated"`
	AgentActive    bool     `json:"agentActive"`
	Fallback       bool     `json:"-"`
	UserMessage    *Message `json:"-"`
	BotMessage     *Message `json:"-"`
}

// HandleTurn persists the visitor message, produces and persists the reply, and
// hands lead extraction to the lead queue without waiting for it.
func (p *Pipeline) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return nil, ErrMessageTooLong
	}

	project, err := p.findProject(ctx, req.ProjectSlug)
	if err != nil {
		return nil, err
	}
	settings := project.Config()

	session, created, err := p.ledger.Resolve(ctx, SessionKey{ProjectID: project.ID, SessionID: req.SessionID}, req.Metadata)
	if err != nil {
		return nil, err
	}
	if created {
		p.publish(realtime.EventSessionCreated, realtime.ChannelDashboard, session, session)
	}

	userMsg := &Message{SessionID: session.ID, ProjectID: project.ID, Sender: SenderUser, Content: text}
	if err := p.ledger.Append(ctx, userMsg); err != nil {
		return nil, err
	}
	p.publish(realtime.EventNewMessage, realtime.ChannelDashboard, session, userMsg)

	result := &TurnResult{SessionID: session.ID, SessionCreated: created, UserMessage: userMsg}

	if session.AgentTakeover {
		p.submitLead(settings, session, text, nil)
		result.AgentActive = true
		return result, nil
	}

	var (
		visible string
		marker  *llm.LeadMarker
		usage   *llm.ChatUsage
	)
	if answer, ok := project.AnswerFor(text); ok {
		visible = answer
	} else {
		history, err := p.ledger.Recent(ctx, session.ID, p.historyLimit)
		if err != nil {
			return nil, err
		}

		reply := p.composer.Reply(ctx, llm.ComposeInput{
			Business: llm.Business{
				Name:         project.Name,
				Context:      []byte(project.Context),
				AgentName:    settings.DisplayAgentName(project.Name),
				Tone:         settings.Tone,
				SystemPrompt: settings.SystemPrompt,
				LeadCapture:  settings.LeadGenEnabled,
				Model:        settings.Model,
			},
			History: toTurns(history),
			Chunks:  p.retrieve(ctx, project.ID, text),
			Page:    req.Page,
		})
		visible, marker = llm.ParseLeadMarker(reply.Text)
		if visible == "" {
			visible = p.composer.FallbackReply()
		}
		usage = reply.Usage
		result.Fallback = reply.Fallback
	}

	p.submitLead(settings, session, text, marker)

	botMsg := &Message{SessionID: session.ID, ProjectID: project.ID, Sender: SenderBot, Content: visible}
	if usage != nil {
		prompt, completion := usage.PromptTokens, usage.CompletionTokens
		botMsg.PromptTokens = &prompt
		botMsg.CompletionTokens = &completion
	}
	if err := p.ledger.Append(ctx, botMsg); err != nil {
		return nil, err
	}
	p.publish(realtime.EventNewMessage, realtime.ChannelDashboard, session, botMsg)

	result.Reply = visible
	result.BotMessage = botMsg
	return result, nil
}

// StartSession opens a session when the widget loads, before the first message.
func (p *Pipeline) StartSession(ctx context.Context, projectSlug string, meta ClientMetadata) (*Session, *projects.Project, error) {
	project, err := p.findProject(ctx, projectSlug)
	if err != nil {
		return nil, nil, err
	}
	session, err := p.ledger.Create(ctx, project.ID, meta)
	if err != nil {
		return nil, nil, err
	}
	p.publish(realtime.EventSessionCreated, realtime.ChannelDashboard, session, session)
	return session, project, nil
}

// Wait blocks until background summaries finish.
func (p *Pipeline) Wait() {
	p.background.Wait()
}

func (p *Pipeline) findProject(ctx context.Context, slug string) (*projects.Project, error) {
	project, err := p.projects.FindBySlug(ctx, slug)
	if errors.Is(err, projects.ErrNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chat: load project: %w", err)
	}
	return project, nil
}

// retrieve degrades to no context when embedding or search fails.
func (p *Pipeline) retrieve(ctx context.Context, projectID uint64, text string) []string {
	if p.search == nil {
		return nil
	}
	chunks, err := p.search.Search(ctx, projectID, text, 0)
	if err != nil {
		log.Warn("chat: knowledge retrieval failed, answering without context", "project", projectID, "err", err)
		return nil
	}
	texts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		texts = append(texts, chunk.Text)
	}
	return texts
}

func (p *Pipeline) submitLead(settings projects.Settings, session *Session, text string, marker *llm.LeadMarker) {
	if !settings.LeadGenEnabled || p.leads == nil {
		return
	}
	in := leads.MergeInput{ProjectID: session.ProjectID, SessionID: session.ID, Text: text}
	if marker != nil {
		in.Asserted = &leads.Asserted{Name: marker.Name, Email: marker.Email, Phone: marker.Phone, Country: marker.Country}
	}
	p.leads.Submit(in)
}

func (p *Pipeline) publish(eventType realtime.EventType, channel string, session *Session, payload any) {
	p.events.Publish(realtime.NewEvent(eventType, channel, session.ProjectID, session.ID, payload))
}

func toTurns(history []Message) []llm.Turn {
	turns := make([]llm.Turn, 0, len(history))
	for _, msg := range history {
		turns = append(turns, llm.Turn{Sender: msg.Sender, Content: msg.Content})
	}
	return turns
}
