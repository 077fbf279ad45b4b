package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/AnastRaja/chatbot-sub000/config"
	"github.com/AnastRaja/chatbot-sub000/database/dbtest"
	"github.com/AnastRaja/chatbot-sub000/knowledge"
	"github.com/AnastRaja/chatbot-sub000/leads"
	"github.com/AnastRaja/chatbot-sub000/llm"
	"github.com/AnastRaja/chatbot-sub000/projects"
	"github.com/AnastRaja/chatbot-sub000/realtime"
)

const testFallback = "Sorry, please try again shortly."

type scriptedCompleter struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []llm.CompletionRequest
}

func (s *scriptedCompleter) Complete(_ context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return llm.Completion{}, s.err
	}
	return llm.Completion{Content: s.reply, Usage: &llm.ChatUsage{PromptTokens: 40, CompletionTokens: 12, TotalTokens: 52}}, nil
}

func (s *scriptedCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedCompleter) last() llm.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recordingBroadcaster) Publish(event realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingBroadcaster) on(channel string) []realtime.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []realtime.EventType
	for _, event := range r.events {
		if event.Channel == channel {
			types = append(types, event.Type)
		}
	}
	return types
}

type stubSearcher struct {
	chunks []knowledge.ScoredChunk
	err    error
}

func (s stubSearcher) Search(context.Context, uint64, string, int) ([]knowledge.ScoredChunk, error) {
	return s.chunks, s.err
}

type fixture struct {
	db         *gorm.DB
	projects   *projects.Store
	ledger     *Ledger
	pipeline   *Pipeline
	completer  *scriptedCompleter
	events     *recordingBroadcaster
	dispatcher *leads.Dispatcher
	project    *projects.Project
}

func newFixture(t *testing.T, search Searcher) *fixture {
	t.Helper()
	db := dbtest.Open(t, &projects.Project{}, &Session{}, &Message{}, &leads.Lead{})

	f := &fixture{
		db:        db,
		projects:  projects.NewStore(db, 5),
		ledger:    NewLedger(db, nil, config.ChatConfig{HistoryLimit: 10}),
		completer: &scriptedCompleter{reply: "Happy to help!"},
		events:    &recordingBroadcaster{},
	}
	f.dispatcher = leads.NewDispatcher(leads.NewEngine(db), config.LeadsConfig{Workers: 1, QueueSize: 32})
	t.Cleanup(f.dispatcher.Close)

	f.project = f.createProject(t, 1, "Acme Dental")
	f.pipeline = NewPipeline(Deps{
		Projects:   f.projects,
		Ledger:     f.ledger,
		Search:     search,
		Composer:   llm.NewComposer(f.completer, llm.ComposerOptions{FallbackReply: testFallback, MaxTokens: 300, Temperature: 0.3}),
		Summarizer: llm.NewSummarizer(f.completer, ""),
		Leads:      f.dispatcher,
		Events:     f.events,
	}, config.ChatConfig{HistoryLimit: 10})
	t.Cleanup(f.pipeline.Wait)
	return f
}

func (f *fixture) createProject(t *testing.T, ownerID uint64, name string) *projects.Project {
	t.Helper()
	questions := []projects.QuickQuestion{{Question: "What are your hours?", Answer: "We're open 9 to 5."}}
	project, err := f.projects.Create(context.Background(), ownerID, projects.Input{Name: &name, QuickQuestions: &questions})
	require.NoError(t, err)
	return project
}

func (f *fixture) turn(t *testing.T, sessionID, text string) *TurnResult {
	t.Helper()
	result, err := f.pipeline.HandleTurn(context.Background(), TurnRequest{ProjectSlug: f.project.Slug, SessionID: sessionID, Text: text})
	require.NoError(t, err)
	return result
}

func (f *fixture) messages(t *testing.T, sessionID, sender string) []Message {
	t.Helper()
	var list []Message
	require.NoError(t, f.db.Where("session_id = ? AND sender = ?", sessionID, sender).Order("id").Find(&list).Error)
	return list
}

func (f *fixture) leadsFor(t *testing.T, projectID uint64) []leads.Lead {
	t.Helper()
	f.dispatcher.Close()
	list, err := leads.NewStore(f.db).List(context.Background(), projectID, "")
	require.NoError(t, err)
	return list
}

var errUpstream = errors.New("upstream timeout")
