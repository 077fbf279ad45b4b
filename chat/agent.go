package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/AnastRaja/chatbot-sub000/realtime"
)

const defaultAgentName = "Support agent"

type agentJoined struct {
	AgentName string   `json:"agentName"`
	Session   *Session `json:"session"`
	Message   *Message `json:"message,omitempty"`
}

type sessionSummary struct {
	Summary string `json:"summary"`
}

// OwnedSession loads a session whose project is owned by ownerID; anything else looks missing.
func (p *Pipeline) OwnedSession(ctx context.Context, ownerID uint64, sessionID string) (*Session, error) {
	session, err := p.ledger.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	project, err := p.projects.FindByID(ctx, session.ProjectID)
	if err != nil || project.OwnerID != ownerID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Takeover silences the bot for the session and tells the visitor an agent joined.
func (p *Pipeline) Takeover(ctx context.Context, sessionID string, agentID uint64, agentName string) (*Session, error) {
	agentName = strings.TrimSpace(agentName)
	if agentName == "" {
		agentName = defaultAgentName
	}

	session, err := p.ledger.Takeover(ctx, sessionID, agentID, agentName)
	if err != nil {
		return session, err
	}

	notice := &Message{
		SessionID: session.ID,
		ProjectID: session.ProjectID,
		Sender:    SenderSystem,
		Content:   fmt.Sprintf("%s joined the conversation", agentName),
	}
	if err := p.ledger.Append(ctx, notice); err != nil {
		return nil, err
	}

	payload := agentJoined{AgentName: agentName, Session: session, Message: notice}
	p.publish(realtime.EventAgentJoined, realtime.WidgetChannel(session.ID), session, payload)
	p.publish(realtime.EventAgentJoined, realtime.ChannelDashboard, session, payload)
	return session, nil
}

// Release hands the session back to the bot.
func (p *Pipeline) Release(ctx context.Context, sessionID string) (*Session, error) {
	session, err := p.ledger.Release(ctx, sessionID)
	if err != nil {
		return session, err
	}
	p.publish(realtime.EventSessionUpdated, realtime.WidgetChannel(session.ID), session, session)
	p.publish(realtime.EventSessionUpdated, realtime.ChannelDashboard, session, session)
	return session, nil
}

// SendAgentMessage delivers a human reply to the visitor. The session must be taken over.
func (p *Pipeline) SendAgentMessage(ctx context.Context, sessionID, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	session, err := p.ledger.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusActive || !session.AgentTakeover {
		return nil, ErrInvalidTransition
	}

	msg := &Message{SessionID: session.ID, ProjectID: session.ProjectID, Sender: SenderAgent, Content: text}
	if err := p.ledger.Append(ctx, msg); err != nil {
		return nil, err
	}
	p.publish(realtime.EventNewMessage, realtime.WidgetChannel(session.ID), session, msg)
	p.publish(realtime.EventNewMessage, realtime.ChannelDashboard, session, msg)
	return msg, nil
}

// EndSession closes the session and summarizes it in the background.
func (p *Pipeline) EndSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := p.ledger.End(ctx, sessionID)
	if err != nil {
		return session, err
	}
	p.publish(realtime.EventChatEnded, realtime.WidgetChannel(session.ID), session, session)
	p.publish(realtime.EventChatEnded, realtime.ChannelDashboard, session, session)

	p.background.Add(1)
	go p.summarize(session)
	return session, nil
}

// ArchiveSession removes an active session from the live queue.
func (p *Pipeline) ArchiveSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := p.ledger.Archive(ctx, sessionID)
	if err != nil {
		return session, err
	}
	p.publish(realtime.EventSessionUpdated, realtime.ChannelDashboard, session, session)
	return session, nil
}

func (p *Pipeline) summarize(session *Session) {
	defer p.background.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("chat: summary panic", "session", session.ID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	history, err := p.ledger.Messages(ctx, session.ID)
	if err != nil {
		log.Warn("chat: load transcript for summary", "session", session.ID, "err", err)
		return
	}
	summary := p.summarizer.Summarize(ctx, toTurns(history))
	if summary == "" {
		return
	}
	if err := p.ledger.SaveSummary(ctx, session.ID, summary); err != nil {
		log.Warn("chat: save summary", "session", session.ID, "err", err)
		return
	}
	p.publish(realtime.EventSessionSummary, realtime.ChannelDashboard, session, sessionSummary{Summary: summary})
}
