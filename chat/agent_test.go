package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnastRaja/chatbot-sub000/realtime"
)

func TestTakeoverSilencesBot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := f.turn(t, "", "Can I talk to a human?")
	calls := f.completer.calls()

	session, err := f.pipeline.Takeover(ctx, first.SessionID, 7, "Dana")
	require.NoError(t, err)
	assert.True(t, session.AgentTakeover)
	assert.Equal(t, "Dana", session.AgentName)
	require.NotNil(t, session.AgentID)
	assert.Equal(t, uint64(7), *session.AgentID)

	widget := realtime.WidgetChannel(first.SessionID)
	assert.Equal(t, []realtime.EventType{realtime.EventAgentJoined}, f.events.on(widget))
	notices := f.messages(t, first.SessionID, SenderSystem)
	require.Len(t, notices, 1)
	assert.Equal(t, "Dana joined the conversation", notices[0].Content)

	result := f.turn(t, first.SessionID, "Hello? My number is 555-123-4567")
	assert.True(t, result.AgentActive)
	assert.Empty(t, result.Reply)
	assert.Equal(t, calls, f.completer.calls())
	assert.Len(t, f.messages(t, first.SessionID, SenderBot), 1)

	msg, err := f.pipeline.SendAgentMessage(ctx, first.SessionID, "Hi, Dana here.")
	require.NoError(t, err)
	assert.Equal(t, SenderAgent, msg.Sender)
	assert.Equal(t, []realtime.EventType{realtime.EventAgentJoined, realtime.EventNewMessage}, f.events.on(widget))

	_, err = f.pipeline.Release(ctx, first.SessionID)
	require.NoError(t, err)
	result = f.turn(t, first.SessionID, "Thanks, bye")
	assert.False(t, result.AgentActive)
	assert.Equal(t, "Happy to help!", result.Reply)

	found := f.leadsFor(t, f.project.ID)
	require.Len(t, found, 1)
	assert.Equal(t, []string{"555-123-4567"}, found[0].Contact().Phones)
}

func TestTakeoverDefaultsAgentName(t *testing.T) {
	f := newFixture(t, nil)
	first := f.turn(t, "", "hi")

	session, err := f.pipeline.Takeover(context.Background(), first.SessionID, 1, "  ")
	require.NoError(t, err)
	assert.Equal(t, defaultAgentName, session.AgentName)
}

func TestAgentMessageRequiresTakeover(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := f.turn(t, "", "hi")

	_, err := f.pipeline.SendAgentMessage(ctx, first.SessionID, "hello")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.pipeline.Release(ctx, first.SessionID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.pipeline.SendAgentMessage(ctx, "missing", "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEndSessionSummarizesAndClosesResume(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := f.turn(t, "", "What are your prices?")

	f.completer.reply = "Visitor asked about prices."
	session, err := f.pipeline.EndSession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, session.Status)
	assert.NotNil(t, session.EndedAt)
	f.pipeline.Wait()

	stored, err := f.ledger.Get(ctx, first.SessionID)
	require.NoError(t, err)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, "Visitor asked about prices.", *stored.Summary)

	dashboard := f.events.on(realtime.ChannelDashboard)
	assert.Contains(t, dashboard, realtime.EventChatEnded)
	assert.Equal(t, realtime.EventSessionSummary, dashboard[len(dashboard)-1])
	assert.Equal(t, []realtime.EventType{realtime.EventChatEnded}, f.events.on(realtime.WidgetChannel(first.SessionID)))

	_, err = f.pipeline.EndSession(ctx, first.SessionID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.pipeline.ArchiveSession(ctx, first.SessionID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.completer.reply = "Welcome back!"
	next := f.turn(t, first.SessionID, "Hello again")
	assert.True(t, next.SessionCreated)
	assert.NotEqual(t, first.SessionID, next.SessionID)
}

func TestArchiveSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := f.turn(t, "", "hi")

	session, err := f.pipeline.ArchiveSession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, session.Status)

	_, err = f.pipeline.Takeover(ctx, first.SessionID, 1, "Dana")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.pipeline.EndSession(ctx, first.SessionID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOwnedSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := f.turn(t, "", "hi")

	session, err := f.pipeline.OwnedSession(ctx, 1, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, session.ID)

	_, err = f.pipeline.OwnedSession(ctx, 2, first.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
