package llm

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	summaryPrompt = "Summarize this customer support chat in two or three sentences for the business owner. " +
		"Mention what the visitor wanted, whether it was resolved, and any contact details they shared."
	summaryMaxChars    = 1000
	fallbackTurnsShown = 10
)

// Summarizer writes the short recap shown on the dashboard when a chat ends.
type Summarizer struct {
	client Completer
	model  string
}

func NewSummarizer(client Completer, model string) *Summarizer {
	return &Summarizer{client: client, model: strings.TrimSpace(model)}
}

// Summarize returns a model summary of history, or a transcript excerpt when the model fails.
func (s *Summarizer) Summarize(ctx context.Context, history []Turn) string {
	transcript := buildTranscript(history)
	if transcript == "" {
		return ""
	}
	if s == nil || s.client == nil {
		return fallbackSummary(transcript)
	}

	result, err := s.client.Complete(ctx, CompletionRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: summaryPrompt},
			{Role: RoleUser, Content: transcript},
		},
		Model: s.model,
	})
	if err != nil {
		log.Warn("llm: summary failed, using transcript excerpt", "err", err)
		return fallbackSummary(transcript)
	}

	summary := strings.TrimSpace(result.Content)
	if summary == "" {
		return fallbackSummary(transcript)
	}
	return truncateString(summary, summaryMaxChars)
}

func buildTranscript(history []Turn) string {
	var builder strings.Builder
	for _, turn := range history {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		role := strings.ToUpper(strings.TrimSpace(turn.Sender))
		if role == "" {
			role = "UNKNOWN"
		}
		builder.WriteString(role)
		builder.WriteString(": ")
		builder.WriteString(content)
		builder.WriteRune('\n')
	}
	return strings.TrimSpace(builder.String())
}

func fallbackSummary(transcript string) string {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return ""
	}
	lines := strings.Split(transcript, "\n")
	if len(lines) > fallbackTurnsShown {
		lines = lines[len(lines)-fallbackTurnsShown:]
	}
	return truncateString(strings.Join(lines, " \n"), summaryMaxChars)
}
