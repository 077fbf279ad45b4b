package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	senderBot        = "bot"
	knowledgeDivider = "\n\n---\n\n"
	pageContentLimit = 2000
)

// Business is the per-project input the prompt is grounded on.
type Business struct {
	Name         string
	Context      json.RawMessage
	AgentName    string
	Tone         string
	SystemPrompt string
	LeadCapture  bool
	Model        string
}

// Turn is a stored message as the composer sees it.
type Turn struct {
	Sender  string
	Content string
}

// PageContext describes the page the widget is embedded on.
type PageContext struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

func (p *PageContext) empty() bool {
	return p == nil || (strings.TrimSpace(p.Title) == "" && strings.TrimSpace(p.URL) == "" && strings.TrimSpace(p.Content) == "")
}

// ComposeInput carries everything one reply depends on. History is oldest first
// and already ends with the visitor's latest message.
type ComposeInput struct {
	Business Business
	History  []Turn
	Chunks   []string
	Page     *PageContext
}

// Reply is the raw model output, or the fallback text when the call failed.
type Reply struct {
	Text     string
	Usage    *ChatUsage
	Fallback bool
}

type ComposerOptions struct {
	FallbackReply string
	MaxTokens     int
	Temperature   float64
}

// Composer turns project data, retrieved context and history into a model call.
type Composer struct {
	client      Completer
	fallback    string
	maxTokens   int
	temperature float64
}

func NewComposer(client Completer, opts ComposerOptions) *Composer {
	fallback := strings.TrimSpace(opts.FallbackReply)
	if fallback == "" {
		fallback = "I'm having trouble connecting right now. Please try again in a moment."
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &Composer{
		client:      client,
		fallback:    fallback,
		maxTokens:   maxTokens,
		temperature: opts.Temperature,
	}
}

// FallbackReply is the text persisted when the model cannot be reached.
func (c *Composer) FallbackReply() string {
	return c.fallback
}

// Reply never fails: any model error becomes the fallback reply.
func (c *Composer) Reply(ctx context.Context, input ComposeInput) Reply {
	if c.client == nil {
		log.Warn("llm: no completion client configured, using fallback reply")
		return Reply{Text: c.fallback, Fallback: true}
	}

	temperature := c.temperature
	result, err := c.client.Complete(ctx, CompletionRequest{
		Messages:    c.BuildMessages(input),
		Model:       input.Business.Model,
		MaxTokens:   c.maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		log.Warn("llm: completion failed, using fallback reply", "business", input.Business.Name, "err", err)
		return Reply{Text: c.fallback, Fallback: true}
	}
	if strings.TrimSpace(result.Content) == "" {
		log.Warn("llm: empty completion, using fallback reply", "business", input.Business.Name)
		return Reply{Text: c.fallback, Usage: result.Usage, Fallback: true}
	}
	return Reply{Text: result.Content, Usage: result.Usage}
}

// BuildMessages returns the system instruction followed by the role-mapped history.
func (c *Composer) BuildMessages(input ComposeInput) []ChatMessage {
	messages := make([]ChatMessage, 0, len(input.History)+1)
	messages = append(messages, ChatMessage{Role: RoleSystem, Content: buildSystemPrompt(input)})

	for _, turn := range input.History {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		role := RoleUser
		if turn.Sender == senderBot {
			role = RoleAssistant
		}
		messages = append(messages, ChatMessage{Role: role, Content: content})
	}
	return messages
}

func buildSystemPrompt(input ComposeInput) string {
	business := input.Business
	name := strings.TrimSpace(business.Name)
	if name == "" {
		name = "this business"
	}
	agent := strings.TrimSpace(business.AgentName)
	if agent == "" {
		agent = name
	}

	var parts []string
	if custom := strings.TrimSpace(business.SystemPrompt); custom != "" {
		parts = append(parts, custom)
	} else {
		parts = append(parts,
			fmt.Sprintf("You are %s, the customer support assistant for %s. %s", agent, name, toneInstruction(business.Tone)),
			"Answer only from the business information, knowledge base and webpage provided below. "+
				"If the answer is not there, say you are not sure and offer to connect the visitor with the team. "+
				"Never invent prices, policies, contact details or facts.",
			"Keep replies short: two to four sentences unless the visitor asks for detail.",
		)
	}

	parts = append(parts, "BUSINESS INFORMATION:\n"+formatBusinessContext(business.Context))

	var chunks []string
	for _, chunk := range input.Chunks {
		if trimmed := strings.TrimSpace(chunk); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}
	if len(chunks) > 0 {
		parts = append(parts, "KNOWLEDGE BASE:\n"+strings.Join(chunks, knowledgeDivider))
	}

	if !input.Page.empty() {
		var page strings.Builder
		page.WriteString("CURRENT WEBPAGE:\n")
		if title := strings.TrimSpace(input.Page.Title); title != "" {
			page.WriteString("Title: " + title + "\n")
		}
		if url := strings.TrimSpace(input.Page.URL); url != "" {
			page.WriteString("URL: " + url + "\n")
		}
		if content := strings.TrimSpace(input.Page.Content); content != "" {
			page.WriteString("Content: " + truncateString(content, pageContentLimit) + "\n")
		}
		parts = append(parts, strings.TrimRight(page.String(), "\n"))
	}

	if business.LeadCapture {
		parts = append(parts, leadMarkerInstruction)
	}

	return strings.Join(parts, "\n\n")
}

const leadMarkerInstruction = "LEAD CAPTURE:\n" +
	"Only when the visitor has explicitly given contact details in this conversation (name, email, phone or country), " +
	"end your reply with exactly one marker in this form:\n" +
	`[[LEAD_DATA: {"name": "...", "email": "...", "phone": "...", "country": "..."}]]` + "\n" +
	"Include only the fields the visitor provided, as valid JSON. Never mention or explain the marker. " +
	"If no contact details were given, do not add it."

func toneInstruction(tone string) string {
	switch strings.ToLower(strings.TrimSpace(tone)) {
	case "professional":
		return "Use a professional, precise tone."
	case "casual":
		return "Use a relaxed, casual tone."
	case "formal":
		return "Use a formal, courteous tone."
	default:
		return "Use a warm, friendly tone."
	}
}

func formatBusinessContext(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "{}"
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return trimmed
	}
	pretty, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return trimmed
	}
	return string(pretty)
}

func truncateString(value string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
