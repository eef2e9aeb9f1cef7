package diff

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/takak2166/notionsnap/internal/models"
)

// DefaultSummaryModel is used when no model is configured
const DefaultSummaryModel = openai.GPT4oMini

const summaryPrompt = "You summarize changes between two snapshots of a Notion workspace for its owner. " +
	"Write two to four plain sentences. Mention what was added, removed and meaningfully edited. " +
	"Do not invent details beyond the data given."

// OpenAISummarizer writes summaries with a chat completion model
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

// NewOpenAISummarizer returns nil when client is nil
func NewOpenAISummarizer(client *openai.Client, model string) *OpenAISummarizer {
	if client == nil {
		return nil
	}
	if model == "" {
		model = DefaultSummaryModel
	}
	return &OpenAISummarizer{client: client, model: model}
}

// Summarize implements Summarizer
func (s *OpenAISummarizer) Summarize(ctx context.Context, result *models.DiffResult, top []models.ChangedItem) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: Describe(result, top)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("chat completion returned empty content")
	}
	return text, nil
}

// Describe renders the counts and top changed items as the model input
func Describe(result *models.DiffResult, top []models.ChangedItem) string {
	var sb strings.Builder
	s := result.Summary
	fmt.Fprintf(&sb, "Added: %d\nDeleted: %d\nContent changed: %d\nCosmetic changes: %d\nMeaningful changes: %d\n",
		s.Added, s.Deleted, s.ContentHashChanged, s.SemanticallySimilar, s.SemanticallyChanged)

	if len(top) > 0 {
		sb.WriteString("\nMost significant changes:\n")
	}
	for _, c := range top {
		name := c.Name
		if name == "" {
			name = "(untitled)"
		}
		kind := string(c.Kind)
		if c.BlockType != "" {
			kind += "/" + c.BlockType
		}
		fmt.Fprintf(&sb, "- %s %q: %s", kind, name, c.Classification)
		if c.Similarity != nil {
			fmt.Fprintf(&sb, " (similarity %.2f)", *c.Similarity)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
