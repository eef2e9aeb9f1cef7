package parser

import (
	"encoding/json"
	"strings"

	"github.com/takak2166/notionsnap/internal/logger"
	"github.com/takak2166/notionsnap/internal/models"
)

// richText is the subset of a Notion rich text object needed for plain text
type richText struct {
	PlainText string `json:"plain_text"`
	Text      *struct {
		Content string `json:"content"`
	} `json:"text,omitempty"`
}

type property struct {
	Type  string     `json:"type"`
	Title []richText `json:"title"`
}

type pagePayload struct {
	Properties map[string]property `json:"properties"`
}

type databasePayload struct {
	Title       []richText `json:"title"`
	Description []richText `json:"description"`
}

// PageTitle returns the text of a page's title property
func PageTitle(payload []byte) string {
	var p pagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		logger.Debug("Failed to parse page payload", map[string]interface{}{
			"error": err.Error(),
		})
		return ""
	}
	for _, prop := range p.Properties {
		if prop.Type == "title" {
			return joinRichText(prop.Title)
		}
	}
	return ""
}

// DatabaseTitle returns a database's title text
func DatabaseTitle(payload []byte) string {
	var d databasePayload
	if err := json.Unmarshal(payload, &d); err != nil {
		return ""
	}
	return joinRichText(d.Title)
}

// DatabaseDescription returns a database's description text
func DatabaseDescription(payload []byte) string {
	var d databasePayload
	if err := json.Unmarshal(payload, &d); err != nil {
		return ""
	}
	return joinRichText(d.Description)
}

// BlockText returns the readable text of a block payload: its rich text,
// caption, code, equation expression or child page/database title
func BlockText(blockType string, payload []byte) string {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ""
	}
	body, ok := raw[blockType]
	if !ok {
		return ""
	}

	var content struct {
		RichText   []richText `json:"rich_text"`
		Caption    []richText `json:"caption"`
		Title      string     `json:"title"`
		Expression string     `json:"expression"`
		URL        string     `json:"url"`
	}
	if err := json.Unmarshal(body, &content); err != nil {
		return ""
	}

	var parts []string
	if s := joinRichText(content.RichText); s != "" {
		parts = append(parts, s)
	}
	if s := joinRichText(content.Caption); s != "" {
		parts = append(parts, s)
	}
	if content.Title != "" {
		parts = append(parts, content.Title)
	}
	if content.Expression != "" {
		parts = append(parts, content.Expression)
	}
	if len(parts) == 0 && content.URL != "" {
		parts = append(parts, content.URL)
	}
	return strings.Join(parts, "\n")
}

// ItemName returns a short human label for an item
func ItemName(item *models.WorkspaceItem) string {
	switch item.Kind {
	case models.KindPage:
		return PageTitle(item.Payload)
	case models.KindDatabase:
		return DatabaseTitle(item.Payload)
	case models.KindBlock:
		return Truncate(BlockText(item.BlockType, item.Payload), 80)
	}
	return ""
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func joinRichText(parts []richText) string {
	var sb strings.Builder
	for _, rt := range parts {
		if rt.PlainText != "" {
			sb.WriteString(rt.PlainText)
		} else if rt.Text != nil {
			sb.WriteString(rt.Text.Content)
		}
	}
	return sb.String()
}
