package parser

import (
	"testing"

	"github.com/takak2166/notionsnap/internal/models"
)

func TestPageTitle(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected string
	}{
		{
			name: "Title property",
			payload: `{"properties": {
				"Name": {"type": "title", "title": [{"plain_text": "Meeting "}, {"plain_text": "notes"}]},
				"Tags": {"type": "multi_select", "multi_select": []}
			}}`,
			expected: "Meeting notes",
		},
		{
			name:     "Text content fallback",
			payload:  `{"properties": {"title": {"type": "title", "title": [{"text": {"content": "Draft"}}]}}}`,
			expected: "Draft",
		},
		{
			name:     "No title",
			payload:  `{"properties": {}}`,
			expected: "",
		},
		{
			name:     "Invalid JSON",
			payload:  `{`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PageTitle([]byte(tt.payload)); got != tt.expected {
				t.Errorf("PageTitle() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDatabaseTitleAndDescription(t *testing.T) {
	payload := []byte(`{
		"title": [{"plain_text": "Tasks"}],
		"description": [{"plain_text": "Everything we "}, {"plain_text": "track"}]
	}`)

	if got := DatabaseTitle(payload); got != "Tasks" {
		t.Errorf("DatabaseTitle() = %q, want %q", got, "Tasks")
	}
	if got := DatabaseDescription(payload); got != "Everything we track" {
		t.Errorf("DatabaseDescription() = %q, want %q", got, "Everything we track")
	}
}

func TestBlockText(t *testing.T) {
	tests := []struct {
		name      string
		blockType string
		payload   string
		expected  string
	}{
		{
			name:      "Paragraph",
			blockType: "paragraph",
			payload:   `{"type": "paragraph", "paragraph": {"rich_text": [{"plain_text": "Hello"}]}}`,
			expected:  "Hello",
		},
		{
			name:      "Image caption",
			blockType: "image",
			payload:   `{"type": "image", "image": {"caption": [{"plain_text": "A cat"}], "type": "external"}}`,
			expected:  "A cat",
		},
		{
			name:      "Child page",
			blockType: "child_page",
			payload:   `{"type": "child_page", "child_page": {"title": "Sub page"}}`,
			expected:  "Sub page",
		},
		{
			name:      "Equation",
			blockType: "equation",
			payload:   `{"type": "equation", "equation": {"expression": "e=mc^2"}}`,
			expected:  "e=mc^2",
		},
		{
			name:      "Bookmark",
			blockType: "bookmark",
			payload:   `{"type": "bookmark", "bookmark": {"url": "https://example.com", "caption": []}}`,
			expected:  "https://example.com",
		},
		{
			name:      "Divider",
			blockType: "divider",
			payload:   `{"type": "divider", "divider": {}}`,
			expected:  "",
		},
		{
			name:      "Mismatched type",
			blockType: "heading_1",
			payload:   `{"type": "paragraph", "paragraph": {"rich_text": [{"plain_text": "x"}]}}`,
			expected:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BlockText(tt.blockType, []byte(tt.payload)); got != tt.expected {
				t.Errorf("BlockText() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestItemName(t *testing.T) {
	block := &models.WorkspaceItem{
		Kind:      models.KindBlock,
		BlockType: "paragraph",
		Payload:   []byte(`{"type": "paragraph", "paragraph": {"rich_text": [{"plain_text": "Short"}]}}`),
	}
	if got := ItemName(block); got != "Short" {
		t.Errorf("ItemName() = %q, want %q", got, "Short")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo wörld", 5); got != "héllo" {
		t.Errorf("Truncate() = %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Errorf("Truncate() = %q", got)
	}
	if got := Truncate("abc", 0); got != "" {
		t.Errorf("Truncate() = %q", got)
	}
}
