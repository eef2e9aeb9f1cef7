package models

import "encoding/json"

// ItemKind tags a WorkspaceItem as a page, database or block
type ItemKind string

const (
	KindPage     ItemKind = "page"
	KindDatabase ItemKind = "database"
	KindBlock    ItemKind = "block"
)

// Parent types as reported by the Notion API
const (
	ParentTypePage      = "page_id"
	ParentTypeDatabase  = "database_id"
	ParentTypeBlock     = "block_id"
	ParentTypeWorkspace = "workspace"
)

// WorkspaceItem is one page, database or block captured from Notion.
// Payload keeps the full API object as returned; Children holds nested
// blocks and Rows holds the pages of a database.
type WorkspaceItem struct {
	ID          string           `json:"id"`
	Kind        ItemKind         `json:"kind"`
	BlockType   string           `json:"blockType,omitempty"`
	ParentID    string           `json:"parentId,omitempty"`
	ParentType  string           `json:"parentType,omitempty"`
	Title       string           `json:"title,omitempty"`
	HasChildren bool             `json:"hasChildren,omitempty"`
	Payload     json.RawMessage  `json:"payload"`
	Children    []*WorkspaceItem `json:"children,omitempty"`
	Rows        []*WorkspaceItem `json:"rows,omitempty"`
}

// Walk visits the item and all of its descendants depth-first
func (i *WorkspaceItem) Walk(fn func(*WorkspaceItem)) {
	if i == nil {
		return
	}
	fn(i)
	for _, row := range i.Rows {
		row.Walk(fn)
	}
	for _, child := range i.Children {
		child.Walk(fn)
	}
}

// Count returns the number of items in the subtree rooted at i, i included
func (i *WorkspaceItem) Count() int {
	n := 0
	i.Walk(func(*WorkspaceItem) { n++ })
	return n
}

// Archive is the document written to the primary archive blob
type Archive struct {
	Version    int              `json:"version"`
	SnapshotID string           `json:"snapshotId"`
	UserID     string           `json:"userId"`
	CreatedAt  string           `json:"createdAt"`
	Items      []*WorkspaceItem `json:"items"`
}

// ArchiveVersion is the current archive document version
const ArchiveVersion = 1

// CountItems returns the number of items across the whole archive tree
func (a *Archive) CountItems() int {
	n := 0
	for _, item := range a.Items {
		n += item.Count()
	}
	return n
}

// Find returns the item with the given id anywhere in the tree
func (a *Archive) Find(id string) *WorkspaceItem {
	var found *WorkspaceItem
	for _, item := range a.Items {
		item.Walk(func(it *WorkspaceItem) {
			if found == nil && it.ID == id {
				found = it
			}
		})
		if found != nil {
			break
		}
	}
	return found
}
