package models

import "sort"

// HashManifestEntry is the per-item record used for change detection
type HashManifestEntry struct {
	Hash                    string   `json:"hash"`
	Kind                    ItemKind `json:"kind"`
	BlockType               string   `json:"blockType,omitempty"`
	Name                    string   `json:"name,omitempty"`
	ParentID                string   `json:"parentId,omitempty"`
	HasTitleEmbedding       bool     `json:"hasTitleEmbedding"`
	HasDescriptionEmbedding bool     `json:"hasDescriptionEmbedding"`
	TotalChunks             int      `json:"totalChunks"`
}

// Manifest maps item id to its manifest entry
type Manifest map[string]HashManifestEntry

// IDs returns the manifest keys in sorted order
func (m Manifest) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
