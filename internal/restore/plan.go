package restore

import (
	"strings"

	"github.com/takak2166/notionsnap/internal/hasher"
	"github.com/takak2166/notionsnap/internal/models"
)

// modeSentinels are target parent values that ask for the default location
// rather than naming a page
var modeSentinels = map[string]bool{
	"new":      true,
	"new_page": true,
	"in_place": true,
	"in-place": true,
}

// destination picks the page restored items are created under
func destination(targetParent, fallback string) string {
	target := strings.TrimSpace(targetParent)
	if target != "" && !modeSentinels[strings.ToLower(target)] {
		return target
	}
	return fallback
}

// selectItems applies the target filter. A nil filter selects everything,
// an empty one selects nothing. Targets match top-level items or database
// rows; a row match carries its database with only the matching rows.
func selectItems(items []*models.WorkspaceItem, targets []string) []*models.WorkspaceItem {
	if targets == nil {
		return items
	}
	wanted := make(map[string]bool, len(targets))
	for _, t := range targets {
		wanted[hasher.NormalizeID(t)] = true
	}

	var out []*models.WorkspaceItem
	for _, item := range items {
		if wanted[hasher.NormalizeID(item.ID)] {
			out = append(out, item)
			continue
		}
		if item.Kind != models.KindDatabase {
			continue
		}
		var rows []*models.WorkspaceItem
		for _, row := range item.Rows {
			if wanted[hasher.NormalizeID(row.ID)] {
				rows = append(rows, row)
			}
		}
		if len(rows) > 0 {
			db := *item
			db.Rows = rows
			out = append(out, &db)
		}
	}
	return out
}

// units counts what progress is measured in: pages, databases and rows
func units(items []*models.WorkspaceItem) int {
	n := 0
	for _, item := range items {
		item.Walk(func(it *models.WorkspaceItem) {
			switch {
			case it.Kind == models.KindPage, it.Kind == models.KindDatabase:
				n++
			case it.Kind == models.KindBlock && it.BlockType == "child_page":
				n++
			}
		})
	}
	return n
}

// order returns items so that every item comes after the item it is nested
// under, when both are being restored. Items whose parent is not part of the
// restore keep their archive order at the front.
func order(items []*models.WorkspaceItem) []*models.WorkspaceItem {
	contained := map[string]bool{}
	owner := map[string]int{}
	for i, item := range items {
		item.Walk(func(it *models.WorkspaceItem) {
			id := hasher.NormalizeID(it.ID)
			contained[id] = true
			owner[id] = i
		})
	}

	placed := make([]bool, len(items))
	out := make([]*models.WorkspaceItem, 0, len(items))
	var visit func(i int, depth int)
	visit = func(i int, depth int) {
		if placed[i] {
			return
		}
		parent := hasher.NormalizeID(items[i].ParentID)
		if p, ok := owner[parent]; ok && contained[parent] && p != i && depth < len(items) {
			visit(p, depth+1)
		}
		if !placed[i] {
			placed[i] = true
			out = append(out, items[i])
		}
	}
	for i := range items {
		visit(i, 0)
	}
	return out
}

// flatten replaces layout containers by their children
func flatten(blocks []*models.WorkspaceItem) []*models.WorkspaceItem {
	out := make([]*models.WorkspaceItem, 0, len(blocks))
	for _, b := range blocks {
		if containerBlocks[b.BlockType] {
			out = append(out, flatten(b.Children)...)
			continue
		}
		out = append(out, b)
	}
	return out
}
