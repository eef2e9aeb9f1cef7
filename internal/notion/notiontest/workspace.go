// Package notiontest serves an in-memory Notion workspace over the REST API
// shapes the real client expects, for use in tests.
package notiontest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/takak2166/notionsnap/internal/notion"
)

const timestamp = "2024-03-01T10:00:00.000Z"

// Created records one object created through the API
type Created struct {
	Kind     string
	ID       string
	ParentID string
	Body     map[string]interface{}
}

// Workspace is a fake Notion workspace
type Workspace struct {
	mu sync.Mutex

	search   []map[string]interface{}
	objects  map[string]map[string]interface{}
	children map[string][]map[string]interface{}
	rows     map[string][]map[string]interface{}

	failChildren map[string]int
	failCreate   func(kind string, body map[string]interface{}) int

	created  []Created
	requests int
	seq      int
	pageSize int
	editedAt string
}

// New returns an empty workspace
func New() *Workspace {
	return &Workspace{
		objects:      map[string]map[string]interface{}{},
		children:     map[string][]map[string]interface{}{},
		rows:         map[string][]map[string]interface{}{},
		failChildren: map[string]int{},
		pageSize:     100,
		editedAt:     timestamp,
	}
}

// SetPageSize caps list responses to force pagination
func (w *Workspace) SetPageSize(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pageSize = n
}

// Touch changes every last_edited_time without changing content
func (w *Workspace) Touch(ts string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.editedAt = ts
}

// PageParent returns a page_id parent
func PageParent(id string) map[string]interface{} {
	return map[string]interface{}{"type": "page_id", "page_id": id}
}

// DatabaseParent returns a database_id parent
func DatabaseParent(id string) map[string]interface{} {
	return map[string]interface{}{"type": "database_id", "database_id": id}
}

// BlockParent returns a block_id parent
func BlockParent(id string) map[string]interface{} {
	return map[string]interface{}{"type": "block_id", "block_id": id}
}

// WorkspaceParent returns the workspace parent
func WorkspaceParent() map[string]interface{} {
	return map[string]interface{}{"type": "workspace", "workspace": true}
}

// RichText builds a plain text rich text array
func RichText(text string) []interface{} {
	return []interface{}{
		map[string]interface{}{
			"type":        "text",
			"text":        map[string]interface{}{"content": text},
			"annotations": map[string]interface{}{"bold": false, "italic": false, "strikethrough": false, "underline": false, "code": false, "color": "default"},
			"plain_text":  text,
		},
	}
}

// AddPage adds a page visible to search
func (w *Workspace) AddPage(id, title string, parent map[string]interface{}) map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	page := map[string]interface{}{
		"object": "page",
		"id":     id,
		"parent": parent,
		"properties": map[string]interface{}{
			"title": map[string]interface{}{"id": "title", "type": "title", "title": RichText(title)},
		},
		"archived": false,
		"url":      "https://www.notion.so/" + id,
	}
	w.objects[id] = page
	w.search = append(w.search, page)
	return page
}

// AddDatabase adds a database visible to search with a Name/Status/Score schema
func (w *Workspace) AddDatabase(id, title, description string, parent map[string]interface{}) map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	db := map[string]interface{}{
		"object":      "database",
		"id":          id,
		"parent":      parent,
		"title":       RichText(title),
		"description": RichText(description),
		"is_inline":   false,
		"archived":    false,
		"url":         "https://www.notion.so/" + id,
		"properties": map[string]interface{}{
			"Name":  map[string]interface{}{"id": "title", "name": "Name", "type": "title", "title": map[string]interface{}{}},
			"Score": map[string]interface{}{"id": "sc", "name": "Score", "type": "number", "number": map[string]interface{}{"format": "number"}},
			"Tag": map[string]interface{}{"id": "tg", "name": "Tag", "type": "select", "select": map[string]interface{}{
				"options": []interface{}{map[string]interface{}{"id": "o1", "name": "urgent", "color": "red"}},
			}},
			"Owner": map[string]interface{}{"id": "ow", "name": "Owner", "type": "people", "people": map[string]interface{}{}},
		},
	}
	w.objects[id] = db
	w.search = append(w.search, db)
	return db
}

// AddRow adds a page inside a database. Rows are visible to search too, as in Notion.
func (w *Workspace) AddRow(databaseID, id, title string, score float64) map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	row := map[string]interface{}{
		"object": "page",
		"id":     id,
		"parent": DatabaseParent(databaseID),
		"properties": map[string]interface{}{
			"Name":  map[string]interface{}{"id": "title", "type": "title", "title": RichText(title)},
			"Score": map[string]interface{}{"id": "sc", "type": "number", "number": score},
			"Tag":   map[string]interface{}{"id": "tg", "type": "select", "select": map[string]interface{}{"id": "o1", "name": "urgent", "color": "red"}},
			"Owner": map[string]interface{}{"id": "ow", "type": "people", "people": []interface{}{}},
			"Formula": map[string]interface{}{"id": "fx", "type": "formula", "formula": map[string]interface{}{
				"type": "number", "number": score * 2,
			}},
		},
		"archived": false,
		"url":      "https://www.notion.so/" + id,
	}
	w.objects[id] = row
	w.rows[databaseID] = append(w.rows[databaseID], row)
	w.search = append(w.search, row)
	return row
}

// AddBlock adds a block with rich text under parentID
func (w *Workspace) AddBlock(parentID, id, blockType, text string) map[string]interface{} {
	body := map[string]interface{}{"rich_text": RichText(text), "color": "default"}
	return w.AddRawBlock(parentID, id, blockType, body)
}

// AddRawBlock adds a block with an explicit type payload under parentID
func (w *Workspace) AddRawBlock(parentID, id, blockType string, body map[string]interface{}) map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	parent := PageParent(parentID)
	if p, ok := w.objects[parentID]; ok && p["object"] == "block" {
		parent = BlockParent(parentID)
		p["has_children"] = true
	}
	block := map[string]interface{}{
		"object":       "block",
		"id":           id,
		"type":         blockType,
		"parent":       parent,
		"has_children": false,
		"archived":     false,
		blockType:      body,
	}
	w.objects[id] = block
	w.children[parentID] = append(w.children[parentID], block)
	return block
}

// FailChildren makes listing id's children answer with status
func (w *Workspace) FailChildren(id string, status int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failChildren[id] = status
}

// FailCreate installs a hook returning a non-zero HTTP status to reject a create
func (w *Workspace) FailCreate(fn func(kind string, body map[string]interface{}) int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failCreate = fn
}

// Created returns every object created so far, in order
func (w *Workspace) Created() []Created {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Created, len(w.created))
	copy(out, w.created)
	return out
}

// CreatedOfKind filters Created by kind
func (w *Workspace) CreatedOfKind(kind string) []Created {
	var out []Created
	for _, c := range w.Created() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Requests returns how many API requests were served
func (w *Workspace) Requests() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests
}

// Client returns a NotionClient whose requests are served by w
func (w *Workspace) Client() notion.NotionClient {
	return notion.NewAPIClientWithHTTP("test-token", &http.Client{Transport: handlerTransport{h: w.Handler()}})
}

// Handler exposes the fake REST API
func (w *Workspace) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			w.mu.Lock()
			w.requests++
			w.mu.Unlock()
			next.ServeHTTP(rw, req)
		})
	})
	r.Post("/v1/search", w.handleSearch)
	r.Get("/v1/blocks/{id}/children", w.handleChildren)
	r.Patch("/v1/blocks/{id}/children", w.handleAppend)
	r.Post("/v1/databases/{id}/query", w.handleQuery)
	r.Post("/v1/pages", w.handleCreatePage)
	r.Post("/v1/databases", w.handleCreateDatabase)
	return r
}

type handlerTransport struct {
	h http.Handler
}

func (t handlerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	t.h.ServeHTTP(rec, r)
	return rec.Result(), nil
}

func (w *Workspace) stamp(obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(obj)+4)
	for k, v := range obj {
		out[k] = v
	}
	out["created_time"] = timestamp
	out["last_edited_time"] = w.editedAt
	out["created_by"] = map[string]interface{}{"object": "user", "id": "user-1"}
	out["last_edited_by"] = map[string]interface{}{"object": "user", "id": "user-1"}
	return out
}

func (w *Workspace) page(items []map[string]interface{}, cursor string) ([]interface{}, string, bool) {
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	end := start + w.pageSize
	if end > len(items) {
		end = len(items)
	}
	out := make([]interface{}, 0, end-start)
	for _, it := range items[start:end] {
		out = append(out, w.stamp(it))
	}
	if end < len(items) {
		return out, strconv.Itoa(end), true
	}
	return out, "", false
}

func list(results []interface{}, next string, more bool) map[string]interface{} {
	resp := map[string]interface{}{
		"object":   "list",
		"results":  results,
		"has_more": more,
	}
	if more {
		resp["next_cursor"] = next
	} else {
		resp["next_cursor"] = nil
	}
	return resp
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int) {
	writeJSON(rw, status, map[string]interface{}{
		"object":  "error",
		"status":  status,
		"code":    http.StatusText(status),
		"message": fmt.Sprintf("fake notion error %d", status),
	})
}

func (w *Workspace) handleSearch(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		StartCursor string `json:"start_cursor"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	w.mu.Lock()
	defer w.mu.Unlock()
	results, next, more := w.page(w.search, body.StartCursor)
	writeJSON(rw, http.StatusOK, list(results, next, more))
}

func (w *Workspace) handleChildren(rw http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	w.mu.Lock()
	defer w.mu.Unlock()
	if status, ok := w.failChildren[id]; ok {
		writeError(rw, status)
		return
	}
	results, next, more := w.page(w.children[id], r.URL.Query().Get("start_cursor"))
	writeJSON(rw, http.StatusOK, list(results, next, more))
}

func (w *Workspace) handleQuery(rw http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		StartCursor string `json:"start_cursor"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	w.mu.Lock()
	defer w.mu.Unlock()
	results, next, more := w.page(w.rows[id], body.StartCursor)
	writeJSON(rw, http.StatusOK, list(results, next, more))
}

func (w *Workspace) nextID(prefix string) string {
	w.seq++
	return fmt.Sprintf("%s-%d", prefix, w.seq)
}

func parentID(parent interface{}) string {
	p, ok := parent.(map[string]interface{})
	if !ok {
		return ""
	}
	for _, key := range []string{"page_id", "database_id", "block_id"} {
		if id, ok := p[key].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

func (w *Workspace) rejected(kind string, body map[string]interface{}) int {
	if w.failCreate == nil {
		return 0
	}
	return w.failCreate(kind, body)
}

func (w *Workspace) handleCreatePage(rw http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(rw, http.StatusBadRequest)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if status := w.rejected("page", body); status != 0 {
		writeError(rw, status)
		return
	}
	id := w.nextID("new-page")
	w.created = append(w.created, Created{Kind: "page", ID: id, ParentID: parentID(body["parent"]), Body: body})
	page := map[string]interface{}{
		"object":     "page",
		"id":         id,
		"parent":     body["parent"],
		"properties": map[string]interface{}{},
		"archived":   false,
	}
	w.objects[id] = page
	writeJSON(rw, http.StatusOK, w.stamp(page))
}

func (w *Workspace) handleCreateDatabase(rw http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(rw, http.StatusBadRequest)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if status := w.rejected("database", body); status != 0 {
		writeError(rw, status)
		return
	}
	id := w.nextID("new-db")
	w.created = append(w.created, Created{Kind: "database", ID: id, ParentID: parentID(body["parent"]), Body: body})
	db := map[string]interface{}{
		"object":     "database",
		"id":         id,
		"parent":     body["parent"],
		"title":      body["title"],
		"properties": map[string]interface{}{},
		"archived":   false,
	}
	w.objects[id] = db
	writeJSON(rw, http.StatusOK, w.stamp(db))
}

func (w *Workspace) handleAppend(rw http.ResponseWriter, r *http.Request) {
	parent := chi.URLParam(r, "id")
	var body struct {
		Children []map[string]interface{} `json:"children"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(rw, http.StatusBadRequest)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, child := range body.Children {
		if status := w.rejected("block", child); status != 0 {
			writeError(rw, status)
			return
		}
	}
	results := make([]interface{}, 0, len(body.Children))
	for _, child := range body.Children {
		id := w.nextID("new-block")
		w.created = append(w.created, Created{Kind: "block", ID: id, ParentID: parent, Body: child})
		block := map[string]interface{}{}
		for k, v := range child {
			block[k] = v
		}
		// nested children are accepted but never echoed back
		hasChildren := false
		if body, ok := block[fmt.Sprint(child["type"])].(map[string]interface{}); ok {
			if kids, ok := body["children"].([]interface{}); ok && len(kids) > 0 {
				hasChildren = true
				trimmed := map[string]interface{}{}
				for k, v := range body {
					if k != "children" {
						trimmed[k] = v
					}
				}
				block[fmt.Sprint(child["type"])] = trimmed
			}
		}
		block["object"] = "block"
		block["id"] = id
		block["has_children"] = hasChildren
		block["archived"] = false
		w.objects[id] = block
		w.children[parent] = append(w.children[parent], block)
		results = append(results, w.stamp(block))
	}
	writeJSON(rw, http.StatusOK, map[string]interface{}{"object": "list", "results": results})
}
