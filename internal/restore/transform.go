package restore

import (
	"encoding/json"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/takak2166/notionsnap/internal/logger"
	"github.com/takak2166/notionsnap/internal/models"
	"github.com/takak2166/notionsnap/internal/parser"
)

// TitleLimit bounds restored titles
const TitleLimit = 2000

// droppedProperties cannot be written through the create API or would point
// at objects from the old workspace
var droppedProperties = map[string]bool{
	"formula":          true,
	"rollup":           true,
	"created_time":     true,
	"created_by":       true,
	"last_edited_time": true,
	"last_edited_by":   true,
	"relation":         true,
	"files":            true,
	"people":           true,
	"button":           true,
	"unique_id":        true,
	"verification":     true,
}

// writableProperties are recreated with their values
var writableProperties = map[string]bool{
	"title":        true,
	"rich_text":    true,
	"number":       true,
	"select":       true,
	"multi_select": true,
	"status":       true,
	"date":         true,
	"checkbox":     true,
	"url":          true,
	"email":        true,
	"phone_number": true,
}

// schemaProperties can be declared when creating a database
var schemaProperties = map[string]bool{
	"title":        true,
	"rich_text":    true,
	"number":       true,
	"select":       true,
	"multi_select": true,
	"date":         true,
	"checkbox":     true,
	"url":          true,
	"email":        true,
	"phone_number": true,
}

// rawProperty is a page property value sent verbatim
type rawProperty struct {
	notionapi.RichTextProperty
	body map[string]interface{}
}

func (p *rawProperty) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.body)
}

// rawPropertyConfig is a database schema entry sent verbatim
type rawPropertyConfig struct {
	notionapi.RichTextPropertyConfig
	body map[string]interface{}
}

func (p *rawPropertyConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.body)
}

// rawBlock is a block creation payload sent verbatim
type rawBlock struct {
	notionapi.BasicBlock
	blockType string
	body      map[string]interface{}
}

func (b *rawBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"object":    "block",
		"type":      b.blockType,
		b.blockType: b.body,
	})
}

func newRawBlock(blockType string, body map[string]interface{}) *rawBlock {
	return &rawBlock{
		BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockType(blockType)},
		blockType:  blockType,
		body:       body,
	}
}

func decodeObject(payload []byte) map[string]interface{} {
	var obj map[string]interface{}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return map[string]interface{}{}
	}
	return obj
}

// cleanRichText keeps only what the create API accepts: text and its
// annotations. Mentions and equations become plain text.
func cleanRichText(v interface{}) []interface{} {
	parts, _ := v.([]interface{})
	out := make([]interface{}, 0, len(parts))
	for _, raw := range parts {
		rt, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		text := map[string]interface{}{}
		if t, ok := rt["text"].(map[string]interface{}); ok && rt["type"] == "text" {
			text["content"] = t["content"]
			if link, ok := t["link"].(map[string]interface{}); ok && link["url"] != nil {
				text["link"] = map[string]interface{}{"url": link["url"]}
			}
		} else {
			plain, _ := rt["plain_text"].(string)
			if plain == "" {
				continue
			}
			text["content"] = plain
		}
		if s, _ := text["content"].(string); s == "" {
			continue
		}
		part := map[string]interface{}{"type": "text", "text": text}
		if ann, ok := rt["annotations"].(map[string]interface{}); ok {
			part["annotations"] = ann
		}
		out = append(out, part)
	}
	return out
}

func plainRichText(text string) []interface{} {
	return []interface{}{map[string]interface{}{"type": "text", "text": map[string]interface{}{"content": text}}}
}

// richTextValue decodes cleaned rich text into the API type
func richTextValue(parts []interface{}) []notionapi.RichText {
	raw, err := json.Marshal(parts)
	if err != nil {
		return nil
	}
	var out []notionapi.RichText
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// titleProperties is the only property set a page under a page accepts
func titleProperties(title string) notionapi.Properties {
	title = parser.Truncate(title, TitleLimit)
	if title == "" {
		title = "Untitled"
	}
	return notionapi.Properties{
		"title": &rawProperty{body: map[string]interface{}{"title": plainRichText(title)}},
	}
}

// propertyValue maps one stored property value to its create shape. The
// second result is false when the property must be skipped.
func propertyValue(prop map[string]interface{}) (map[string]interface{}, bool) {
	typ, _ := prop["type"].(string)
	val, present := prop[typ]
	switch typ {
	case "title", "rich_text":
		return map[string]interface{}{typ: cleanRichText(val)}, true
	case "number", "checkbox", "url", "email", "phone_number":
		if !present || val == nil {
			return nil, false
		}
		return map[string]interface{}{typ: val}, true
	case "select", "status":
		opt, ok := val.(map[string]interface{})
		if !ok || opt["name"] == nil {
			return nil, false
		}
		return map[string]interface{}{typ: map[string]interface{}{"name": opt["name"]}}, true
	case "multi_select":
		opts, _ := val.([]interface{})
		names := make([]interface{}, 0, len(opts))
		for _, o := range opts {
			if m, ok := o.(map[string]interface{}); ok && m["name"] != nil {
				names = append(names, map[string]interface{}{"name": m["name"]})
			}
		}
		return map[string]interface{}{typ: names}, true
	case "date":
		d, ok := val.(map[string]interface{})
		if !ok || d["start"] == nil {
			return nil, false
		}
		out := map[string]interface{}{"start": d["start"]}
		if d["end"] != nil {
			out["end"] = d["end"]
		}
		if d["time_zone"] != nil {
			out["time_zone"] = d["time_zone"]
		}
		return map[string]interface{}{typ: out}, true
	}
	return nil, false
}

// rowProperties transforms a row's properties, keeping only names present
// in the restored schema
func rowProperties(item *models.WorkspaceItem, schema map[string]string) notionapi.Properties {
	obj := decodeObject(item.Payload)
	props, _ := obj["properties"].(map[string]interface{})
	out := notionapi.Properties{}
	for name, raw := range props {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		typ, _ := prop["type"].(string)
		if droppedProperties[typ] {
			continue
		}
		if !writableProperties[typ] {
			logger.Warn("Skipping unsupported property type", map[string]interface{}{
				"item_id":  item.ID,
				"property": name,
				"type":     typ,
			})
			continue
		}
		if schema[name] != typ {
			continue
		}
		if body, ok := propertyValue(prop); ok {
			out[name] = &rawProperty{body: body}
		}
	}
	return out
}

// databaseSchema builds the property configs of a database to create and
// returns the name-to-type map of what was kept
func databaseSchema(item *models.WorkspaceItem) (notionapi.PropertyConfigs, map[string]string) {
	obj := decodeObject(item.Payload)
	props, _ := obj["properties"].(map[string]interface{})

	configs := notionapi.PropertyConfigs{}
	kept := map[string]string{}
	hasTitle := false
	for name, raw := range props {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		typ, _ := prop["type"].(string)
		if !schemaProperties[typ] {
			if !droppedProperties[typ] && !writableProperties[typ] {
				logger.Warn("Skipping unsupported database property", map[string]interface{}{
					"database_id": item.ID,
					"property":    name,
					"type":        typ,
				})
			}
			continue
		}
		if typ == "title" {
			if hasTitle {
				continue
			}
			hasTitle = true
		}
		configs[name] = &rawPropertyConfig{body: map[string]interface{}{typ: schemaBody(typ, prop[typ])}}
		kept[name] = typ
	}
	if !hasTitle {
		configs["Name"] = &rawPropertyConfig{body: map[string]interface{}{"title": map[string]interface{}{}}}
		kept["Name"] = "title"
	}
	return configs, kept
}

func schemaBody(typ string, v interface{}) map[string]interface{} {
	cfg, _ := v.(map[string]interface{})
	switch typ {
	case "number":
		if f, ok := cfg["format"]; ok {
			return map[string]interface{}{"format": f}
		}
	case "select", "multi_select":
		opts, _ := cfg["options"].([]interface{})
		clean := make([]interface{}, 0, len(opts))
		for _, o := range opts {
			m, ok := o.(map[string]interface{})
			if !ok || m["name"] == nil {
				continue
			}
			opt := map[string]interface{}{"name": m["name"]}
			if m["color"] != nil {
				opt["color"] = m["color"]
			}
			clean = append(clean, opt)
		}
		return map[string]interface{}{"options": clean}
	}
	return map[string]interface{}{}
}

// databaseTitle returns the cleaned title of a database, never empty
func databaseTitle(item *models.WorkspaceItem) []notionapi.RichText {
	obj := decodeObject(item.Payload)
	title := cleanRichText(obj["title"])
	if len(title) == 0 {
		title = plainRichText("Untitled")
	}
	return richTextValue(title)
}

func databaseIsInline(item *models.WorkspaceItem) bool {
	inline, _ := decodeObject(item.Payload)["is_inline"].(bool)
	return inline
}

// containerBlocks are replaced by their children when restored
var containerBlocks = map[string]bool{
	"column_list":  true,
	"column":       true,
	"synced_block": true,
}

// unsupportedBlocks cannot be created through the API
var unsupportedBlocks = map[string]bool{
	"child_database": true,
	"unsupported":    true,
	"link_preview":   true,
	"template":       true,
	"table_row":      true,
}

var mediaBlocks = map[string]bool{
	"image": true,
	"video": true,
	"file":  true,
	"pdf":   true,
	"audio": true,
}

// blockBody returns the create payload of a block, or an error naming why
// the block cannot be recreated
func blockBody(item *models.WorkspaceItem) (map[string]interface{}, error) {
	if unsupportedBlocks[item.BlockType] {
		return nil, fmt.Errorf("block type %s cannot be created", item.BlockType)
	}
	obj := decodeObject(item.Payload)
	body, ok := obj[item.BlockType].(map[string]interface{})
	if !ok {
		body = map[string]interface{}{}
	}

	out := make(map[string]interface{}, len(body))
	for k, v := range body {
		if v == nil || k == "children" {
			continue
		}
		switch k {
		case "rich_text", "caption":
			out[k] = cleanRichText(v)
		default:
			out[k] = v
		}
	}

	if mediaBlocks[item.BlockType] {
		if out["type"] != "external" {
			return nil, fmt.Errorf("%s block hosted by notion cannot be copied", item.BlockType)
		}
		delete(out, "file")
	}
	if item.BlockType == "table" {
		rows := make([]interface{}, 0, len(item.Children))
		for _, row := range item.Children {
			if row.BlockType != "table_row" {
				continue
			}
			rows = append(rows, map[string]interface{}{
				"object":    "block",
				"type":      "table_row",
				"table_row": tableRow(row),
			})
		}
		out["children"] = rows
	}
	return out, nil
}

func tableRow(row *models.WorkspaceItem) map[string]interface{} {
	obj := decodeObject(row.Payload)
	body, _ := obj["table_row"].(map[string]interface{})
	cells, _ := body["cells"].([]interface{})
	clean := make([]interface{}, 0, len(cells))
	for _, c := range cells {
		clean = append(clean, cleanRichText(c))
	}
	return map[string]interface{}{"cells": clean}
}

// childPageTitle returns the title stored in a child_page block
func childPageTitle(item *models.WorkspaceItem) string {
	obj := decodeObject(item.Payload)
	body, _ := obj["child_page"].(map[string]interface{})
	title, _ := body["title"].(string)
	return title
}
