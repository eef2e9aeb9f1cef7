// Package hasher computes content addresses for Notion objects.
//
// Audit fields that change on every read (created/edited timestamps and
// editors) are removed before hashing, so two objects with the same
// structural content always hash the same.
package hasher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

var volatileFields = []string{
	"created_time",
	"last_edited_time",
	"created_by",
	"last_edited_by",
}

// EmptyHash is the hash of an empty or absent payload
var EmptyHash = sum([]byte("null"))

// Hash returns the content address of a page, database or block payload
func Hash(payload []byte) string {
	return hash(payload, "")
}

// HashRow returns the content address of a database row. A parent reference
// pointing back at the enclosing database is dropped as well.
func HashRow(payload []byte, databaseID string) string {
	return hash(payload, databaseID)
}

func hash(payload []byte, databaseID string) string {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return EmptyHash
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		// Not JSON: address the raw bytes.
		return sum(payload)
	}

	obj, ok := doc.(map[string]interface{})
	if !ok {
		return canonicalSum(doc, payload)
	}

	stripped := Strip(obj)
	if databaseID != "" && pointsAt(stripped["parent"], databaseID) {
		delete(stripped, "parent")
	}
	return canonicalSum(stripped, payload)
}

// Strip returns a shallow copy of obj without volatile audit fields. Page
// properties whose type is itself an audit field are dropped too.
func Strip(obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for _, f := range volatileFields {
		delete(out, f)
	}

	props, ok := out["properties"].(map[string]interface{})
	if !ok {
		return out
	}
	kept := make(map[string]interface{}, len(props))
	for name, raw := range props {
		if p, ok := raw.(map[string]interface{}); ok && isVolatileType(p["type"]) {
			continue
		}
		kept[name] = raw
	}
	out["properties"] = kept
	return out
}

func isVolatileType(t interface{}) bool {
	s, ok := t.(string)
	if !ok {
		return false
	}
	for _, f := range volatileFields {
		if s == f {
			return true
		}
	}
	return false
}

func pointsAt(parent interface{}, databaseID string) bool {
	p, ok := parent.(map[string]interface{})
	if !ok {
		return false
	}
	if p["type"] != "database_id" {
		return false
	}
	id, _ := p["database_id"].(string)
	return NormalizeID(id) == NormalizeID(databaseID)
}

// NormalizeID strips dashes and lowercases a Notion id so dashed and
// undashed forms compare equal
func NormalizeID(id string) string {
	return strings.ToLower(strings.ReplaceAll(id, "-", ""))
}

func canonicalSum(v interface{}, fallback []byte) string {
	// encoding/json writes map keys in sorted order, which makes this stable.
	canonical, err := json.Marshal(v)
	if err != nil {
		return sum(fallback)
	}
	return sum(canonical)
}

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
