package jobs

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/takak2166/notionsnap/internal/models"
)

// ErrInvalidPayload wraps every payload validation failure
var ErrInvalidPayload = errors.New("invalid job payload")

var payloadSchemas = map[models.JobKind]string{
	models.JobSnapshot: `{
		"type": "object",
		"required": ["userId"],
		"properties": {
			"userId": {"type": "string", "minLength": 1},
			"requestedAt": {"type": "string"}
		}
	}`,
	models.JobDiff: `{
		"type": "object",
		"required": ["userId", "snapshotIdFrom", "snapshotIdTo"],
		"properties": {
			"userId": {"type": "string", "minLength": 1},
			"snapshotIdFrom": {"type": "string", "minLength": 1},
			"snapshotIdTo": {"type": "string", "minLength": 1},
			"diffJobId": {"type": "string"},
			"requestedAt": {"type": "string"}
		}
	}`,
	models.JobRestore: `{
		"type": "object",
		"required": ["userId", "snapshotId"],
		"properties": {
			"restoreId": {"type": "string"},
			"userId": {"type": "string", "minLength": 1},
			"snapshotId": {"type": "string", "minLength": 1},
			"targets": {"type": ["array", "null"], "items": {"type": "string"}},
			"targetParentPageId": {"type": ["string", "null"]},
			"requestedAt": {"type": "string"}
		}
	}`,
}

// Validator checks trigger payloads against their JSON Schema
type Validator struct {
	schemas map[models.JobKind]*jsonschema.Schema
}

// NewValidator compiles the payload schema of every job kind
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	v := &Validator{schemas: map[models.JobKind]*jsonschema.Schema{}}
	for kind, src := range payloadSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s schema: %w", kind, err)
		}
		url := string(kind) + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("failed to add %s schema: %w", kind, err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s schema: %w", kind, err)
		}
		v.schemas[kind] = sch
	}
	return v, nil
}

// Validate reports whether payload is a well-formed trigger of kind
func (v *Validator) Validate(kind models.JobKind, payload []byte) error {
	sch, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("%w: unknown job kind %q", ErrInvalidPayload, kind)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
