// Package validation checks job input payloads against per-job-type JSON
// schemas before any credits are reserved.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pixelmuse/backend/internal/models"
)

// ErrValidation wraps schema violations so handlers can map them to 422.
var ErrValidation = errors.New("input validation failed")

var inputSchemas = map[string]string{
	models.JobTypeModelCreation: `{
		"type": "object",
		"required": ["referenceModelId", "name", "prompt"],
		"properties": {
			"referenceModelId": {"type": "integer", "minimum": 1},
			"name": {"type": "string", "minLength": 1, "maxLength": 100},
			"prompt": {"type": "string", "minLength": 1},
			"triggerWord": {"type": "string"},
			"trainingImages": {"type": "array", "items": {"type": "string"}, "maxItems": 50},
			"trainingSteps": {"type": "integer", "minimum": 1}
		}
	}`,
	models.JobTypeModelRefinement: `{
		"type": "object",
		"required": ["customModelId", "refinementPrompt"],
		"properties": {
			"customModelId": {"type": "integer", "minimum": 1},
			"refinementPrompt": {"type": "string", "minLength": 1},
			"refinementIteration": {"type": "integer", "minimum": 1},
			"additionalImages": {"type": "array", "items": {"type": "string"}, "maxItems": 50}
		}
	}`,
	models.JobTypeImageGeneration: `{
		"type": "object",
		"required": ["prompt"],
		"properties": {
			"customModelId": {"type": "integer", "minimum": 1},
			"prompt": {"type": "string", "minLength": 1},
			"resolution": {"enum": ["512x512", "1024x1024", "1536x1536"]},
			"quality": {"enum": ["normal", "hd"]},
			"numImages": {"type": "integer", "minimum": 1, "maximum": 10},
			"seed": {"type": "integer"}
		}
	}`,
}

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// New compiles the built-in per-job-type input schemas.
func New() (*Validator, error) {
	compiled := make(map[string]*jsonschema.Schema, len(inputSchemas))
	for jobType, raw := range inputSchemas {
		c := jsonschema.NewCompiler()
		url := jobType + ".schema.json"
		if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", jobType, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", jobType, err)
		}
		compiled[jobType] = s
	}
	return &Validator{schemas: compiled}, nil
}

// ValidateInput checks a job's input payload against its job-type schema.
// Violations wrap ErrValidation.
func (v *Validator) ValidateInput(jobType string, payload json.RawMessage) error {
	schema, ok := v.schemas[jobType]
	if !ok {
		return fmt.Errorf("no schema for job type %q", jobType)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
