package events

import (
	"bytes"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema for the event_callback envelope. Validated before dispatch so
// malformed callbacks are rejected instead of half-applied.
const eventEnvelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "team_id", "event"],
	"properties": {
		"type": {"const": "event_callback"},
		"team_id": {"type": "string", "minLength": 1},
		"event": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"type": "string", "minLength": 1}
			}
		}
	}
}`

var (
	envelopeSchemaOnce sync.Once
	envelopeSchema     *jsonschema.Schema
	envelopeSchemaErr  error
)

func compiledEnvelopeSchema() (*jsonschema.Schema, error) {
	envelopeSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(eventEnvelopeSchema))
		if err != nil {
			envelopeSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("event_envelope.json", doc); err != nil {
			envelopeSchemaErr = err
			return
		}
		envelopeSchema, envelopeSchemaErr = compiler.Compile("event_envelope.json")
	})
	return envelopeSchema, envelopeSchemaErr
}

func validateEventEnvelope(body []byte) error {
	schema, err := compiledEnvelopeSchema()
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return err
	}
	return schema.Validate(instance)
}
